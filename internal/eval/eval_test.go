package eval

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/helix90/wilddoc/internal/script"
	"github.com/helix90/wilddoc/internal/script/varengine"
	"github.com/helix90/wilddoc/internal/store"
	"github.com/helix90/wilddoc/internal/store/memstore"
	"github.com/helix90/wilddoc/internal/varstack"
)

func testConfig() Config {
	return Config{
		Store: memstore.New(),
		Scripts: func(_ *varstack.Stack) (*script.Registry, func()) {
			reg := script.NewRegistry()
			reg.Register(varengine.New())
			return reg, func() {}
		},
	}
}

func runTemplate(t *testing.T, tmpl string) string {
	t.Helper()
	body, _, err := Run(context.Background(), testConfig(), []byte(tmpl), nil)
	require.NoError(t, err)
	return string(body)
}

func TestScenarioUpdateThenRead(t *testing.T) {
	tmpl := `<wd:session name="s"><wd:update commit="true"><collection name="p"><field name="n">A</field></collection></wd:update></wd:session><wd:search collection="p"><result var="r"><wd:for var="row" in:var="r.rows"><wd:record var="x" collection="p" row:var="row.row"><wd:print value:var="x.field.n"/></wd:record></wd:for></result></wd:search>`
	require.Equal(t, "A", runTemplate(t, tmpl))
}

func TestScenarioForOverObjectWithKey(t *testing.T) {
	tmpl := `<wd:for var="v" key="k" in="{&quot;x&quot;:1,&quot;y&quot;:2}"><wd:print value:var="k"/>=<wd:print value:var="v"/>;</wd:for>`
	require.Equal(t, "x=1;y=2;", runTemplate(t, tmpl))
}

func TestScenarioCaseWhenElse(t *testing.T) {
	tmpl := `<wd:case value="2"><wd:when value="1">A</wd:when><wd:when value="2">B</wd:when><wd:else>C</wd:else></wd:case>`
	require.Equal(t, "B", runTemplate(t, tmpl))
}

func TestScenarioSessionClearOnClose(t *testing.T) {
	cfg := testConfig()
	ctx := context.Background()

	tmpl := `<wd:session name="t" clear_on_close="true"><wd:update without_session="false" commit="false"><collection name="p"><field name="n">gone</field></collection></wd:update></wd:session>`
	_, _, err := Run(ctx, cfg, []byte(tmpl), nil)
	require.NoError(t, err)

	res, ok, err := cfg.Store.Search(ctx, "", store.Query{Collection: "p", Activity: "all"})
	require.NoError(t, err)
	if ok {
		require.Empty(t, res.Rows())
	}
}

func TestScenarioDependCycleRejected(t *testing.T) {
	tmpl := `<wd:update><collection name="p"><field name="n">A</field><depend key="k" collection="p" row="0"/></collection></wd:update>`
	body, _, err := Run(context.Background(), testConfig(), []byte(tmpl), nil)
	require.Error(t, err)
	require.IsType(t, &DependError{}, err)
	require.Empty(t, body)
}

func TestScenarioSortByJoinLength(t *testing.T) {
	// join-length sorting is exercised at the store layer (internal/store's
	// matching.go SortJoinLen); here we only confirm wd:sort round-trips a
	// plain row-id array through to var without a join present.
	tmpl := `<wd:search collection="p" create_collection_if_not_exists="true"><result var="r"><wd:sort result:var="r" sort="row DESC" var="ids"><wd:print value:var="ids"/></wd:sort></result></wd:search>`
	require.Equal(t, "[]", runTemplate(t, tmpl))
}

func TestSearchTermInMatchesUpdateTermLayout(t *testing.T) {
	tmpl := `<wd:update commit="true"><collection name="p" term_begin="2020-01-01 00:00:00"><field name="n">A</field></collection></wd:update>` +
		`<wd:search collection="p" term="in@2020-06-01 00:00:00"><result var="r"><wd:print value:var="r.rows.0.row"/></result></wd:search>`
	require.Equal(t, "1", runTemplate(t, tmpl))
}

func TestSearchTermPastExcludesOpenWindow(t *testing.T) {
	tmpl := `<wd:update commit="true"><collection name="p" term_begin="2020-01-01 00:00:00"><field name="n">A</field></collection></wd:update>` +
		`<wd:search collection="p" term="past@2020-06-01 00:00:00"><result var="r"><wd:print value:var="r.rows"/></result></wd:search>`
	require.Equal(t, "[]", runTemplate(t, tmpl))
}

func TestRecordFieldsAttributeFiltersAndOrders(t *testing.T) {
	tmpl := `<wd:update commit="true"><collection name="p"><field name="a">1</field><field name="b">2</field><field name="c">3</field></collection></wd:update>` +
		`<wd:record var="x" collection="p" row="1" fields="c,a"><wd:print value:var="x.field.c"/>,<wd:print value:var="x.field.a"/>,<wd:print value:var="x.field.b"/></wd:record>`
	require.Equal(t, "3,1,", runTemplate(t, tmpl))
}

func TestLetItGoIsVerbatim(t *testing.T) {
	tmpl := `<wd:letitgo><a b="c">&amp;</a></wd:letitgo>`
	require.Equal(t, `<a b="c">&amp;</a>`, runTemplate(t, tmpl))
}

func TestReIsDoubleEvaluation(t *testing.T) {
	tmpl := `<wd:re><wd:letitgo>&lt;wd:print value="1"/&gt;</wd:letitgo></wd:re>`
	require.Equal(t, "1", runTemplate(t, tmpl))
}

func TestIfOnlyTrueExecutes(t *testing.T) {
	require.Equal(t, "yes", runTemplate(t, `<wd:if value="true">yes</wd:if>`))
	require.Equal(t, "", runTemplate(t, `<wd:if value="false">yes</wd:if>`))
	require.Equal(t, "", runTemplate(t, `<wd:if value="anything">yes</wd:if>`))
}

func TestEmptyInputProducesEmptyOutput(t *testing.T) {
	require.Equal(t, "", runTemplate(t, ``))
}

func TestIncludeMissingWithoutSubstituteIsEmpty(t *testing.T) {
	require.Equal(t, "", runTemplate(t, `<wd:include src="missing" with_parse="true"/>`))
}

func TestSearchUnknownCollectionIsEmptyBody(t *testing.T) {
	tmpl := `<wd:search collection="unknown"><result var="r">seen</result></wd:search>`
	require.Equal(t, "", runTemplate(t, tmpl))
}

func TestStackDepthBalancedAfterEvaluation(t *testing.T) {
	cfg := testConfig()
	tmpl := `<wd:local x="1"><wd:for var="v" in="[1,2]"><wd:if value="true"><wd:print value:var="v"/></wd:if></wd:for></wd:local>`
	_, opts, err := Run(context.Background(), cfg, []byte(tmpl), nil)
	require.NoError(t, err)
	require.NotNil(t, opts)
}
