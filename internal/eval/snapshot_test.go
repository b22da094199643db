package eval

import (
	"context"
	"os"
	"testing"

	"github.com/gkampitakis/go-snaps/snaps"
)

// TestMain lets go-snaps prune any snapshot entries that no longer have a
// matching MatchSnapshot call.
func TestMain(m *testing.M) {
	status := m.Run()
	snaps.Clean(m)
	os.Exit(status)
}

// TestRenderSnapshots locks down rendered output for a handful of templates
// that exercise several operators at once, so a change to any one of them
// shows up as a diff instead of silently altering output shape.
func TestRenderSnapshots(t *testing.T) {
	cases := []struct {
		name string
		tmpl string
	}{
		{
			"for_with_index_and_key",
			`<wd:for var="v" key="i" in="[10,20,30]"><wd:print value:var="i"/>:<wd:print value:var="v"/>;</wd:for>`,
		},
		{
			"nested_case_in_for",
			`<wd:for var="v" in="[1,2,3]"><wd:case value:var="v"><wd:when value="2">two</wd:when><wd:else>other</wd:else></wd:case></wd:for>`,
		},
		{
			"local_scoped_shadow",
			`<wd:local x="outer"><wd:print value:var="x"/><wd:local x="inner"><wd:print value:var="x"/></wd:local><wd:print value:var="x"/></wd:local>`,
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			body, _, err := Run(context.Background(), testConfig(), []byte(c.tmpl), nil)
			if err != nil {
				t.Fatalf("render %s: %v", c.name, err)
			}
			snaps.MatchSnapshot(t, string(body))
		})
	}
}
