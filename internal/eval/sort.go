package eval

import (
	"context"
	"encoding/xml"

	"github.com/helix90/wilddoc/internal/value"
)

// opSort re-sorts an existing search handle by a fresh sort spec and binds
// the resulting row-id array to var, pushing a frame for its body the same
// way wd:record and the search's nested wd:result do.
func (ev *Evaluator) opSort(ctx context.Context, pc *parseCtx, start xml.StartElement) error {
	handle, err := ev.reqAttr(ctx, start, "result")
	if err != nil {
		return err
	}
	sortSpec, _ := rawAttr(start, "sort")
	varName, _ := rawAttr(start, "var")

	var ids []value.Value
	if sr, ok := handle.SearchResult().(storeResultAdapter); ok {
		for _, id := range sr.r.Sort(parseSortSpec(sortSpec)) {
			ids = append(ids, value.NewInt(id))
		}
	}

	f := ev.vars.Push()
	if varName != "" {
		f.Set(varName, value.NewArray(ids))
	}
	defer ev.vars.Pop()
	return ev.renderUntil(ctx, pc, start.Name, false)
}
