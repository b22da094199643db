package eval

import (
	"context"
	"encoding/xml"
	"strconv"
	"strings"
	"time"

	"github.com/helix90/wilddoc/internal/store"
	"github.com/helix90/wilddoc/internal/value"
)

// storeResultAdapter adapts a store.Result to value.SearchResult so a
// search handle can be bound as an ordinary Value, while retaining the
// concrete type so wd:sort can recover the underlying store.Result to
// re-sort it.
type storeResultAdapter struct {
	r store.Result
}

func (a storeResultAdapter) Rows() []value.SearchRow {
	return resultRowsToSearchRows(a.r.Rows())
}

func resultRowsToSearchRows(rows []store.ResultRow) []value.SearchRow {
	out := make([]value.SearchRow, len(rows))
	for i, rr := range rows {
		out[i] = value.SearchRow{
			CollectionID: rr.CollectionID,
			Row:          rr.Row,
			Joins:        joinsToSearchRows(rr.Joins),
		}
	}
	return out
}

func joinsToSearchRows(in map[string][]store.ResultRow) map[string][]value.SearchRow {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string][]value.SearchRow, len(in))
	for k, v := range in {
		out[k] = resultRowsToSearchRows(v)
	}
	return out
}

// opSearch builds a query from the condition-tree children of wd:search,
// executes it, and — if a nested `result` element was present — evaluates
// that element's body once with its var bound to the resulting handle.
func (ev *Evaluator) opSearch(ctx context.Context, pc *parseCtx, start xml.StartElement) error {
	collection, _ := rawAttr(start, "collection")
	q := store.Query{Collection: collection, Term: store.TermAll}

	if act, ok := rawAttr(start, "activity"); ok {
		q.Activity = act
	} else {
		q.Activity = "active"
	}
	if term, ok := rawAttr(start, "term"); ok {
		kind, at := parseTermSelect(term)
		q.Term = kind
		q.TermAt = at
	}
	if createV, err := ev.reqAttr(ctx, start, "create_collection_if_not_exists"); err == nil {
		q.CreateCollectionIfMissing = createV.Truthy()
	}

	type resultBlock struct {
		varName string
		sort    string
		body    []byte
	}
	var rb *resultBlock

	for {
		tok, err := pc.dec.Token()
		if err != nil {
			return &ParseError{Msg: err.Error()}
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == "result" {
				varName, _ := rawAttr(t, "var")
				sortSpec, _ := rawAttr(t, "sort")
				body, err := captureRaw(pc, t.Name)
				if err != nil {
					return err
				}
				rb = &resultBlock{varName: varName, sort: sortSpec, body: body}
				continue
			}
			c, err := ev.parseOneCondition(ctx, pc, t)
			if err != nil {
				return err
			}
			q.Conditions = append(q.Conditions, c)
		case xml.EndElement:
			if t.Name == start.Name {
				goto built
			}
		}
	}
built:

	res, ok, err := ev.cfg.Store.Search(ctx, ev.sessions.Current(), q)
	if err != nil {
		ev.log().Error("search failed", "collection", collection, "error", err)
		return &StoreError{Op: "search", Err: err}
	}
	if !ok || rb == nil {
		return nil
	}

	if rb.sort != "" {
		keys := parseSortSpec(rb.sort)
		ids := res.Sort(keys)
		res = reorderResult(res, ids)
	}

	f := ev.vars.Push()
	if rb.varName != "" {
		f.Set(rb.varName, value.NewSearchResult(storeResultAdapter{r: res}))
	}
	defer ev.vars.Pop()
	return ev.renderRawAsTemplate(ctx, rb.body)
}

// reorderResult produces a store.Result whose Rows() follow ids (row
// numbers, possibly negative for session-local rows), keeping the
// original result's Sort method available for any further re-sort.
func reorderResult(r store.Result, ids []int64) store.Result {
	byRow := make(map[int64]store.ResultRow, len(r.Rows()))
	for _, rr := range r.Rows() {
		byRow[rr.Row] = rr
	}
	ordered := make([]store.ResultRow, 0, len(ids))
	for _, id := range ids {
		if rr, ok := byRow[id]; ok {
			ordered = append(ordered, rr)
		}
	}
	return orderedResult{rows: ordered, inner: r}
}

type orderedResult struct {
	rows  []store.ResultRow
	inner store.Result
}

func (o orderedResult) Rows() []store.ResultRow { return o.rows }

func (o orderedResult) Sort(keys []store.SortKey) []int64 { return o.inner.Sort(keys) }

func parseTermSelect(s string) (store.TermSelect, int64) {
	s = strings.TrimSpace(s)
	switch {
	case s == "all" || s == "":
		return store.TermAll, 0
	case strings.HasPrefix(s, "in@"):
		return store.TermIn, parseTermAt(s[len("in@"):])
	case strings.HasPrefix(s, "future@"):
		return store.TermFuture, parseTermAt(s[len("future@"):])
	case strings.HasPrefix(s, "past@"):
		return store.TermPast, parseTermAt(s[len("past@"):])
	default:
		return store.TermAll, 0
	}
}

// parseTermAt parses a term selector's timestamp in the same local-time
// layout wd:update's term_begin/term_end use, so a row staged with one and
// searched for with the other compare against the same clock.
func parseTermAt(ts string) int64 {
	t, err := time.ParseInLocation(termLayout, ts, time.Local)
	if err != nil {
		return 0
	}
	return t.Unix()
}

func (ev *Evaluator) parseOneCondition(ctx context.Context, pc *parseCtx, t xml.StartElement) (store.Condition, error) {
	switch t.Name.Local {
	case "field":
		name, _ := rawAttr(t, "name")
		methodStr, _ := rawAttr(t, "method")
		val, _ := rawAttr(t, "value")
		method, negate := parseMethod(methodStr)
		if err := pc.dec.Skip(); err != nil {
			return store.Condition{}, &ParseError{Msg: err.Error()}
		}
		return store.Condition{Field: &store.FieldCondition{Field: name, Method: method, Value: val, Negate: negate}}, nil

	case "row":
		methodStr, _ := rawAttr(t, "method")
		val, _ := rawAttr(t, "value")
		method, _ := parseMethod(methodStr)
		rc := &store.RowCondition{Method: method}
		switch method {
		case store.MethodMatch:
			for _, p := range strings.Split(val, ",") {
				if p = strings.TrimSpace(p); p != "" {
					n, _ := strconv.ParseInt(p, 10, 64)
					rc.Values = append(rc.Values, n)
				}
			}
		case store.MethodRange:
			parts := strings.SplitN(val, "..", 2)
			if len(parts) == 2 {
				a, _ := strconv.ParseInt(strings.TrimSpace(parts[0]), 10, 64)
				b, _ := strconv.ParseInt(strings.TrimSpace(parts[1]), 10, 64)
				rc.Values = []int64{a, b}
			}
		default:
			n, _ := strconv.ParseInt(strings.TrimSpace(val), 10, 64)
			rc.Values = []int64{n}
		}
		if err := pc.dec.Skip(); err != nil {
			return store.Condition{}, &ParseError{Msg: err.Error()}
		}
		return store.Condition{RowC: rc}, nil

	case "uuid":
		val, _ := rawAttr(t, "value")
		var ids []string
		for _, p := range strings.Split(val, ",") {
			if p = strings.TrimSpace(p); p != "" {
				ids = append(ids, p)
			}
		}
		if err := pc.dec.Skip(); err != nil {
			return store.Condition{}, &ParseError{Msg: err.Error()}
		}
		return store.Condition{UUIDs: ids}, nil

	case "depend":
		key, _ := rawAttr(t, "key")
		colName, _ := rawAttr(t, "collection")
		rowStr, _ := rawAttr(t, "row")
		row, _ := strconv.ParseInt(rowStr, 10, 64)
		if err := pc.dec.Skip(); err != nil {
			return store.Condition{}, &ParseError{Msg: err.Error()}
		}
		colID, _ := ev.cfg.Store.CollectionID(ctx, colName)
		return store.Condition{Depend: &store.DependCondition{Key: key, CollectionID: colID, Row: row}}, nil

	case "narrow", "wide":
		kind := store.GroupNarrow
		if t.Name.Local == "wide" {
			kind = store.GroupWide
		}
		children, err := ev.parseConditionChildren(ctx, pc, t.Name)
		if err != nil {
			return store.Condition{}, err
		}
		return store.Condition{Group: &store.Group{Kind: kind, Children: children}}, nil

	case "join":
		name, _ := rawAttr(t, "name")
		relation, _ := rawAttr(t, "relation")
		children, err := ev.parseConditionChildren(ctx, pc, t.Name)
		if err != nil {
			return store.Condition{}, err
		}
		return store.Condition{Join: &store.Join{Name: name, Relation: relation, Conditions: children}}, nil

	default:
		return store.Condition{}, pc.dec.Skip()
	}
}

func (ev *Evaluator) parseConditionChildren(ctx context.Context, pc *parseCtx, end xml.Name) ([]store.Condition, error) {
	var out []store.Condition
	for {
		tok, err := pc.dec.Token()
		if err != nil {
			return nil, &ParseError{Msg: err.Error()}
		}
		switch t := tok.(type) {
		case xml.StartElement:
			c, err := ev.parseOneCondition(ctx, pc, t)
			if err != nil {
				return nil, err
			}
			out = append(out, c)
		case xml.EndElement:
			if t.Name == end {
				return out, nil
			}
		}
	}
}

func parseMethod(s string) (store.ConditionMethod, bool) {
	negate := false
	if strings.HasPrefix(s, "!") {
		negate = true
		s = s[1:]
	}
	switch s {
	case "min":
		return store.MethodMin, negate
	case "max":
		return store.MethodMax, negate
	case "partial":
		return store.MethodPartial, negate
	case "forward":
		return store.MethodForward, negate
	case "backward":
		return store.MethodBackward, negate
	case "range":
		return store.MethodRange, negate
	case "value_forward":
		return store.MethodValueForward, negate
	case "value_backward":
		return store.MethodValueBackward, negate
	case "value_partial":
		return store.MethodValuePartial, negate
	default:
		return store.MethodMatch, negate
	}
}

func parseSortSpec(s string) []store.SortKey {
	var keys []store.SortKey
	for _, clause := range strings.Split(s, ",") {
		clause = strings.TrimSpace(clause)
		if clause == "" {
			continue
		}
		fields := strings.Fields(clause)
		key := fields[0]
		desc := len(fields) > 1 && strings.EqualFold(fields[1], "DESC")

		switch {
		case key == "serial":
			keys = append(keys, store.SortKey{Kind: store.SortSerial, Desc: desc})
		case key == "row":
			keys = append(keys, store.SortKey{Kind: store.SortRow, Desc: desc})
		case key == "term_begin":
			keys = append(keys, store.SortKey{Kind: store.SortTermBegin, Desc: desc})
		case key == "term_end":
			keys = append(keys, store.SortKey{Kind: store.SortTermEnd, Desc: desc})
		case key == "last_update":
			keys = append(keys, store.SortKey{Kind: store.SortLastUpdate, Desc: desc})
		case strings.HasPrefix(key, "field."):
			keys = append(keys, store.SortKey{Kind: store.SortField, Field: strings.TrimPrefix(key, "field."), Desc: desc})
		case strings.HasPrefix(key, "join.") && strings.HasSuffix(key, ".len"):
			name := strings.TrimSuffix(strings.TrimPrefix(key, "join."), ".len")
			keys = append(keys, store.SortKey{Kind: store.SortJoinLen, Join: name, Desc: desc})
		}
	}
	return keys
}
