package store

import (
	"sort"
	"strconv"
	"strings"
)

// MatchesQuery applies a Query's activity/term/condition filters against a
// materialized Row. Backends call this after loading candidate rows so the
// condition-tree semantics live in exactly one place.
func MatchesQuery(r Row, q Query) bool {
	switch q.Activity {
	case "active":
		if r.Activity != ActivityActive {
			return false
		}
	case "inactive":
		if r.Activity != ActivityInactive {
			return false
		}
	}
	if !matchesTerm(r, q) {
		return false
	}
	for _, c := range q.Conditions {
		if !MatchesCondition(r, c) {
			return false
		}
	}
	return true
}

func matchesTerm(r Row, q Query) bool {
	switch q.Term {
	case TermIn:
		return r.Term.Begin <= q.TermAt && (r.Term.End == 0 || q.TermAt < r.Term.End)
	case TermFuture:
		return r.Term.Begin > q.TermAt
	case TermPast:
		return r.Term.End != 0 && r.Term.End <= q.TermAt
	default:
		return true
	}
}

// MatchesCondition evaluates one condition-tree node against a row.
func MatchesCondition(r Row, c Condition) bool {
	switch {
	case c.Field != nil:
		return matchField(r, *c.Field)
	case c.RowC != nil:
		return matchRow(r, *c.RowC)
	case c.Depend != nil:
		for _, d := range r.Depends {
			if d.Key == c.Depend.Key && d.CollectionID == c.Depend.CollectionID && d.Row == c.Depend.Row {
				return true
			}
		}
		return false
	case len(c.UUIDs) > 0:
		for _, u := range c.UUIDs {
			if u == r.UUID {
				return true
			}
		}
		return false
	case c.Group != nil:
		if c.Group.Kind == GroupNarrow {
			for _, child := range c.Group.Children {
				if !MatchesCondition(r, child) {
					return false
				}
			}
			return true
		}
		for _, child := range c.Group.Children {
			if MatchesCondition(r, child) {
				return true
			}
		}
		return len(c.Group.Children) == 0
	case c.Join != nil:
		return true // a join annotates the result, it does not filter the outer row
	default:
		return true
	}
}

func matchField(r Row, f FieldCondition) bool {
	val := string(r.Fields[f.Field])
	var ok bool
	switch f.Method {
	case MethodMatch:
		ok = val == f.Value
	case MethodPartial:
		ok = strings.Contains(val, f.Value)
	case MethodForward:
		ok = strings.HasPrefix(val, f.Value)
	case MethodBackward:
		ok = strings.HasSuffix(val, f.Value)
	case MethodMin:
		ok = numLE(f.Value, val)
	case MethodMax:
		ok = numLE(val, f.Value)
	case MethodRange:
		lo, hi, found := strings.Cut(f.Value, "..")
		if !found {
			ok = false
		} else {
			ok = numLE(lo, val) && numLE(val, hi)
		}
	case MethodValueForward:
		ok = strings.HasPrefix(f.Value, val)
	case MethodValueBackward:
		ok = strings.HasSuffix(f.Value, val)
	case MethodValuePartial:
		ok = strings.Contains(f.Value, val)
	}
	if f.Negate {
		return !ok
	}
	return ok
}

func numLE(a, b string) bool {
	af, aerr := strconv.ParseFloat(a, 64)
	bf, berr := strconv.ParseFloat(b, 64)
	if aerr == nil && berr == nil {
		return af <= bf
	}
	return a <= b
}

func matchRow(r Row, c RowCondition) bool {
	switch c.Method {
	case MethodMatch:
		for _, v := range c.Values {
			if v == r.Row {
				return true
			}
		}
		return false
	case MethodMin:
		return len(c.Values) > 0 && r.Row >= c.Values[0]
	case MethodMax:
		return len(c.Values) > 0 && r.Row <= c.Values[0]
	case MethodRange:
		return len(c.Values) == 2 && r.Row >= c.Values[0] && r.Row <= c.Values[1]
	default:
		return true
	}
}

// CollectJoins walks a condition tree collecting every Join node, used by
// backends to know which relation keys to resolve per matched row.
func CollectJoins(conds []Condition, out *[]*Join) {
	for i := range conds {
		if conds[i].Join != nil {
			*out = append(*out, conds[i].Join)
			CollectJoins(conds[i].Join.Conditions, out)
		}
		if conds[i].Group != nil {
			CollectJoins(conds[i].Group.Children, out)
		}
	}
}

// SortRows orders rows by the given sort keys, stable, ascending unless Desc.
// SortRow, SortJoinLen and SortField compare their own values; every other
// kind (SortSerial, SortTermBegin, SortTermEnd, SortLastUpdate) compares
// row ids, since ResultRow carries no serial, term or update time.
func SortRows(rows []ResultRow, keys []SortKey, fieldOf func(row ResultRow, name string) string) []int64 {
	idx := make([]int, len(rows))
	for i := range idx {
		idx[i] = i
	}
	less := func(a, b int) bool {
		ra, rb := rows[idx[a]], rows[idx[b]]
		for _, k := range keys {
			cmp := compareRows(ra, rb, k, fieldOf)
			if cmp != 0 {
				if k.Desc {
					return cmp > 0
				}
				return cmp < 0
			}
		}
		return false
	}
	sort.SliceStable(idx, less)
	out := make([]int64, len(idx))
	for i, j := range idx {
		out[i] = rows[j].Row
	}
	return out
}

func compareRows(a, b ResultRow, k SortKey, fieldOf func(ResultRow, string) string) int {
	switch k.Kind {
	case SortRow:
		return cmpInt(a.Row, b.Row)
	case SortJoinLen:
		return cmpInt(int64(len(a.Joins[k.Join])), int64(len(b.Joins[k.Join])))
	case SortField:
		if fieldOf == nil {
			return 0
		}
		return strings.Compare(fieldOf(a, k.Field), fieldOf(b, k.Field))
	default:
		return cmpInt(a.Row, b.Row)
	}
}

func cmpInt(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
