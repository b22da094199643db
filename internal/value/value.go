// Package value implements the recursive tagged value model shared by the
// variable stack, the attribute evaluator, the script-engine contract, and
// the record store projections.
package value

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Kind discriminates the variant held by a Value.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindBlob
	KindArray
	KindObject
	KindSearchResult
	KindSessionSearchResult
)

// SearchResult is the opaque interface a record-store search handle must
// satisfy. The evaluator never reaches past this surface.
type SearchResult interface {
	// Rows returns the materialized row ids (session-local rows are
	// negative) in store order.
	Rows() []SearchRow
}

// SearchRow is one matched row plus whatever named joins were requested.
type SearchRow struct {
	CollectionID int64
	Row          int64
	Joins        map[string][]SearchRow
}

// Value is a recursive, reference-counted-by-sharing tagged value. The zero
// Value is null. Values are treated as immutable once built; frames copy the
// handle, never the contents, so mutation must go through New* constructors.
type Value struct {
	kind   Kind
	b      bool
	num    float64
	isInt  bool
	i      int64
	str    string
	blob   []byte
	arr    []Value
	obj    *Object
	result SearchResult
}

// Null is the canonical null value.
var Null = Value{kind: KindNull}

func NewBool(b bool) Value { return Value{kind: KindBool, b: b} }

func NewFloat(f float64) Value { return Value{kind: KindNumber, num: f} }

func NewInt(i int64) Value { return Value{kind: KindNumber, num: float64(i), isInt: true, i: i} }

func NewString(s string) Value { return Value{kind: KindString, str: s} }

func NewBlob(b []byte) Value { return Value{kind: KindBlob, blob: b} }

func NewArray(vs []Value) Value { return Value{kind: KindArray, arr: vs} }

func NewObject(o *Object) Value { return Value{kind: KindObject, obj: o} }

func NewSearchResult(r SearchResult) Value { return Value{kind: KindSearchResult, result: r} }

func NewSessionSearchResult(r SearchResult) Value {
	return Value{kind: KindSessionSearchResult, result: r}
}

func (v Value) Kind() Kind { return v.kind }

func (v Value) IsNull() bool { return v.kind == KindNull }

// Truthy defines truthiness for wd:if/while: a bool true, or the literal
// string "true". Everything else (including numbers) is falsy.
func (v Value) Truthy() bool {
	switch v.kind {
	case KindBool:
		return v.b
	case KindString:
		return v.str == "true"
	default:
		return false
	}
}

func (v Value) Bool() bool {
	if v.kind == KindBool {
		return v.b
	}
	return v.Truthy()
}

func (v Value) Float() float64 {
	switch v.kind {
	case KindNumber:
		return v.num
	case KindString:
		f, _ := strconv.ParseFloat(v.str, 64)
		return f
	default:
		return 0
	}
}

func (v Value) Int() int64 {
	switch v.kind {
	case KindNumber:
		if v.isInt {
			return v.i
		}
		return int64(v.num)
	case KindString:
		i, err := strconv.ParseInt(v.str, 10, 64)
		if err == nil {
			return i
		}
		f, _ := strconv.ParseFloat(v.str, 64)
		return int64(f)
	default:
		return 0
	}
}

// String renders the Value's string form. Blobs are interpreted as UTF-8
// without validation.
func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return ""
	case KindBool:
		if v.b {
			return "true"
		}
		return "false"
	case KindNumber:
		if v.isInt {
			return strconv.FormatInt(v.i, 10)
		}
		return strconv.FormatFloat(v.num, 'g', -1, 64)
	case KindString:
		return v.str
	case KindBlob:
		return string(v.blob)
	case KindArray, KindObject:
		b, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(b)
	default:
		return ""
	}
}

func (v Value) Blob() []byte {
	if v.kind == KindBlob {
		return v.blob
	}
	return []byte(v.String())
}

func (v Value) Array() []Value {
	if v.kind == KindArray {
		return v.arr
	}
	return nil
}

func (v Value) Object() *Object {
	if v.kind == KindObject {
		return v.obj
	}
	return nil
}

func (v Value) SearchResult() SearchResult {
	if v.kind == KindSearchResult || v.kind == KindSessionSearchResult {
		return v.result
	}
	return nil
}

// Equal implements the equality used by wd:case/when: numbers compare
// numerically, everything else compares by string form.
func (v Value) Equal(other Value) bool {
	if v.kind == KindNumber && other.kind == KindNumber {
		return v.Float() == other.Float()
	}
	return v.String() == other.String()
}

// Get indexes an object by key or an array by numeric string index; dotted
// paths are not resolved here (that is the variable-lookup dialect's job).
func (v Value) Get(key string) Value {
	switch v.kind {
	case KindObject:
		if v.obj == nil {
			return Null
		}
		val, ok := v.obj.Get(key)
		if !ok {
			return Null
		}
		return val
	case KindArray:
		idx, err := strconv.Atoi(key)
		if err != nil || idx < 0 || idx >= len(v.arr) {
			return Null
		}
		return v.arr[idx]
	case KindSearchResult, KindSessionSearchResult:
		if key == "rows" && v.result != nil {
			return NewArray(searchRowsToValues(v.result.Rows()))
		}
		return Null
	default:
		return Null
	}
}

// searchRowsToValues renders a store's matched rows as the nested objects
// `for`/`record` consume: {row, collection_id, joins: {name -> [rows...]}}.
func searchRowsToValues(rows []SearchRow) []Value {
	out := make([]Value, len(rows))
	for i, r := range rows {
		obj := NewOrderedObject()
		obj.Set("row", NewInt(r.Row))
		obj.Set("collection_id", NewInt(r.CollectionID))
		if len(r.Joins) > 0 {
			joins := NewOrderedObject()
			for name, jr := range r.Joins {
				joins.Set(name, NewArray(searchRowsToValues(jr)))
			}
			obj.Set("joins", NewObject(joins))
		}
		out[i] = NewObject(obj)
	}
	return out
}

func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNull:
		return []byte("null"), nil
	case KindBool:
		return json.Marshal(v.b)
	case KindNumber:
		if v.isInt {
			return json.Marshal(v.i)
		}
		return json.Marshal(v.num)
	case KindString:
		return json.Marshal(v.str)
	case KindBlob:
		return json.Marshal(string(v.blob))
	case KindArray:
		if v.arr == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(v.arr)
	case KindObject:
		if v.obj == nil {
			return []byte("{}"), nil
		}
		return v.obj.MarshalJSON()
	default:
		return nil, fmt.Errorf("value: cannot marshal kind %d", v.kind)
	}
}

func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*v = FromAny(raw)
	return nil
}

// FromAny converts a decoded encoding/json value (map[string]any preserves
// no order, so callers that need order should decode through Object instead)
// into a Value tree.
func FromAny(raw any) Value {
	switch t := raw.(type) {
	case nil:
		return Null
	case bool:
		return NewBool(t)
	case float64:
		return NewFloat(t)
	case string:
		return NewString(t)
	case []any:
		vs := make([]Value, len(t))
		for i, e := range t {
			vs[i] = FromAny(e)
		}
		return NewArray(vs)
	case map[string]any:
		obj := NewOrderedObject()
		for k, e := range t {
			obj.Set(k, FromAny(e))
		}
		return NewObject(obj)
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return NewInt(i)
		}
		f, _ := t.Float64()
		return NewFloat(f)
	default:
		return Null
	}
}

// ParseJSON parses src as JSON, preserving object key order via the
// order-preserving decoder in FromOrderedJSON. Returns false if src does not
// parse, matching the "literal/JSON parser" fallback described in the
// attribute evaluator.
func ParseJSON(src string) (Value, bool) {
	v, err := FromOrderedJSON([]byte(src))
	if err != nil {
		return Null, false
	}
	return v, true
}
