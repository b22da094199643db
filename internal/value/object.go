package value

import (
	"bytes"
	"encoding/json"
)

// Object is an insertion-ordered string-keyed map, because iteration order
// affects wd:for over objects and the order fields were set in wd:record.
type Object struct {
	keys   []string
	values map[string]Value
}

func NewOrderedObject() *Object {
	return &Object{values: make(map[string]Value)}
}

func (o *Object) Get(key string) (Value, bool) {
	v, ok := o.values[key]
	return v, ok
}

// Set inserts or overwrites key, preserving first-insertion order.
func (o *Object) Set(key string, v Value) {
	if _, exists := o.values[key]; !exists {
		o.keys = append(o.keys, key)
	}
	o.values[key] = v
}

func (o *Object) Keys() []string { return o.keys }

func (o *Object) Len() int { return len(o.keys) }

// SetPath walks/creates a dotted path, replacing any intermediate
// non-object value with a fresh object, matching register_global semantics.
func (o *Object) SetPath(path []string, v Value) {
	if len(path) == 0 {
		return
	}
	if len(path) == 1 {
		o.Set(path[0], v)
		return
	}
	head := path[0]
	child, ok := o.values[head]
	if !ok || child.Kind() != KindObject || child.obj == nil {
		child = NewObject(NewOrderedObject())
		o.Set(head, child)
	}
	child.obj.SetPath(path[1:], v)
}

func (o *Object) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range o.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := json.Marshal(o.values[k])
		if err != nil {
			return nil, err
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// FromOrderedJSON decodes JSON preserving object key order, using
// json.Decoder's token stream rather than map[string]any.
func FromOrderedJSON(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	v, err := decodeValue(dec)
	if err != nil {
		return Null, err
	}
	if _, err := dec.Token(); err == nil {
		// trailing garbage after a valid value is not acceptable JSON
		return Null, errTrailing
	}
	return v, nil
}

var errTrailing = jsonTrailingErr{}

type jsonTrailingErr struct{}

func (jsonTrailingErr) Error() string { return "value: trailing data after JSON value" }

func decodeValue(dec *json.Decoder) (Value, error) {
	tok, err := dec.Token()
	if err != nil {
		return Null, err
	}
	return decodeToken(dec, tok)
}

func decodeToken(dec *json.Decoder, tok json.Token) (Value, error) {
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			obj := NewOrderedObject()
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return Null, err
				}
				key, _ := keyTok.(string)
				val, err := decodeValue(dec)
				if err != nil {
					return Null, err
				}
				obj.Set(key, val)
			}
			if _, err := dec.Token(); err != nil { // consume '}'
				return Null, err
			}
			return NewObject(obj), nil
		case '[':
			var arr []Value
			for dec.More() {
				val, err := decodeValue(dec)
				if err != nil {
					return Null, err
				}
				arr = append(arr, val)
			}
			if _, err := dec.Token(); err != nil { // consume ']'
				return Null, err
			}
			return NewArray(arr), nil
		}
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return NewInt(i), nil
		}
		f, _ := t.Float64()
		return NewFloat(f), nil
	case string:
		return NewString(t), nil
	case bool:
		return NewBool(t), nil
	case nil:
		return Null, nil
	}
	return Null, nil
}
