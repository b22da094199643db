// Package jsengine implements the "js" script dialect on top of V8
// (github.com/tommie/v8go). Each Engine owns one V8 isolate and context
// for the lifetime of one evaluation, reused across operator invocations
// within that evaluation and discarded when it finishes.
package jsengine

import (
	"context"
	"encoding/json"
	"fmt"

	v8 "github.com/tommie/v8go"

	"github.com/helix90/wilddoc/internal/value"
	"github.com/helix90/wilddoc/internal/varstack"
)

// Engine wraps one V8 isolate/context pair and exposes wd.v(name) /
// wd.registerGlobal(path, value) to scripts so `wd.v("name")` inside a
// script performs the same lookup as a `:var` attribute.
type Engine struct {
	iso   *v8.Isolate
	ctx   *v8.Context
	stack *varstack.Stack
}

// New creates a JS engine bound to stack for the lifetime of one
// evaluation. Close must be called when the evaluation ends to release the
// isolate.
func New(stack *varstack.Stack) (*Engine, error) {
	iso := v8.NewIsolate()
	e := &Engine{iso: iso, stack: stack}

	global := v8.NewObjectTemplate(iso)

	lookup := v8.NewFunctionTemplate(iso, func(info *v8.FunctionCallbackInfo) *v8.Value {
		args := info.Args()
		if len(args) < 1 {
			return undefined(iso)
		}
		path := splitPath(args[0].String())
		v, _ := stack.Lookup(path[0])
		for _, seg := range path[1:] {
			v = v.Get(seg)
		}
		return toV8(iso, v)
	})
	registerGlobal := v8.NewFunctionTemplate(iso, func(info *v8.FunctionCallbackInfo) *v8.Value {
		args := info.Args()
		if len(args) < 2 {
			return undefined(iso)
		}
		stack.RegisterGlobal(splitPath(args[0].String()), fromV8(args[1]))
		return undefined(iso)
	})

	wd := v8.NewObjectTemplate(iso)
	wd.Set("v", lookup)
	wd.Set("registerGlobal", registerGlobal)
	global.Set("wd", wd)

	ctx := v8.NewContext(iso, global)
	e.ctx = ctx
	return e, nil
}

func (e *Engine) Close() {
	e.ctx.Close()
	e.iso.Dispose()
}

func (*Engine) Name() string { return "js" }

func (e *Engine) EvaluateModule(_ context.Context, fileName, source string, _ *varstack.Stack) error {
	name := fileName
	if name == "" {
		name = "<wd:js module>"
	}
	_, err := e.ctx.RunScript(source, name)
	if err != nil {
		return fmt.Errorf("js module %q: %w", name, err)
	}
	return nil
}

func (e *Engine) Eval(_ context.Context, source string, _ *varstack.Stack) (value.Value, error) {
	val, err := e.ctx.RunScript(source, "eval.js")
	if err != nil {
		return value.Null, fmt.Errorf("js eval: %w", err)
	}
	if val == nil {
		return value.Null, nil
	}
	return fromV8(val), nil
}

func undefined(iso *v8.Isolate) *v8.Value {
	return v8.Undefined(iso)
}

func splitPath(s string) []string {
	var parts []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '.' {
			parts = append(parts, s[start:i])
			start = i + 1
		}
	}
	parts = append(parts, s[start:])
	return parts
}

// toV8 marshals a Value into a V8 value via JSON, the simplest correct
// bridge for the object/array cases.
func toV8(iso *v8.Isolate, v value.Value) *v8.Value {
	b, err := json.Marshal(v)
	if err != nil {
		r, _ := v8.NewValue(iso, "")
		return r
	}
	r, err := v8.JSONParse(v8.NewContext(iso), string(b))
	if err != nil {
		s, _ := v8.NewValue(iso, string(b))
		return s
	}
	return r
}

// fromV8 converts a V8 value back into a Value via its JSON string form,
// preserving object key order through value.FromOrderedJSON.
func fromV8(v *v8.Value) value.Value {
	if v == nil {
		return value.Null
	}
	if v.IsString() || v.IsNumber() || v.IsBoolean() || v.IsUndefined() || v.IsNull() {
		switch {
		case v.IsString():
			return value.NewString(v.String())
		case v.IsNumber():
			return value.NewFloat(v.Number())
		case v.IsBoolean():
			return value.NewBool(v.Boolean())
		default:
			return value.Null
		}
	}
	js, err := v8.JSONStringify(v.Context(), v)
	if err != nil {
		return value.NewString(v.String())
	}
	parsed, err := value.FromOrderedJSON([]byte(js))
	if err != nil {
		return value.NewString(js)
	}
	return parsed
}
