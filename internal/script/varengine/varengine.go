// Package varengine implements the "var" dialect: a trivial variable
// lookup ("wd.v('name')"). It resolves a dotted path against the
// evaluator's stack, walking frames innermost-first.
package varengine

import (
	"context"
	"strings"

	"github.com/helix90/wilddoc/internal/value"
	"github.com/helix90/wilddoc/internal/varstack"
)

type Engine struct{}

func New() *Engine { return &Engine{} }

func (*Engine) Name() string { return "var" }

// EvaluateModule is a no-op for var: there is no module form of a variable
// lookup, only expressions.
func (*Engine) EvaluateModule(_ context.Context, _, _ string, _ *varstack.Stack) error {
	return nil
}

// Eval resolves a dotted path such as "x.field.n" against the stack: the
// head segment is looked up via Stack.Lookup, remaining segments index into
// the resulting object/array.
func (*Engine) Eval(_ context.Context, source string, stack *varstack.Stack) (value.Value, error) {
	path := strings.Split(strings.TrimSpace(source), ".")
	if len(path) == 0 || path[0] == "" {
		return value.Null, nil
	}
	v, ok := stack.Lookup(path[0])
	if !ok {
		return value.Null, nil
	}
	for _, seg := range path[1:] {
		v = v.Get(seg)
	}
	return v, nil
}
