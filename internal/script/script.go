// Package script defines the scripting-host contract the evaluator drives:
// named expression dialects that can evaluate a module (a processing
// instruction body) or a single expression (an attribute value), with
// shared access to the evaluator's variable stack.
package script

import (
	"context"

	"github.com/helix90/wilddoc/internal/value"
	"github.com/helix90/wilddoc/internal/varstack"
)

// Engine is the capability set a script dialect must implement. Engines may
// be asynchronous; the evaluator awaits them at the suspension points named
// in the concurrency model (script eval, module load).
type Engine interface {
	// Name is the dialect name used in both `:name` attribute suffixes and
	// `<?name ...?>` processing instructions.
	Name() string

	// EvaluateModule evaluates a processing-instruction body as a module.
	// fileName is the path of the innermost wd:include in effect, or "" at
	// top level — used only to label the module for engine diagnostics.
	EvaluateModule(ctx context.Context, fileName, source string, stack *varstack.Stack) error

	// Eval evaluates a single expression and returns its Value.
	Eval(ctx context.Context, source string, stack *varstack.Stack) (value.Value, error)
}

// Registry maps dialect name to Engine, and is consulted by the attribute
// evaluator for every attribute's `:dialect` suffix and by the tokenizer
// walk for every processing instruction target.
type Registry struct {
	engines map[string]Engine
	order   []string
}

func NewRegistry() *Registry {
	return &Registry{engines: make(map[string]Engine)}
}

// Register adds an engine under its own Name(). Later registrations of the
// same name replace earlier ones but keep their original position in
// Names().
func (r *Registry) Register(e Engine) {
	name := e.Name()
	if _, exists := r.engines[name]; !exists {
		r.order = append(r.order, name)
	}
	r.engines[name] = e
}

func (r *Registry) Get(name string) (Engine, bool) {
	e, ok := r.engines[name]
	return e, ok
}

// Names returns registered dialect names in registration order. The
// attribute evaluator does not use it: it looks up the text after an
// attribute name's last colon with Get.
func (r *Registry) Names() []string {
	return r.order
}
