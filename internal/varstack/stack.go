// Package varstack implements the evaluator's variable stack: an ordered
// sequence of frames with a single process-wide global frame. Lookups walk
// innermost frame first, falling through to the shared global scope.
package varstack

import (
	"sort"

	"github.com/helix90/wilddoc/internal/value"
)

// Frame is one push's worth of named variables, held in a Go map: lookups
// are by name and insertion order is not kept (Snapshot sorts keys).
type Frame struct {
	vars map[string]value.Value
}

func newFrame() *Frame {
	return &Frame{vars: make(map[string]value.Value)}
}

func (f *Frame) Set(name string, v value.Value) { f.vars[name] = v }

func (f *Frame) Get(name string) (value.Value, bool) {
	v, ok := f.vars[name]
	return v, ok
}

// Snapshot renders the frame as an ordered object, keys sorted for
// determinism. Used to materialize the global frame as the evaluation's
// options side-channel, where insertion order carries no meaning a caller
// could observe short of this export.
func (f *Frame) Snapshot() *value.Object {
	keys := make([]string, 0, len(f.vars))
	for k := range f.vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	obj := value.NewOrderedObject()
	for _, k := range keys {
		obj.Set(k, f.vars[k])
	}
	return obj
}

// Stack is the evaluator's variable stack. The zero value is not usable;
// construct with New.
type Stack struct {
	frames []*Frame
	global *Frame
}

func New() *Stack {
	return &Stack{global: newFrame()}
}

// Depth reports the number of non-global frames currently pushed. Used by
// tests asserting frames stay balanced after an evaluation.
func (s *Stack) Depth() int { return len(s.frames) }

// Push adds a new frame and returns it for the caller to populate.
func (s *Stack) Push() *Frame {
	f := newFrame()
	s.frames = append(s.frames, f)
	return f
}

// Pop removes the innermost frame. Popping past the bottom is a silent
// no-op.
func (s *Stack) Pop() {
	if len(s.frames) == 0 {
		return
	}
	s.frames = s.frames[:len(s.frames)-1]
}

// Lookup walks frames innermost-first, then the global frame.
func (s *Stack) Lookup(name string) (value.Value, bool) {
	for i := len(s.frames) - 1; i >= 0; i-- {
		if v, ok := s.frames[i].Get(name); ok {
			return v, true
		}
	}
	return s.global.Get(name)
}

// SetLocal sets name in the innermost frame, or the global frame if no
// frame is pushed.
func (s *Stack) SetLocal(name string, v value.Value) {
	if len(s.frames) == 0 {
		s.global.Set(name, v)
		return
	}
	s.frames[len(s.frames)-1].Set(name, v)
}

// Global returns the process-wide frame for this evaluation, writable by
// script engines and the wd:global operator.
func (s *Stack) Global() *Frame { return s.global }

// RegisterGlobal walks/creates the dotted object path under name and sets
// the leaf to v, replacing any intermediate non-object value — the
// register_global contract the scripting host exposes.
func (s *Stack) RegisterGlobal(path []string, v value.Value) {
	if len(path) == 0 {
		return
	}
	if len(path) == 1 {
		s.global.Set(path[0], v)
		return
	}
	head := path[0]
	existing, ok := s.global.Get(head)
	var obj *value.Object
	if ok && existing.Kind() == value.KindObject && existing.Object() != nil {
		obj = existing.Object()
	} else {
		obj = value.NewOrderedObject()
		s.global.Set(head, value.NewObject(obj))
	}
	obj.SetPath(path[1:], v)
}
