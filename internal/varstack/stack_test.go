package varstack

import (
	"testing"

	"github.com/helix90/wilddoc/internal/value"
)

func TestLookupWalksInnermostFirst(t *testing.T) {
	s := New()
	s.Global().Set("x", value.NewString("global"))
	f1 := s.Push()
	f1.Set("x", value.NewString("outer"))
	f2 := s.Push()
	f2.Set("x", value.NewString("inner"))

	v, ok := s.Lookup("x")
	if !ok || v.String() != "inner" {
		t.Fatalf("Lookup(x) = %v, %v, want inner", v, ok)
	}

	s.Pop()
	v, ok = s.Lookup("x")
	if !ok || v.String() != "outer" {
		t.Fatalf("Lookup(x) = %v, %v, want outer", v, ok)
	}

	s.Pop()
	v, ok = s.Lookup("x")
	if !ok || v.String() != "global" {
		t.Fatalf("Lookup(x) = %v, %v, want global", v, ok)
	}
}

func TestPopPastBottomIsNoop(t *testing.T) {
	s := New()
	s.Pop()
	s.Pop()
	if s.Depth() != 0 {
		t.Fatalf("Depth() = %d, want 0", s.Depth())
	}
}

func TestRegisterGlobalCreatesPath(t *testing.T) {
	s := New()
	s.RegisterGlobal([]string{"status"}, value.NewInt(200))
	s.RegisterGlobal([]string{"headers", "content-type"}, value.NewString("text/html"))

	status, _ := s.Lookup("status")
	if status.Int() != 200 {
		t.Fatalf("status = %v, want 200", status)
	}
	headers, _ := s.Lookup("headers")
	ct := headers.Get("content-type")
	if ct.String() != "text/html" {
		t.Fatalf("headers.content-type = %v", ct)
	}
}

func TestRegisterGlobalReplacesNonObjectIntermediate(t *testing.T) {
	s := New()
	s.Global().Set("a", value.NewString("scalar"))
	s.RegisterGlobal([]string{"a", "b"}, value.NewInt(1))
	a, _ := s.Lookup("a")
	if a.Kind() != value.KindObject {
		t.Fatalf("expected a to become object, got %v", a.Kind())
	}
}
