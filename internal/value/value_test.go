package value

import "testing"

func TestTruthy(t *testing.T) {
	cases := []struct {
		v    Value
		want bool
	}{
		{NewBool(true), true},
		{NewBool(false), false},
		{NewString("true"), true},
		{NewString("false"), false},
		{NewString("1"), false},
		{NewInt(1), false},
		{Null, false},
	}
	for _, c := range cases {
		if got := c.v.Truthy(); got != c.want {
			t.Errorf("Truthy(%v) = %v, want %v", c.v, got, c.want)
		}
	}
}

func TestOrderedObjectPreservesInsertionOrder(t *testing.T) {
	o := NewOrderedObject()
	o.Set("y", NewInt(2))
	o.Set("x", NewInt(1))
	o.Set("y", NewInt(3))

	want := []string{"y", "x"}
	got := o.Keys()
	if len(got) != len(want) {
		t.Fatalf("Keys() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Keys() = %v, want %v", got, want)
		}
	}
	v, _ := o.Get("y")
	if v.Int() != 3 {
		t.Errorf("Get(y) = %v, want 3 (overwritten)", v)
	}
}

func TestFromOrderedJSONPreservesOrder(t *testing.T) {
	v, err := FromOrderedJSON([]byte(`{"b":1,"a":2}`))
	if err != nil {
		t.Fatal(err)
	}
	obj := v.Object()
	if obj == nil {
		t.Fatal("expected object")
	}
	if got := obj.Keys(); len(got) != 2 || got[0] != "b" || got[1] != "a" {
		t.Fatalf("Keys() = %v, want [b a]", got)
	}
}

func TestEqualNumericVsString(t *testing.T) {
	a := NewInt(2)
	b := NewString("2")
	if !a.Equal(b) {
		t.Errorf("expected 2 == \"2\"")
	}
}

func TestSetPathReplacesNonObject(t *testing.T) {
	root := NewOrderedObject()
	root.Set("a", NewString("scalar"))
	root.SetPath([]string{"a", "b", "c"}, NewInt(5))

	a, _ := root.Get("a")
	if a.Kind() != KindObject {
		t.Fatalf("expected a to become an object, got kind %v", a.Kind())
	}
	b := a.Get("b")
	if b.Kind() != KindObject {
		t.Fatalf("expected a.b to be an object")
	}
	c := b.Get("c")
	if c.Int() != 5 {
		t.Fatalf("a.b.c = %v, want 5", c)
	}
}
