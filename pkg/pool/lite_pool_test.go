package pool

import "testing"

type resettableThing struct {
	value int
	reset bool
}

func (r *resettableThing) Reset() {
	r.value = 0
	r.reset = true
}

func TestLitePool_GetReturnsConstructedValue(t *testing.T) {
	p := NewLitePool(func() *resettableThing { return &resettableThing{} })
	v := p.Get()
	if v == nil {
		t.Fatal("expected a non-nil value from Get")
	}
}

func TestLitePool_PutResetsResettableValues(t *testing.T) {
	p := NewLitePool(func() *resettableThing { return &resettableThing{} })
	v := p.Get()
	v.value = 42

	p.Put(v)
	if !v.reset {
		t.Fatal("expected Put to call Reset on a Resettable value")
	}
	if v.value != 0 {
		t.Fatal("expected Reset to have zeroed the value")
	}
}

func TestLitePool_PanicsOnNilConstructor(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected NewLitePool(nil) to panic")
		}
	}()
	NewLitePool[*resettableThing](nil)
}
