package registry

import (
	"reflect"
	"sync"
	"testing"
)

func TestRegisterAndGet(t *testing.T) {
	r := NewBaseRegistry[int]()

	if err := r.Register("one", 1); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	got, ok := r.Get("one")
	if !ok || got != 1 {
		t.Errorf("Get(one) = (%d, %v), want (1, true)", got, ok)
	}

	if _, ok := r.Get("missing"); ok {
		t.Error("Get(missing) should report absence")
	}
}

func TestRegisterRejectsDuplicatesAndEmptyNames(t *testing.T) {
	r := NewBaseRegistry[string]()

	if err := r.Register("", "x"); err == nil {
		t.Error("Register with empty name should fail")
	}
	if err := r.Register("a", "x"); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := r.Register("a", "y"); err == nil {
		t.Error("Register with duplicate name should fail")
	}
}

func TestNamesSorted(t *testing.T) {
	r := NewBaseRegistry[int]()
	for i, name := range []string{"weighted", "simple", "waste_management"} {
		if err := r.Register(name, i); err != nil {
			t.Fatalf("Register(%s) error = %v", name, err)
		}
	}

	want := []string{"simple", "waste_management", "weighted"}
	if got := r.Names(); !reflect.DeepEqual(got, want) {
		t.Errorf("Names() = %v, want %v", got, want)
	}
}

func TestRemoveAndCount(t *testing.T) {
	r := NewBaseRegistry[int]()
	_ = r.Register("a", 1)
	_ = r.Register("b", 2)

	if r.Count() != 2 {
		t.Errorf("Count() = %d, want 2", r.Count())
	}
	if err := r.Remove("a"); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if err := r.Remove("a"); err == nil {
		t.Error("Remove of unknown name should fail")
	}
	if r.Count() != 1 {
		t.Errorf("Count() = %d, want 1", r.Count())
	}
}

func TestConcurrentAccess(t *testing.T) {
	r := NewBaseRegistry[int]()
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_ = r.Register(string(rune('a'+n%26))+string(rune('0'+n/26)), n)
			r.Get("a0")
			r.Names()
		}(i)
	}
	wg.Wait()

	if r.Count() == 0 {
		t.Error("expected registrations to land")
	}
}
