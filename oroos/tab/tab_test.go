package tab

import (
	"sync"
	"testing"
)

type thing struct {
	name    string
	dropped *int
}

func (t *thing) Drop() {
	if t.dropped != nil {
		*t.dropped++
	}
}

type other struct{}

func TestAddLookupRoundTrip(t *testing.T) {
	tbl := New()
	h, err := Add(tbl, &thing{name: "a"})
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	defer h.Release()

	got, ok := Lookup[thing](tbl, h.ID())
	if !ok {
		t.Fatalf("Lookup[thing](%#x) ok = false", h.ID())
	}
	defer got.Release()
	if !got.Same(h) {
		t.Fatal("Lookup() returned a different slot")
	}

	var name string
	got.With(func(v *thing) { name = v.name })
	if name != "a" {
		t.Fatalf("name = %q, want %q", name, "a")
	}

	if _, ok := Lookup[other](tbl, h.ID()); ok {
		t.Fatal("Lookup[other]() ok = true for a thing slot")
	}
}

func TestIdentifiersUniqueAndNonZero(t *testing.T) {
	tbl := New()
	const workers, perW = 8, 500
	var (
		mu  sync.Mutex
		ids = map[uint64]bool{}
		all []*Tab[thing]
		wg  sync.WaitGroup
	)
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for i := 0; i < perW; i++ {
				h, err := Add(tbl, &thing{})
				if err != nil {
					t.Errorf("Add() error = %v", err)
					return
				}
				mu.Lock()
				if h.ID() == 0 {
					t.Errorf("Add() issued identifier zero")
				}
				if ids[h.ID()] {
					t.Errorf("identifier %#x issued twice", h.ID())
				}
				ids[h.ID()] = true
				all = append(all, h)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if tbl.Len() != workers*perW {
		t.Fatalf("Len() = %d, want %d", tbl.Len(), workers*perW)
	}
	for _, h := range all {
		h.Release()
	}
	if tbl.Len() != 0 {
		t.Fatalf("Len() after release = %d, want 0", tbl.Len())
	}
}

func TestLastReleaseDestroysSlot(t *testing.T) {
	tbl := New()
	drops := 0
	h, err := Add(tbl, &thing{dropped: &drops})
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	id := h.ID()
	c := h.Clone()
	if h.Refs() != 2 {
		t.Fatalf("Refs() = %d, want 2", h.Refs())
	}

	h.Release()
	if drops != 0 {
		t.Fatal("value dropped while a clone is live")
	}
	l, ok := Lookup[thing](tbl, id)
	if !ok {
		t.Fatal("slot gone while a clone is live")
	}
	l.Release()

	c.Release()
	if drops != 1 {
		t.Fatalf("drops = %d after the last release, want 1", drops)
	}
	if tbl.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", tbl.Len())
	}
}

func TestReleaseDropsOnce(t *testing.T) {
	tbl := New()
	drops := 0
	h, _ := Add(tbl, &thing{dropped: &drops})
	id := h.ID()
	c := h.Clone()
	h.Release()
	c.Release()
	if drops != 1 {
		t.Fatalf("drops = %d, want 1", drops)
	}
	if _, ok := Lookup[thing](tbl, id); ok {
		t.Fatal("Lookup() found a destroyed slot")
	}

	next, _ := Add(tbl, &thing{})
	defer next.Release()
	if next.ID() <= id {
		t.Fatalf("identifier %#x re-used or went backwards (previous %#x)", next.ID(), id)
	}
}

func TestDoubleReleasePanics(t *testing.T) {
	tbl := New()
	h, _ := Add(tbl, &thing{})
	h.Release()
	defer func() {
		if recover() == nil {
			t.Fatal("second Release() did not panic")
		}
	}()
	h.Release()
}

func TestCapacity(t *testing.T) {
	tbl := New(WithCapacity(2))
	a, _ := Add(tbl, &thing{})
	b, _ := Add(tbl, &thing{})
	if _, err := Add(tbl, &thing{}); err != ErrOutOfMemory {
		t.Fatalf("Add() over capacity error = %v, want ErrOutOfMemory", err)
	}
	a.Release()
	c, err := Add(tbl, &thing{})
	if err != nil {
		t.Fatalf("Add() after release error = %v", err)
	}
	b.Release()
	c.Release()
}

func TestWithMutExclusive(t *testing.T) {
	tbl := New()
	type counter struct{ n int }
	h, _ := Add(tbl, &counter{})
	defer h.Release()

	var wg sync.WaitGroup
	wg.Add(4)
	for i := 0; i < 4; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < 1000; j++ {
				h.WithMut(func(c *counter) { c.n++ })
			}
		}()
	}
	wg.Wait()
	var n int
	h.With(func(c *counter) { n = c.n })
	if n != 4000 {
		t.Fatalf("n = %d, want 4000", n)
	}
}

func TestIDAllocatorStartsAboveZero(t *testing.T) {
	a := NewIDAllocator()
	if got := a.Next(); got != FirstID {
		t.Fatalf("Next() = %#x, want %#x", got, FirstID)
	}
	if got := a.Next(); got != FirstID+1 {
		t.Fatalf("Next() = %#x, want %#x", got, FirstID+1)
	}
}
