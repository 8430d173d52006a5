package kernel

import (
	"errors"
	"testing"

	"oro/hal"
	"oro/oroos/tab"
)

func newHeldToken(t *testing.T, k *Kernel, inst *tab.Tab[Instance], pages uint64) uint64 {
	t.Helper()
	tok, err := NewToken(k, pages)
	if err != nil {
		t.Fatalf("NewToken(%d) error = %v", pages, err)
	}
	defer tok.Release()
	if err := InsertToken(inst, tok); err != nil {
		t.Fatalf("InsertToken() error = %v", err)
	}
	return tok.ID()
}

func TestNewTokenBounds(t *testing.T) {
	k, _ := newTestKernel(t, WithMaxTokenPages(4))
	if _, err := NewToken(k, 0); !errors.Is(err, ErrZeroSize) {
		t.Fatalf("NewToken(0) error = %v, want %v", err, ErrZeroSize)
	}
	if _, err := NewToken(k, 5); !errors.Is(err, ErrTooManyPages) {
		t.Fatalf("NewToken(5) error = %v, want %v", err, ErrTooManyPages)
	}
	tok, err := NewToken(k, 4)
	if err != nil {
		t.Fatalf("NewToken(4) error = %v", err)
	}
	defer tok.Release()
	tok.With(func(tk *Token) {
		if tk.Pages() != 4 || tk.Size() != 4*hal.PageSize || tk.Commit() != 0 {
			t.Fatalf("token pages/size/commit = %d/%d/%d, want 4/%d/0", tk.Pages(), tk.Size(), tk.Commit(), 4*hal.PageSize)
		}
	})
}

func TestGetOrAllocateCommitsOnce(t *testing.T) {
	k, _ := newTestKernel(t)
	tok, err := NewToken(k, 2)
	if err != nil {
		t.Fatalf("NewToken() error = %v", err)
	}
	before := k.FramesInUse()

	var first, again uint64
	tok.WithMut(func(tk *Token) {
		first, err = tk.GetOrAllocate(1)
		if err == nil {
			again, err = tk.GetOrAllocate(1)
		}
	})
	if err != nil {
		t.Fatalf("GetOrAllocate() error = %v", err)
	}
	if first != again {
		t.Fatalf("GetOrAllocate() = %#x then %#x, want the same frame", first, again)
	}
	if got := k.FramesInUse() - before; got != 1 {
		t.Fatalf("frames committed = %d, want 1", got)
	}
	tok.WithMut(func(tk *Token) { _, err = tk.GetOrAllocate(2) })
	if !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("GetOrAllocate(2) error = %v, want %v", err, ErrOutOfRange)
	}

	tok.Release()
	if got := k.FramesInUse(); got != before {
		t.Fatalf("FramesInUse() after release = %d, want %d", got, before)
	}
}

func TestMapTokenBoundaries(t *testing.T) {
	k, _ := newTestKernel(t)
	root := newTestRoot(t, k)
	inst, _ := mountTest(t, k, root)
	user := k.HAL().Layout().UserData

	a := newHeldToken(t, k, inst, 2)
	b := newHeldToken(t, k, inst, 1)

	tests := []struct {
		name  string
		token uint64
		virt  uint64
		want  error
	}{
		{"unaligned", a, user.First + 1, ErrNotAligned},
		{"below user data", a, user.First - hal.PageSize, ErrOutOfRange},
		{"crosses end of user data", a, user.Last + 1 - hal.PageSize, ErrOutOfRange},
		{"not held", a + b + 1000, user.First, ErrBadToken},
		{"first mapping", a, user.First, nil},
		{"overlap with another token", b, user.First + hal.PageSize, ErrConflict},
		{"adjacent", b, user.First + 2*hal.PageSize, nil},
		{"remap over own range", a, user.First + hal.PageSize, ErrConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := MapToken(inst, tt.token, tt.virt)
			if tt.want == nil && err != nil || tt.want != nil && !errors.Is(err, tt.want) {
				t.Fatalf("MapToken(%#x, %#x) error = %v, want %v", tt.token, tt.virt, err, tt.want)
			}
		})
	}
}

func TestMapTokenReplacesPreviousMapping(t *testing.T) {
	k, _ := newTestKernel(t)
	root := newTestRoot(t, k)
	inst, _ := mountTest(t, k, root)
	user := k.HAL().Layout().UserData
	a := newHeldToken(t, k, inst, 2)
	b := newHeldToken(t, k, inst, 1)

	if err := MapToken(inst, a, user.First); err != nil {
		t.Fatalf("MapToken() error = %v", err)
	}
	if err := OnPageFault(inst, user.First); err != nil {
		t.Fatalf("OnPageFault() error = %v", err)
	}
	// Overlapping its own old range is fine.
	if err := MapToken(inst, a, user.First+hal.PageSize); err != nil {
		t.Fatalf("MapToken(shifted) error = %v", err)
	}
	var base uint64
	inst.With(func(i *Instance) { base, _ = i.Base(a) })
	if base != user.First+hal.PageSize {
		t.Fatalf("Base() = %#x, want %#x", base, user.First+hal.PageSize)
	}
	var stale bool
	inst.With(func(i *Instance) { _, stale = i.Mapper().Translate(user.First) })
	if stale {
		t.Fatalf("old mapping still translates")
	}
	if err := MapToken(inst, b, user.First); err != nil {
		t.Fatalf("MapToken() into the vacated page error = %v", err)
	}
}

func TestOnPageFaultUnreserved(t *testing.T) {
	k, _ := newTestKernel(t)
	root := newTestRoot(t, k)
	inst, _ := mountTest(t, k, root)
	if err := OnPageFault(inst, k.HAL().Layout().UserData.First); !errors.Is(err, ErrBadVirt) {
		t.Fatalf("OnPageFault() error = %v, want %v", err, ErrBadVirt)
	}
}

func TestForgetTwice(t *testing.T) {
	k, _ := newTestKernel(t)
	root := newTestRoot(t, k)
	inst, _ := mountTest(t, k, root)
	user := k.HAL().Layout().UserData
	before := k.FramesInUse()

	id := newHeldToken(t, k, inst, 1)
	if err := MapToken(inst, id, user.First); err != nil {
		t.Fatalf("MapToken() error = %v", err)
	}
	if err := OnPageFault(inst, user.First); err != nil {
		t.Fatalf("OnPageFault() error = %v", err)
	}
	if err := ForgetToken(inst, id); err != nil {
		t.Fatalf("ForgetToken() error = %v", err)
	}
	if err := ForgetToken(inst, id); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second ForgetToken() error = %v, want %v", err, ErrNotFound)
	}
	if got := k.FramesInUse(); got != before {
		t.Fatalf("FramesInUse() = %d, want %d", got, before)
	}
	if _, ok := tab.Lookup[Token](k.Table(), id); ok {
		t.Fatalf("forgotten token %#x still registered", id)
	}
}

func TestGrantTokenMovesOwnership(t *testing.T) {
	k, _ := newTestKernel(t)
	root := newTestRoot(t, k)
	a, _ := mountTest(t, k, root)
	b, _ := mountTest(t, k, root)
	user := k.HAL().Layout().UserData

	id := newHeldToken(t, k, a, 1)
	if err := MapToken(a, id, user.First); err != nil {
		t.Fatalf("MapToken() error = %v", err)
	}
	tok, ok := LookupToken(a, id)
	if !ok {
		t.Fatalf("LookupToken() failed")
	}
	defer tok.Release()

	if err := InsertToken(b, tok); !errors.Is(err, ErrBadToken) {
		t.Fatalf("InsertToken() of a held token error = %v, want %v", err, ErrBadToken)
	}
	if err := GrantToken(k, b, tok); err != nil {
		t.Fatalf("GrantToken() error = %v", err)
	}

	var inA, inB bool
	a.With(func(i *Instance) { inA = i.HasToken(id) })
	b.With(func(i *Instance) { inB = i.HasToken(id) })
	if inA || !inB {
		t.Fatalf("held by a = %v, b = %v, want false, true", inA, inB)
	}
	var owner uint64
	tok.With(func(tk *Token) { owner = tk.Owner() })
	if owner != b.ID() {
		t.Fatalf("Owner() = %#x, want %#x", owner, b.ID())
	}
	if err := MapToken(b, id, user.First); err != nil {
		t.Fatalf("MapToken() in new owner error = %v", err)
	}
}
