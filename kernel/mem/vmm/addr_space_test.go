package vmm

import (
	"testing"

	"samepage/kernel/mem"
	"samepage/kernel/mem/pmm"
)

func TestWalkTableIndices(t *testing.T) {
	m, _ := newTestMemory(t, 64)
	as, err := NewAddressSpace(m)
	if err != nil {
		t.Fatal(err)
	}

	// This address breaks down to:
	// p4 index: 1
	// p3 index: 2
	// p2 index: 3
	// p1 index: 4
	// offset  : 1024
	targetAddr := uintptr(0x8080604400)
	if err = as.Map(PageFromAddress(targetAddr), pmm.Frame(60), FlagPresent|FlagUserAccessible); err != nil {
		t.Fatal(err)
	}

	expIndices := [pageLevels]uintptr{1, 2, 3, 4}
	tableFrame := as.PDTFrame()
	level := 0
	as.walk(targetAddr, func(pteLevel uint8, pte *PageTableEntry) bool {
		if exp := as.entryAt(tableFrame, expIndices[pteLevel]); exp != pte {
			t.Errorf("[level %d] expected walk to visit entry %d", pteLevel, expIndices[pteLevel])
		}
		tableFrame = pte.Frame()
		level++
		return true
	})

	if level != pageLevels {
		t.Fatalf("expected walk to visit %d levels; visited %d", pageLevels, level)
	}

	if exp, got := pmm.Frame(60), tableFrame; got != exp {
		t.Fatalf("expected leaf entry to point to frame %d; got %d", exp, got)
	}
}

func TestMapLookupTranslateUnmap(t *testing.T) {
	m, alloc := newTestMemory(t, 64)
	as, err := NewAddressSpace(m)
	if err != nil {
		t.Fatal(err)
	}

	virtAddr := uintptr(0x1000)
	if pte := as.Lookup(virtAddr); pte != nil {
		t.Fatal("expected Lookup to return nil when page tables are missing")
	}

	frame, err := alloc.AllocFrame()
	if err != nil {
		t.Fatal(err)
	}

	flags := FlagPresent | FlagRW | FlagUserAccessible
	if err = as.Map(PageFromAddress(virtAddr), frame, flags); err != nil {
		t.Fatal(err)
	}

	pte := as.Lookup(virtAddr + 12)
	if pte == nil {
		t.Fatal("expected Lookup to return the leaf entry")
	}
	if !pte.HasFlags(flags) || pte.Frame() != frame {
		t.Fatalf("expected entry to map frame %d with flags 0x%x; got 0x%x", frame, flags, uintptr(*pte))
	}

	// A neighbouring page shares the leaf table; its slot exists but is not present
	if other := as.Lookup(virtAddr + uintptr(mem.PageSize)); other == nil || other.HasFlags(FlagPresent) {
		t.Fatal("expected Lookup to return an empty slot for an unmapped page in a mapped table")
	}

	physAddr, err := as.Translate(virtAddr + 12)
	if err != nil {
		t.Fatal(err)
	}
	if exp := frame.Address() + 12; physAddr != exp {
		t.Fatalf("expected Translate to return 0x%x; got 0x%x", exp, physAddr)
	}

	if err = as.Unmap(PageFromAddress(virtAddr)); err != nil {
		t.Fatal(err)
	}
	if _, err = as.Translate(virtAddr); err != ErrInvalidMapping {
		t.Fatalf("expected ErrInvalidMapping after Unmap; got %v", err)
	}
	if err = as.Unmap(PageFromAddress(virtAddr)); err != ErrInvalidMapping {
		t.Fatalf("expected ErrInvalidMapping when unmapping twice; got %v", err)
	}
	if err = as.Unmap(PageFromAddress(0x7f0000000000)); err != ErrInvalidMapping {
		t.Fatalf("expected ErrInvalidMapping for an address without page tables; got %v", err)
	}
}

func TestMapErrors(t *testing.T) {
	m, alloc := newTestMemory(t, 16)
	as, err := NewAddressSpace(m)
	if err != nil {
		t.Fatal(err)
	}

	if err = as.Map(PageFromAddress(MaxUserAddr), pmm.Frame(2), FlagPresent); err != errAddressOutOfRange {
		t.Fatalf("expected errAddressOutOfRange; got %v", err)
	}

	if err = as.Map(Page(0), pmm.Frame(16), FlagPresent); err != errFrameOutOfRange {
		t.Fatalf("expected errFrameOutOfRange; got %v", err)
	}

	// Huge page entries at an intermediate level are rejected
	as.entryAt(as.PDTFrame(), 0).SetFlags(FlagPresent | FlagHugePage)
	if err = as.Map(Page(0), pmm.Frame(2), FlagPresent); err != errNoHugePageSupport {
		t.Fatalf("expected errNoHugePageSupport; got %v", err)
	}
	if pte := as.Lookup(0); pte != nil {
		t.Fatal("expected Lookup to refuse huge page mappings")
	}
	*as.entryAt(as.PDTFrame(), 0) = 0

	// Allocating an intermediate table fails
	m.Frames = &failingAllocator{FrameAllocator: alloc, remaining: 1, err: pmm.ErrOutOfMemory}
	if err = as.Map(Page(0), pmm.Frame(2), FlagPresent); err != pmm.ErrOutOfMemory {
		t.Fatalf("expected pmm.ErrOutOfMemory; got %v", err)
	}
}

func TestDestroy(t *testing.T) {
	m, alloc := newTestMemory(t, 128)
	freeAtStart := alloc.FreeFrames()

	as, err := NewAddressSpace(m)
	if err != nil {
		t.Fatal(err)
	}

	sharedFrame, _ := alloc.AllocFrame()
	tracker := &recordingTracker{owned: map[pmm.Frame]bool{sharedFrame: true}}
	m.SetSharedFrameTracker(tracker)

	// Private pages spread across two leaf tables plus one shared page
	for _, virtAddr := range []uintptr{0, 0x1000, 0x400000} {
		frame, err := alloc.AllocFrame()
		if err != nil {
			t.Fatal(err)
		}
		if err = as.Map(PageFromAddress(virtAddr), frame, FlagPresent|FlagRW|FlagUserAccessible); err != nil {
			t.Fatal(err)
		}
	}
	if err = as.Map(PageFromAddress(0x2000), sharedFrame, FlagPresent|FlagUserAccessible|FlagCopyOnWrite); err != nil {
		t.Fatal(err)
	}

	as.Destroy()
	as.Destroy()

	if exp, got := 4, len(tracker.released); got != exp {
		t.Fatalf("expected %d frames to be released through the tracker; got %d", exp, got)
	}

	// Everything except the tracker-owned frame is back in the allocator
	if exp, got := freeAtStart-1, alloc.FreeFrames(); got != exp {
		t.Fatalf("expected %d free frames after Destroy; got %d", exp, got)
	}

	if as.PDTFrame().Valid() {
		t.Fatal("expected PDT frame to be invalidated")
	}
}
