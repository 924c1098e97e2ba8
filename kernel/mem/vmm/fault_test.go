package vmm

import (
	"bytes"
	"fmt"
	"testing"

	"samepage/kernel"
	"samepage/kernel/mem"
	"samepage/kernel/mem/pmm"
)

func TestRecoverablePageFault(t *testing.T) {
	var (
		virtAddr = uintptr(0x5000)
		allocErr = &kernel.Error{Module: "test", Message: "something went wrong"}
	)

	specs := []struct {
		pteFlags   PageTableEntryFlag
		code       FaultCode
		allocError *kernel.Error
		expErr     *kernel.Error
	}{
		// Missing page
		{0, FaultWrite | FaultUser, nil, ErrUnrecoverableFault},
		// Page is present but CoW flag not set
		{FlagPresent | FlagUserAccessible, FaultWrite | FaultProtection | FaultUser, nil, ErrUnrecoverableFault},
		// Page is present, merged, but the fault was caused by a read
		{FlagPresent | FlagUserAccessible | FlagCopyOnWrite | FlagMergedRW, FaultProtection | FaultUser, nil, ErrUnrecoverableFault},
		// Page is merged but was read-only before the merge
		{FlagPresent | FlagUserAccessible | FlagCopyOnWrite, FaultWrite | FaultProtection | FaultUser, nil, ErrUnrecoverableFault},
		// Page is merged but allocating a page copy fails
		{FlagPresent | FlagUserAccessible | FlagCopyOnWrite | FlagMergedRW, FaultWrite | FaultProtection | FaultUser, allocErr, allocErr},
		// Page is merged and was writable before the merge
		{FlagPresent | FlagUserAccessible | FlagCopyOnWrite | FlagMergedRW, FaultWrite | FaultProtection | FaultUser, nil, nil},
	}

	for specIndex, spec := range specs {
		t.Run(fmt.Sprint(specIndex), func(t *testing.T) {
			m, alloc := newTestMemory(t, 32)
			as, err := NewAddressSpace(m)
			if err != nil {
				t.Fatal(err)
			}

			sharedFrame, _ := alloc.AllocFrame()
			mem.MemsetPattern(m.RAM.Bytes(sharedFrame), []byte("shared"))
			tracker := &recordingTracker{owned: map[pmm.Frame]bool{sharedFrame: true}}
			m.SetSharedFrameTracker(tracker)

			if err = as.Map(PageFromAddress(virtAddr), sharedFrame, FlagPresent|FlagUserAccessible); err != nil {
				t.Fatal(err)
			}
			pte := as.Lookup(virtAddr)
			*pte = 0
			pte.SetFrame(sharedFrame)
			pte.SetFlags(spec.pteFlags)

			if spec.allocError != nil {
				m.Frames = &failingAllocator{FrameAllocator: alloc, err: spec.allocError}
			}

			if got := as.HandlePageFault(virtAddr+8, spec.code); got != spec.expErr {
				t.Fatalf("expected error %v; got %v", spec.expErr, got)
			}

			if spec.expErr != nil {
				if len(tracker.released) != 0 {
					t.Fatal("expected the shared frame not to be released")
				}
				return
			}

			if pte.Frame() == sharedFrame {
				t.Fatal("expected the entry to point to a private copy")
			}
			if !bytes.Equal(m.RAM.Bytes(pte.Frame()), m.RAM.Bytes(sharedFrame)) {
				t.Fatal("expected the private copy to match the shared page")
			}
			if !pte.HasFlags(FlagPresent|FlagUserAccessible|FlagRW) || pte.HasAnyFlag(FlagCopyOnWrite|FlagMergedRW) {
				t.Fatalf("unexpected flags after CoW: 0x%x", uintptr(*pte))
			}
			if len(tracker.released) != 1 || tracker.released[0] != sharedFrame {
				t.Fatalf("expected shared frame %d to be released once; got %v", sharedFrame, tracker.released)
			}
		})
	}
}

func TestLoadStore(t *testing.T) {
	m, alloc := newTestMemory(t, 32)
	as, err := NewAddressSpace(m)
	if err != nil {
		t.Fatal(err)
	}

	for page := Page(0); page < 2; page++ {
		frame, _ := alloc.AllocFrame()
		if err = as.Map(page, frame, FlagPresent|FlagRW|FlagUserAccessible); err != nil {
			t.Fatal(err)
		}
	}

	// Write across the page boundary
	data := []byte("crossing the page boundary")
	virtAddr := uintptr(mem.PageSize) - 5
	if err = as.Store(virtAddr, data); err != nil {
		t.Fatal(err)
	}

	buf := make([]byte, len(data))
	if err = as.Load(virtAddr, buf); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(buf, data) {
		t.Fatalf("expected to read back %q; got %q", data, buf)
	}

	page, err := as.PageBytes(virtAddr)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(page[mem.PageSize-5:], data[:5]) {
		t.Fatal("expected PageBytes to expose the page contents")
	}

	// Unmapped addresses fault
	if err = as.Store(2*uintptr(mem.PageSize), data); err != ErrUnrecoverableFault {
		t.Fatalf("expected ErrUnrecoverableFault; got %v", err)
	}
	if err = as.Load(2*uintptr(mem.PageSize), buf); err != ErrUnrecoverableFault {
		t.Fatalf("expected ErrUnrecoverableFault; got %v", err)
	}
	if _, err = as.PageBytes(2 * uintptr(mem.PageSize)); err != ErrInvalidMapping {
		t.Fatalf("expected ErrInvalidMapping; got %v", err)
	}

	// Kernel-only pages are not accessible
	kframe, _ := alloc.AllocFrame()
	if err = as.Map(Page(8), kframe, FlagPresent|FlagRW); err != nil {
		t.Fatal(err)
	}
	if err = as.Store(Page(8).Address(), data); err != ErrUnrecoverableFault {
		t.Fatalf("expected ErrUnrecoverableFault for kernel page; got %v", err)
	}
}

func TestStoreBreaksCopyOnWrite(t *testing.T) {
	m, alloc := newTestMemory(t, 32)
	as, err := NewAddressSpace(m)
	if err != nil {
		t.Fatal(err)
	}

	sharedFrame, _ := alloc.AllocFrame()
	mem.MemsetPattern(m.RAM.Bytes(sharedFrame), []byte{0xab})
	tracker := &recordingTracker{owned: map[pmm.Frame]bool{sharedFrame: true}}
	m.SetSharedFrameTracker(tracker)

	if err = as.Map(Page(3), sharedFrame, FlagPresent|FlagRW|FlagUserAccessible); err != nil {
		t.Fatal(err)
	}
	as.Lookup(Page(3).Address()).WriteProtect()

	if err = as.Store(Page(3).Address()+1, []byte{0x01}); err != nil {
		t.Fatal(err)
	}

	page, _ := as.PageBytes(Page(3).Address())
	if page[0] != 0xab || page[1] != 0x01 {
		t.Fatalf("expected private copy with the new byte; got %x %x", page[0], page[1])
	}
	if shared := m.RAM.Bytes(sharedFrame); shared[1] != 0xab {
		t.Fatal("expected the shared frame to remain untouched")
	}
	if len(tracker.released) != 1 {
		t.Fatalf("expected one release; got %d", len(tracker.released))
	}

	// Pages that were read-only before the merge stay read-only
	roFrame, _ := alloc.AllocFrame()
	if err = as.Map(Page(4), roFrame, FlagPresent|FlagUserAccessible); err != nil {
		t.Fatal(err)
	}
	as.Lookup(Page(4).Address()).WriteProtect()
	if err = as.Store(Page(4).Address(), []byte{1}); err != ErrUnrecoverableFault {
		t.Fatalf("expected ErrUnrecoverableFault; got %v", err)
	}
}

func TestCopyOut(t *testing.T) {
	m, alloc := newTestMemory(t, 16)
	as, err := NewAddressSpace(m)
	if err != nil {
		t.Fatal(err)
	}

	frame, _ := alloc.AllocFrame()
	if err = as.Map(Page(1), frame, FlagPresent|FlagRW|FlagUserAccessible); err != nil {
		t.Fatal(err)
	}

	if err = as.CopyOut(Page(1).Address()+4, []byte{1, 2, 3, 4}); err != nil {
		t.Fatal(err)
	}
	if got := m.RAM.Bytes(frame)[4:8]; !bytes.Equal(got, []byte{1, 2, 3, 4}) {
		t.Fatalf("expected copied bytes to land in frame %d; got %v", frame, got)
	}

	if err = as.CopyOut(MaxUserAddr-2, []byte{1, 2, 3, 4}); err != ErrInvalidMapping {
		t.Fatalf("expected ErrInvalidMapping for a buffer crossing the user range; got %v", err)
	}
}
