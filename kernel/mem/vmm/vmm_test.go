package vmm

import (
	"testing"

	"samepage/kernel"
	"samepage/kernel/mem/pmm"
)

func newTestMemory(t *testing.T, frames uint32) (*Memory, *pmm.BitmapAllocator) {
	t.Helper()

	ram, err := pmm.NewRAM(frames)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = ram.Close() })

	alloc := pmm.NewBitmapAllocator(ram)
	return NewMemory(ram, alloc), alloc
}

// failingAllocator wraps a FrameAllocator and fails after a number of
// successful allocations.
type failingAllocator struct {
	pmm.FrameAllocator
	remaining int
	err       *kernel.Error
}

func (a *failingAllocator) AllocFrame() (pmm.Frame, *kernel.Error) {
	if a.remaining == 0 {
		return pmm.InvalidFrame, a.err
	}
	a.remaining--
	return a.FrameAllocator.AllocFrame()
}

// recordingTracker claims ownership of the frames in its owned set and
// records every release.
type recordingTracker struct {
	owned    map[pmm.Frame]bool
	released []pmm.Frame
}

func (tr *recordingTracker) Release(frame pmm.Frame) bool {
	tr.released = append(tr.released, frame)
	return tr.owned[frame]
}
