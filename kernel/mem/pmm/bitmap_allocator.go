package pmm

import (
	"github.com/bits-and-blooms/bitset"

	"samepage/kernel"
	"samepage/kernel/klog"
	"samepage/kernel/mem"
	"samepage/kernel/sync"
)

var (
	// ErrOutOfMemory is returned when no free frames remain.
	ErrOutOfMemory = &kernel.Error{Module: "bitmap_alloc", Message: "out of memory"}

	// ErrDoubleFree is returned when freeing a frame that is not reserved.
	ErrDoubleFree = &kernel.Error{Module: "bitmap_alloc", Message: "frame is already free"}

	// ErrFrameNotManaged is returned when freeing a frame that does not
	// belong to the allocator.
	ErrFrameNotManaged = &kernel.Error{Module: "bitmap_alloc", Message: "frame is not managed by this allocator"}
)

// reservedFrames is the number of frames at the start of the arena that are
// never handed out. A zeroed page table entry points at frame 0 so it must
// never back a real mapping.
const reservedFrames = 1

// BitmapAllocator implements a physical frame allocator that tracks frame
// reservations using a bitmap with one bit per frame.
type BitmapAllocator struct {
	lock sync.Spinlock

	ram *RAM

	// totalPages tracks the total number of pages managed by the allocator.
	totalPages uint32

	// reservedPages tracks the number of reserved pages.
	reservedPages uint32

	// nextHint is the bitmap index where the next free-frame search starts.
	nextHint uint

	used *bitset.BitSet
}

// NewBitmapAllocator returns an allocator that manages every frame in ram.
func NewBitmapAllocator(ram *RAM) *BitmapAllocator {
	alloc := &BitmapAllocator{
		ram:        ram,
		totalPages: ram.Frames(),
		used:       bitset.New(uint(ram.Frames())),
	}

	for frame := uint(0); frame < reservedFrames; frame++ {
		alloc.used.Set(frame)
		alloc.reservedPages++
	}
	alloc.nextHint = reservedFrames

	klog.For("bitmap_alloc").Debug("physical memory online",
		"frames", alloc.totalPages,
		"bytes", uint64(ram.Size()),
	)

	return alloc
}

// AllocFrame reserves the next free frame and clears its contents.
func (alloc *BitmapAllocator) AllocFrame() (Frame, *kernel.Error) {
	alloc.lock.Acquire()
	index, ok := alloc.nextClear(alloc.nextHint)
	if !ok {
		index, ok = alloc.nextClear(reservedFrames)
	}
	if !ok {
		alloc.lock.Release()
		return InvalidFrame, ErrOutOfMemory
	}

	alloc.used.Set(index)
	alloc.reservedPages++
	alloc.nextHint = index + 1
	alloc.lock.Release()

	frame := Frame(index)
	mem.Memset(alloc.ram.Bytes(frame), 0)
	return frame, nil
}

// FreeFrame releases a frame previously reserved via a call to AllocFrame.
func (alloc *BitmapAllocator) FreeFrame(frame Frame) *kernel.Error {
	if !alloc.ram.Contains(frame) || frame < reservedFrames {
		return ErrFrameNotManaged
	}

	alloc.lock.Acquire()
	defer alloc.lock.Release()

	if !alloc.used.Test(uint(frame)) {
		return ErrDoubleFree
	}

	alloc.used.Clear(uint(frame))
	alloc.reservedPages--
	return nil
}

// IsReserved returns true if the frame is currently allocated.
func (alloc *BitmapAllocator) IsReserved(frame Frame) bool {
	if !alloc.ram.Contains(frame) {
		return false
	}

	alloc.lock.Acquire()
	defer alloc.lock.Release()
	return alloc.used.Test(uint(frame))
}

// TotalFrames returns the number of frames managed by the allocator.
func (alloc *BitmapAllocator) TotalFrames() uint32 {
	return alloc.totalPages
}

// FreeFrames returns the number of frames that can still be allocated.
func (alloc *BitmapAllocator) FreeFrames() uint32 {
	alloc.lock.Acquire()
	defer alloc.lock.Release()
	return alloc.totalPages - alloc.reservedPages
}

// FreeMemory returns the amount of unallocated physical memory.
func (alloc *BitmapAllocator) FreeMemory() mem.Size {
	return mem.Size(alloc.FreeFrames()) * mem.PageSize
}

func (alloc *BitmapAllocator) nextClear(from uint) (uint, bool) {
	index, ok := alloc.used.NextClear(from)
	if !ok || index >= uint(alloc.totalPages) {
		return 0, false
	}
	return index, true
}
