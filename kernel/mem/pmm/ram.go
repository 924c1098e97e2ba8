package pmm

import (
	"golang.org/x/sys/unix"

	"samepage/kernel"
	"samepage/kernel/mem"
)

var (
	// mmapFn and munmapFn are used by tests to simulate host mapping failures.
	mmapFn   = unix.Mmap
	munmapFn = unix.Munmap

	errRAMSize  = &kernel.Error{Module: "pmm", Message: "physical memory must contain at least two frames"}
	errRAMMap   = &kernel.Error{Module: "pmm", Message: "unable to map physical memory arena"}
	errRAMUnmap = &kernel.Error{Module: "pmm", Message: "unable to unmap physical memory arena"}
)

// RAM emulates the machine's physical memory. It is backed by an anonymous
// host mapping that lives outside the Go heap so page table entries stored
// inside it can be addressed through raw pointers.
type RAM struct {
	raw    []byte
	frames uint32
}

// NewRAM maps a physical memory arena with the requested number of frames.
// Frame 0 is part of the arena but is never handed out by the allocator.
func NewRAM(frames uint32) (*RAM, *kernel.Error) {
	if frames < 2 {
		return nil, errRAMSize
	}

	size := int(frames) * int(mem.PageSize)
	raw, err := mmapFn(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, errRAMMap
	}

	return &RAM{raw: raw, frames: frames}, nil
}

// Close releases the arena. The RAM must not be used afterwards.
func (r *RAM) Close() *kernel.Error {
	if r.raw == nil {
		return nil
	}

	if err := munmapFn(r.raw); err != nil {
		return errRAMUnmap
	}
	r.raw = nil
	return nil
}

// Frames returns the number of frames in the arena.
func (r *RAM) Frames() uint32 {
	return r.frames
}

// Size returns the arena size in bytes.
func (r *RAM) Size() mem.Size {
	return mem.Size(r.frames) * mem.PageSize
}

// Contains returns true if frame lies inside the arena.
func (r *RAM) Contains(frame Frame) bool {
	return frame.Valid() && uint64(frame) < uint64(r.frames)
}

// Bytes returns the contents of a physical frame. Callers must ensure that
// the frame lies inside the arena.
func (r *RAM) Bytes(frame Frame) []byte {
	start := frame.Address()
	end := start + uintptr(mem.PageSize)
	return r.raw[start:end:end]
}
