package vmm

import (
	"samepage/kernel/mem/pmm"
)

// SharedFrameTracker is implemented by subsystems that hand out frames
// shared by several mappings. Release is invoked whenever a mapping stops
// referencing frame and returns true if the tracker took ownership of the
// release; otherwise the frame is returned to the frame allocator.
type SharedFrameTracker interface {
	Release(frame pmm.Frame) bool
}

// Memory bundles the physical memory collaborators shared by all address
// spaces.
type Memory struct {
	RAM    *pmm.RAM
	Frames pmm.FrameAllocator

	shared SharedFrameTracker
}

// NewMemory returns a Memory that allocates page tables and user pages from
// frames and accesses their contents through ram.
func NewMemory(ram *pmm.RAM, frames pmm.FrameAllocator) *Memory {
	return &Memory{RAM: ram, Frames: frames}
}

// SetSharedFrameTracker registers the tracker that is consulted before
// releasing a user frame.
func (m *Memory) SetSharedFrameTracker(tracker SharedFrameTracker) {
	m.shared = tracker
}

// ReleaseFrame drops a mapping's reference to a user frame.
func (m *Memory) ReleaseFrame(frame pmm.Frame) {
	if m.shared != nil && m.shared.Release(frame) {
		return
	}
	_ = m.Frames.FreeFrame(frame)
}
