package ksm

import (
	"github.com/RoaringBitmap/roaring"

	"samepage/kernel/mem/pmm"
)

// Locator names a mapping by owner and virtual address. It is resolved
// against the process table on demand, so a locator whose mapping went away
// simply fails to resolve.
type Locator struct {
	PID      int
	VirtAddr uintptr
}

// group is a registry slot. A slot with refs == 0 is free.
type group struct {
	rep    Locator
	frame  pmm.Frame
	hash   Digest
	refs   int
	shared bool
}

// registry is a fixed-capacity table of merge groups. Slots are searched in
// index order. byFrame indexes the backing frames of every live group.
type registry struct {
	groups  []group
	byFrame *roaring.Bitmap
	maxRefs int
}

func newRegistry(capacity, maxRefs int) *registry {
	return &registry{
		groups:  make([]group, capacity),
		byFrame: roaring.New(),
		maxRefs: maxRefs,
	}
}

// tracks returns true if frame backs a live group.
func (r *registry) tracks(frame pmm.Frame) bool {
	return r.byFrame.Contains(uint32(frame))
}

// slotFor returns the index of the live group backed by frame or -1.
func (r *registry) slotFor(frame pmm.Frame) int {
	if !r.tracks(frame) {
		return -1
	}

	for i := range r.groups {
		if r.groups[i].refs > 0 && r.groups[i].frame == frame {
			return i
		}
	}
	return -1
}

// match returns the index of the first live group with the given hash that
// is backed by a frame other than frame and has room for another member.
func (r *registry) match(hash Digest, frame pmm.Frame, from int) int {
	for i := from; i < len(r.groups); i++ {
		g := &r.groups[i]
		if g.refs == 0 || g.hash != hash || g.frame == frame {
			continue
		}
		if r.maxRefs > 0 && g.refs >= r.maxRefs {
			continue
		}
		return i
	}
	return -1
}

// seed claims the first free slot for a new singleton candidate. It returns
// false if the registry is full.
func (r *registry) seed(rep Locator, frame pmm.Frame, hash Digest) bool {
	for i := range r.groups {
		if r.groups[i].refs != 0 {
			continue
		}

		r.groups[i] = group{rep: rep, frame: frame, hash: hash, refs: 1}
		r.byFrame.Add(uint32(frame))
		return true
	}
	return false
}

// clear returns a slot to the free state.
func (r *registry) clear(i int) {
	r.byFrame.Remove(uint32(r.groups[i].frame))
	r.groups[i] = group{}
}

// counts returns the number of live and of actively shared groups.
func (r *registry) counts() (live, shared int) {
	for i := range r.groups {
		if r.groups[i].refs == 0 {
			continue
		}
		live++
		if r.groups[i].shared {
			shared++
		}
	}
	return live, shared
}
