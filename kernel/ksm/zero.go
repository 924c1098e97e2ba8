package ksm

import (
	"samepage/kernel"
	"samepage/kernel/mem/pmm"
	"samepage/kernel/mem/vmm"
)

// zeroGroup tracks the single shared all-zero page.
type zeroGroup struct {
	frame pmm.Frame
	hash  Digest
	refs  uint64
}

func newZeroGroup(m *vmm.Memory) (*zeroGroup, *kernel.Error) {
	frame, err := m.Frames.AllocFrame()
	if err != nil {
		return nil, err
	}

	// Allocated frames are already cleared
	return &zeroGroup{
		frame: frame,
		hash:  hashPage(m.RAM.Bytes(frame)),
	}, nil
}

type zeroResult uint8

const (
	notZero zeroResult = iota
	zeroMerged
	zeroAlreadyMerged
)

// mergeZero redirects pte to the zero page if the page it references hashes
// like an all-zero page.
func (k *KSM) mergeZero(pte *vmm.PageTableEntry, hash Digest) zeroResult {
	if pte.Frame() == k.zero.frame {
		return zeroAlreadyMerged
	}

	if hash != k.zero.hash {
		return notZero
	}

	k.redirect(pte, k.zero.frame)
	k.zero.refs++
	return zeroMerged
}
