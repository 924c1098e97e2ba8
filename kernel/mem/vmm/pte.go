package vmm

import (
	"samepage/kernel"
	"samepage/kernel/mem"
	"samepage/kernel/mem/pmm"
)

var (
	// ErrInvalidMapping is returned when trying to lookup a virtual memory address that is not yet mapped.
	ErrInvalidMapping = &kernel.Error{Module: "vmm", Message: "virtual address does not point to a mapped physical page"}
)

// PageTableEntryFlag describes a flag that can be applied to a page table entry.
type PageTableEntryFlag uintptr

// PageTableEntry describes a page table entry. These entries encode
// a physical frame address and a set of flags. The actual format
// of the entry and flags is architecture-dependent.
type PageTableEntry uintptr

// HasFlags returns true if this entry has all the input flags set.
func (pte PageTableEntry) HasFlags(flags PageTableEntryFlag) bool {
	return (uintptr(pte) & uintptr(flags)) == uintptr(flags)
}

// HasAnyFlag returns true if this entry has at least one of the input flags set.
func (pte PageTableEntry) HasAnyFlag(flags PageTableEntryFlag) bool {
	return (uintptr(pte) & uintptr(flags)) != 0
}

// SetFlags sets the input list of flags to the page table entry.
func (pte *PageTableEntry) SetFlags(flags PageTableEntryFlag) {
	*pte = (PageTableEntry)(uintptr(*pte) | uintptr(flags))
}

// ClearFlags unsets the input list of flags from the page table entry.
func (pte *PageTableEntry) ClearFlags(flags PageTableEntryFlag) {
	*pte = (PageTableEntry)(uintptr(*pte) &^ uintptr(flags))
}

// Frame returns the physical page frame that this page table entry points to.
func (pte PageTableEntry) Frame() pmm.Frame {
	return pmm.Frame((uintptr(pte) & ptePhysPageMask) >> mem.PageShift)
}

// SetFrame updates the page table entry to point the the given physical frame .
func (pte *PageTableEntry) SetFrame(frame pmm.Frame) {
	*pte = (PageTableEntry)((uintptr(*pte) &^ ptePhysPageMask) | frame.Address())
}

// MergeStatus describes whether a mapping owns its frame.
type MergeStatus uint8

const (
	// Private mappings own their frame.
	Private MergeStatus = iota

	// MergedReadOnly mappings reference a shared frame and are
	// write-protected until a write fault installs a private copy.
	MergedReadOnly
)

// MergeState is the decoded sharing state of a mapping.
type MergeState struct {
	Status MergeStatus

	// PriorWritable is only meaningful for MergedReadOnly mappings and
	// reports whether the mapping was writable before it got shared.
	PriorWritable bool
}

// String implements fmt.Stringer.
func (s MergeState) String() string {
	switch {
	case s.Status == Private:
		return "private"
	case s.PriorWritable:
		return "merged (rw)"
	default:
		return "merged (ro)"
	}
}

// MergeState decodes the sharing state of this entry.
func (pte PageTableEntry) MergeState() MergeState {
	if !pte.HasFlags(FlagCopyOnWrite) {
		return MergeState{Status: Private}
	}

	return MergeState{
		Status:        MergedReadOnly,
		PriorWritable: pte.HasFlags(FlagMergedRW),
	}
}

// WriteProtect converts the entry into a MergedReadOnly mapping, recording
// whether it was writable. Protecting an entry that is already merged keeps
// the originally recorded permission. All other flags are preserved.
func (pte *PageTableEntry) WriteProtect() {
	if !pte.HasFlags(FlagCopyOnWrite) {
		if pte.HasFlags(FlagRW) {
			pte.SetFlags(FlagMergedRW)
		}
		pte.SetFlags(FlagCopyOnWrite)
	}
	pte.ClearFlags(FlagRW)
}

// restoreWrite turns a MergedReadOnly entry back into a private one,
// restoring FlagRW if the entry was writable before it got merged.
func (pte *PageTableEntry) restoreWrite() {
	priorWritable := pte.HasFlags(FlagMergedRW)
	pte.ClearFlags(FlagCopyOnWrite | FlagMergedRW)
	if priorWritable {
		pte.SetFlags(FlagRW)
	}
}
