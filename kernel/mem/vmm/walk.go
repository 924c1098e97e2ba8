package vmm

import (
	"unsafe"

	"samepage/kernel/mem"
	"samepage/kernel/mem/pmm"
)

// pageTableWalker is a function that can be passed to the walk method. The
// function receives the current page level and page table entry as its
// arguments.  If the function returns false, then the page walk is aborted.
type pageTableWalker func(pteLevel uint8, pte *PageTableEntry) bool

// walk performs a page table walk for the given virtual address. It calls the
// suppplied walkFn with the page table entry that corresponds to each page
// table level. The walk stops when walkFn returns false or when an
// intermediate entry is not present after walkFn returns.
func (as *AddressSpace) walk(virtAddr uintptr, walkFn pageTableWalker) {
	var (
		level      uint8
		tableFrame = as.pdtFrame
		entryIndex uintptr
		pte        *PageTableEntry
	)

	for level = uint8(0); level < pageLevels; level++ {
		// Extract the bits from virtual address that correspond to the
		// index in this level's page table
		entryIndex = (virtAddr >> pageLevelShifts[level]) & ((1 << pageLevelBits[level]) - 1)
		pte = as.entryAt(tableFrame, entryIndex)

		if !walkFn(level, pte) {
			return
		}

		if level < pageLevels-1 && !pte.HasFlags(FlagPresent) {
			return
		}

		tableFrame = pte.Frame()
	}
}

// entryAt returns a pointer to the entry with the given index inside the
// page table stored in tableFrame.
func (as *AddressSpace) entryAt(tableFrame pmm.Frame, index uintptr) *PageTableEntry {
	table := as.mem.RAM.Bytes(tableFrame)
	return (*PageTableEntry)(unsafe.Pointer(&table[index<<mem.PointerShift]))
}
