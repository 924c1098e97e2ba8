package vmm

import (
	"samepage/kernel"
	"samepage/kernel/mem/pmm"
)

var (
	errNoHugePageSupport = &kernel.Error{Module: "vmm", Message: "huge pages are not supported"}
	errAddressOutOfRange = &kernel.Error{Module: "vmm", Message: "virtual address is outside the user address space"}
	errFrameOutOfRange   = &kernel.Error{Module: "vmm", Message: "physical frame is outside the physical memory arena"}
)

// AddressSpace is a user address space backed by a 4-level page directory
// table whose tables live in physical memory.
type AddressSpace struct {
	mem      *Memory
	pdtFrame pmm.Frame
}

// NewAddressSpace allocates an empty top-level page table.
func NewAddressSpace(m *Memory) (*AddressSpace, *kernel.Error) {
	pdtFrame, err := m.Frames.AllocFrame()
	if err != nil {
		return nil, err
	}

	return &AddressSpace{mem: m, pdtFrame: pdtFrame}, nil
}

// PDTFrame returns the frame that holds the top-level page table.
func (as *AddressSpace) PDTFrame() pmm.Frame {
	return as.pdtFrame
}

// Memory returns the physical memory collaborators used by this address space.
func (as *AddressSpace) Memory() *Memory {
	return as.mem
}

// Map establishes a mapping between a virtual page and a physical memory
// frame. Missing page tables are allocated on demand at each paging level.
func (as *AddressSpace) Map(page Page, frame pmm.Frame, flags PageTableEntryFlag) *kernel.Error {
	if page.Address() >= MaxUserAddr {
		return errAddressOutOfRange
	}
	if !as.mem.RAM.Contains(frame) {
		return errFrameOutOfRange
	}

	var err *kernel.Error

	as.walk(page.Address(), func(pteLevel uint8, pte *PageTableEntry) bool {
		// If we reached the last level all we need to do is to map the
		// frame in place and flag it as present
		if pteLevel == pageLevels-1 {
			*pte = 0
			pte.SetFrame(frame)
			pte.SetFlags(flags)
			return true
		}

		if pte.HasFlags(FlagHugePage) {
			err = errNoHugePageSupport
			return false
		}

		// Next table does not yet exist; the allocator hands out
		// cleared frames so the new table starts out empty.
		if !pte.HasFlags(FlagPresent) {
			var newTableFrame pmm.Frame
			newTableFrame, err = as.mem.Frames.AllocFrame()
			if err != nil {
				return false
			}

			*pte = 0
			pte.SetFrame(newTableFrame)
			pte.SetFlags(FlagPresent | FlagRW | FlagUserAccessible)
		}

		return true
	})

	return err
}

// Unmap removes a mapping previously installed via a call to Map. The frame
// referenced by the mapping is not released.
func (as *AddressSpace) Unmap(page Page) *kernel.Error {
	var err *kernel.Error

	as.walk(page.Address(), func(pteLevel uint8, pte *PageTableEntry) bool {
		if !pte.HasFlags(FlagPresent) {
			err = ErrInvalidMapping
			return false
		}

		if pteLevel == pageLevels-1 {
			pte.ClearFlags(FlagPresent)
			return true
		}

		if pte.HasFlags(FlagHugePage) {
			err = errNoHugePageSupport
			return false
		}

		return true
	})

	return err
}

// Lookup returns the last-level page table entry slot for virtAddr or nil if
// one of the intermediate page tables is missing. The returned slot may
// describe a non-present page; callers must check its flags.
func (as *AddressSpace) Lookup(virtAddr uintptr) *PageTableEntry {
	if virtAddr >= MaxUserAddr {
		return nil
	}

	var entry *PageTableEntry

	as.walk(virtAddr, func(pteLevel uint8, pte *PageTableEntry) bool {
		if pteLevel == pageLevels-1 {
			entry = pte
			return true
		}

		return pte.HasFlags(FlagPresent) && !pte.HasFlags(FlagHugePage)
	})

	return entry
}

// pteForAddress returns the final page table entry that correspond to a
// particular virtual address, returning ErrInvalidMapping if the page is not
// present.
func (as *AddressSpace) pteForAddress(virtAddr uintptr) (*PageTableEntry, *kernel.Error) {
	entry := as.Lookup(virtAddr)
	if entry == nil || !entry.HasFlags(FlagPresent) {
		return nil, ErrInvalidMapping
	}

	return entry, nil
}

// Translate returns the physical address that corresponds to the supplied
// virtual address or ErrInvalidMapping if the virtual address does not
// correspond to a mapped physical address.
func (as *AddressSpace) Translate(virtAddr uintptr) (uintptr, *kernel.Error) {
	pte, err := as.pteForAddress(virtAddr)
	if err != nil {
		return 0, err
	}

	// Calculate the physical address by taking the physical frame address and
	// appending the offset from the virtual address
	physAddr := pte.Frame().Address() + PageOffset(virtAddr)
	return physAddr, nil
}

// Destroy releases every user frame mapped by the address space and the
// frames that hold its page tables. The address space must not be used
// afterwards.
func (as *AddressSpace) Destroy() {
	if !as.pdtFrame.Valid() {
		return
	}

	as.freeTable(as.pdtFrame, 0)
	as.pdtFrame = pmm.InvalidFrame
}

func (as *AddressSpace) freeTable(tableFrame pmm.Frame, level uint8) {
	for index := uintptr(0); index < 1<<pageLevelBits[level]; index++ {
		pte := as.entryAt(tableFrame, index)
		if !pte.HasFlags(FlagPresent) {
			continue
		}

		if level == pageLevels-1 {
			if pte.HasFlags(FlagUserAccessible) {
				as.mem.ReleaseFrame(pte.Frame())
			}
			*pte = 0
			continue
		}

		as.freeTable(pte.Frame(), level+1)
		*pte = 0
	}

	_ = as.mem.Frames.FreeFrame(tableFrame)
}
