package vmm

import (
	"samepage/kernel"
	"samepage/kernel/mem"
)

// Load copies len(buf) bytes starting at virtAddr into buf, performing the
// same permission checks as a user-mode read.
func (as *AddressSpace) Load(virtAddr uintptr, buf []byte) *kernel.Error {
	for len(buf) > 0 {
		pte, err := as.userEntry(virtAddr)
		if err != nil {
			return as.HandlePageFault(virtAddr, FaultUser)
		}

		page := as.mem.RAM.Bytes(pte.Frame())
		n := copy(buf, page[PageOffset(virtAddr):])
		buf = buf[n:]
		virtAddr += uintptr(n)
	}

	return nil
}

// Store copies data to user memory starting at virtAddr. Stores to
// write-protected pages go through HandlePageFault exactly like a user-mode
// write would; system calls use Store to copy results out to user buffers.
func (as *AddressSpace) Store(virtAddr uintptr, data []byte) *kernel.Error {
	for len(data) > 0 {
		pte, err := as.userEntry(virtAddr)
		if err != nil {
			return as.HandlePageFault(virtAddr, FaultUser|FaultWrite)
		}

		if !pte.HasFlags(FlagRW) {
			if err = as.HandlePageFault(virtAddr, FaultUser|FaultWrite|FaultProtection); err != nil {
				return err
			}
		}

		page := as.mem.RAM.Bytes(pte.Frame())
		n := copy(page[PageOffset(virtAddr):], data)
		data = data[n:]
		virtAddr += uintptr(n)
	}

	return nil
}

// PageBytes returns the contents of the frame currently mapped at the page
// that contains virtAddr. The returned slice aliases physical memory.
func (as *AddressSpace) PageBytes(virtAddr uintptr) ([]byte, *kernel.Error) {
	pte, err := as.pteForAddress(mem.PageAlignDown(virtAddr))
	if err != nil {
		return nil, err
	}
	return as.mem.RAM.Bytes(pte.Frame()), nil
}

// userEntry returns the present, user-accessible entry that maps virtAddr.
func (as *AddressSpace) userEntry(virtAddr uintptr) (*PageTableEntry, *kernel.Error) {
	pte, err := as.pteForAddress(virtAddr)
	if err != nil {
		return nil, err
	}

	if !pte.HasFlags(FlagUserAccessible) {
		return nil, ErrInvalidMapping
	}

	return pte, nil
}

// CopyOut copies kernel data to the user buffer at virtAddr. Copy-on-write
// pages in the destination are unshared first.
func (as *AddressSpace) CopyOut(virtAddr uintptr, data []byte) *kernel.Error {
	if virtAddr >= MaxUserAddr || uintptr(len(data)) > MaxUserAddr-virtAddr {
		return ErrInvalidMapping
	}

	return as.Store(virtAddr, data)
}
