package vmm

import (
	"samepage/kernel"
	"samepage/kernel/klog"
)

// FaultCode mirrors the bits of the amd64 page fault error code.
type FaultCode uint64

const (
	// FaultProtection is set for protection violations and cleared for
	// accesses to non-present pages.
	FaultProtection FaultCode = 1 << iota

	// FaultWrite is set if the faulting access was a write.
	FaultWrite

	// FaultUser is set if the fault occurred in user-mode.
	FaultUser
)

var (
	// ErrUnrecoverableFault is returned for faults that cannot be resolved
	// by the fault handler. The faulting task must be terminated.
	ErrUnrecoverableFault = &kernel.Error{Module: "vmm", Message: "page/gpf fault"}
)

// HandlePageFault is invoked when an access to faultAddress fails because the
// page is not present or because a RW protection check fails.
//
// Writes to pages flagged with FlagCopyOnWrite that were writable before they
// got shared are resolved by installing a private copy of the page contents.
// The shared frame is released through the Memory's SharedFrameTracker.
func (as *AddressSpace) HandlePageFault(faultAddress uintptr, code FaultCode) *kernel.Error {
	var (
		faultPage = PageFromAddress(faultAddress)
		pageEntry *PageTableEntry
	)

	// Lookup entry for the page where the fault occurred
	as.walk(faultPage.Address(), func(pteLevel uint8, pte *PageTableEntry) bool {
		nextIsPresent := pte.HasFlags(FlagPresent)

		if pteLevel == pageLevels-1 && nextIsPresent {
			pageEntry = pte
		}

		// Abort walk if the next page table entry is missing
		return nextIsPresent
	})

	// CoW is supported for RO pages with the CoW flag set that were
	// writable before they got merged.
	if pageEntry != nil && code&FaultWrite != 0 && !pageEntry.HasFlags(FlagRW) &&
		pageEntry.MergeState() == (MergeState{Status: MergedReadOnly, PriorWritable: true}) {
		copyFrame, err := as.mem.Frames.AllocFrame()
		if err != nil {
			return nonRecoverablePageFault(faultAddress, code, err)
		}

		// Copy page contents and point the mapping to the private copy
		sharedFrame := pageEntry.Frame()
		copy(as.mem.RAM.Bytes(copyFrame), as.mem.RAM.Bytes(sharedFrame))
		pageEntry.SetFrame(copyFrame)
		pageEntry.restoreWrite()

		as.mem.ReleaseFrame(sharedFrame)

		klog.For("vmm").Debug("copy-on-write fault resolved",
			"addr", faultAddress,
			"shared_frame", uint64(sharedFrame),
			"private_frame", uint64(copyFrame),
		)

		// Fault recovered; retry the instruction that caused the fault
		return nil
	}

	return nonRecoverablePageFault(faultAddress, code, ErrUnrecoverableFault)
}

func nonRecoverablePageFault(faultAddress uintptr, code FaultCode, err *kernel.Error) *kernel.Error {
	var reason string
	switch code &^ FaultUser {
	case 0:
		reason = "read from non-present page"
	case FaultProtection:
		reason = "page protection violation (read)"
	case FaultWrite:
		reason = "write to non-present page"
	case FaultProtection | FaultWrite:
		reason = "page protection violation (write)"
	default:
		reason = "unknown"
	}

	klog.For("vmm").Warn("unrecoverable page fault",
		"addr", faultAddress,
		"reason", reason,
		"user", code&FaultUser != 0,
		"err", err.Message,
	)

	return err
}
