package syscall

import (
	"encoding/binary"

	"samepage/kernel/klog"
	"samepage/kernel/proc"
)

// sysKSM implements ksm(int *scanned, int *merged). It sweeps every
// process except the caller, stores both counters as 32-bit integers at the
// supplied user addresses and returns the number of free pages.
func sysKSM(s *Services, caller *proc.Process, args []uintptr) int64 {
	scannedAddr, mergedAddr := argAddr(args, 0), argAddr(args, 1)

	scanned, merged := s.KSM.Scan(caller.PID)

	if caller.AS == nil ||
		copyOutInt32(caller, scannedAddr, scanned) != nil ||
		copyOutInt32(caller, mergedAddr, merged) != nil {
		klog.For("syscall").Warn("ksm: bad user address",
			"pid", caller.PID,
			"scanned_addr", scannedAddr,
			"merged_addr", mergedAddr,
		)
		return errReturn
	}

	return int64(s.Frames.FreeFrames())
}

func copyOutInt32(p *proc.Process, virtAddr uintptr, value int) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(int32(value)))

	if err := p.AS.CopyOut(virtAddr, buf[:]); err != nil {
		return err
	}
	return nil
}
