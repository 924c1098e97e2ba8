package ksm

import (
	"samepage/kernel/klog"
	"samepage/kernel/mem"
	"samepage/kernel/mem/vmm"
	"samepage/kernel/proc"
)

// Scan sweeps the user pages of every eligible process and merges pages with
// identical contents. Processes with PID <= ReservedPIDs, the caller and
// processes that are not resident are skipped. Scan returns the number of
// pages hashed and the number of pages newly redirected to a shared frame.
//
// Sweeps are serialized; the process table is locked for the duration of
// the sweep.
func (k *KSM) Scan(caller int) (scanned, merged int) {
	k.lock.Acquire()
	defer k.lock.Release()

	k.procs.Walk(func(v proc.View) {
		v.Each(func(p *proc.Process) bool {
			if !k.eligible(p, caller) {
				return true
			}

			for virtAddr := uintptr(0); virtAddr < p.Size; virtAddr += uintptr(mem.PageSize) {
				pte := p.AS.Lookup(virtAddr)
				if pte == nil || !pte.HasFlags(vmm.FlagPresent|vmm.FlagUserAccessible) || !k.mem.RAM.Contains(pte.Frame()) {
					continue
				}

				hash := hashPage(k.mem.RAM.Bytes(pte.Frame()))
				scanned++

				if k.mergePage(v, caller, Locator{PID: p.PID, VirtAddr: virtAddr}, pte, hash) {
					merged++
				}
			}
			return true
		})

		k.maintain(v)
	})

	k.sweeps++
	k.lastScanned, k.lastMerged = scanned, merged

	live, shared := k.reg.counts()
	klog.For("ksm").Info("sweep complete",
		"sweep", k.sweeps,
		"caller", caller,
		"scanned", scanned,
		"merged", merged,
		"groups", live,
		"shared_groups", shared,
		"zero_refs", k.zero.refs,
	)

	return scanned, merged
}

func (k *KSM) eligible(p *proc.Process, caller int) bool {
	return p.PID > k.cfg.ReservedPIDs &&
		p.PID != caller &&
		p.State.Resident() &&
		p.AS != nil
}
