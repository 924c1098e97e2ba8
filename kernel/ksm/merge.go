package ksm

import (
	"samepage/kernel/klog"
	"samepage/kernel/mem/pmm"
	"samepage/kernel/mem/vmm"
	"samepage/kernel/proc"
)

// mergePage tries the zero page first and falls back to the registry. It
// returns true if pte was redirected to a shared frame.
func (k *KSM) mergePage(v proc.View, caller int, loc Locator, pte *vmm.PageTableEntry, hash Digest) bool {
	switch k.mergeZero(pte, hash) {
	case zeroMerged:
		return true
	case zeroAlreadyMerged:
		return false
	}

	return k.mergeGeneral(v, caller, loc, pte, hash)
}

// mergeGeneral attaches pte to a group with the same content or seeds a new
// singleton candidate for it. Seeding does not count as a merge.
func (k *KSM) mergeGeneral(v proc.View, caller int, loc Locator, pte *vmm.PageTableEntry, hash Digest) bool {
	frame := pte.Frame()

	own := k.reg.slotFor(frame)
	if own >= 0 {
		g := &k.reg.groups[own]

		// Page already backs a shared group
		if g.shared {
			return false
		}

		// A kept singleton is still writable by its owner
		g.hash = hash
	}

	for i := k.reg.match(hash, frame, 0); i >= 0; i = k.reg.match(hash, frame, i+1) {
		g := &k.reg.groups[i]
		if !g.shared && !k.promote(v, caller, i, hash) {
			continue
		}

		if own >= 0 {
			k.reg.clear(own)
		}
		k.redirect(pte, g.frame)
		g.refs++

		klog.For("ksm").Debug("page merged",
			"pid", loc.PID,
			"addr", loc.VirtAddr,
			"frame", uint64(g.frame),
			"refs", g.refs,
		)
		return true
	}

	if own < 0 && !k.reg.seed(loc, frame, hash) {
		klog.For("ksm").Debug("registry full", "pid", loc.PID, "addr", loc.VirtAddr)
	}
	return false
}

// promote write-protects the representative of the singleton group in slot
// i so that other mappings can share its frame. It returns false if the
// group cannot be shared during this sweep. A representative that went away
// frees the slot. Owners that are excluded from the sweep are never touched.
func (k *KSM) promote(v proc.View, caller, i int, hash Digest) bool {
	g := &k.reg.groups[i]

	repPTE := k.resolve(v, g)
	if repPTE == nil {
		k.reg.clear(i)
		return false
	}

	if !k.eligible(v.Lookup(g.rep.PID), caller) {
		return false
	}

	// Rewritten since it was hashed
	if current := hashPage(k.mem.RAM.Bytes(g.frame)); current != hash {
		g.hash = current
		return false
	}

	repPTE.WriteProtect()
	g.shared = true
	return true
}

// redirect points pte at a shared frame and write-protects it. The frame
// previously referenced by pte is released.
func (k *KSM) redirect(pte *vmm.PageTableEntry, shared pmm.Frame) {
	k.freeLocked(pte.Frame())
	pte.SetFrame(shared)
	pte.WriteProtect()
}

// resolve returns the entry of the group's representative mapping, or nil if
// the mapping no longer references the group frame.
func (k *KSM) resolve(v proc.View, g *group) *vmm.PageTableEntry {
	p := v.Lookup(g.rep.PID)
	if p == nil || !p.State.Resident() || p.AS == nil {
		return nil
	}

	pte := p.AS.Lookup(g.rep.VirtAddr)
	if pte == nil || !pte.HasFlags(vmm.FlagPresent) || pte.Frame() != g.frame {
		return nil
	}
	return pte
}
