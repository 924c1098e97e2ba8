package ksm

import "samepage/kernel/proc"

// maintain runs once after every sweep and handles singleton groups that were
// never shared according to the configured policy. Groups that were shared
// and decayed back to a single member are kept; their frame is reclaimed
// when the last member releases it.
func (k *KSM) maintain(v proc.View) {
	for i := range k.reg.groups {
		g := &k.reg.groups[i]
		if g.refs != 1 || g.shared {
			continue
		}

		switch k.cfg.Policy {
		case PolicyRefreshSingletonHash:
			k.refresh(v, i)
		default:
			k.reg.clear(i)
		}
	}
}

// refresh recomputes the hash of a singleton group from its current page
// contents. Groups whose representative went away or whose page became
// all-zero are dropped; the zero page path picks the latter up on the next
// sweep.
func (k *KSM) refresh(v proc.View, i int) {
	g := &k.reg.groups[i]
	if k.resolve(v, g) == nil {
		k.reg.clear(i)
		return
	}

	hash := hashPage(k.mem.RAM.Bytes(g.frame))
	if hash == k.zero.hash {
		k.reg.clear(i)
		return
	}
	g.hash = hash
}
