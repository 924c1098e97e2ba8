// Package ksm implements samepage merging: it finds user pages with
// identical contents across processes and collapses them into a single
// write-protected physical page.
package ksm

import (
	"fmt"
	"strings"

	"samepage/kernel"
	"samepage/kernel/klog"
	"samepage/kernel/mem/pmm"
	"samepage/kernel/mem/vmm"
	"samepage/kernel/proc"
	"samepage/kernel/sync"
)

// Policy selects how singleton groups are handled after a sweep.
type Policy uint8

const (
	// PolicyPurgeNeverShared frees registry slots holding a singleton that
	// was never shared.
	PolicyPurgeNeverShared Policy = iota

	// PolicyRefreshSingletonHash keeps never-shared singletons and
	// recomputes their hash from the current page contents.
	PolicyRefreshSingletonHash
)

// String implements fmt.Stringer.
func (p Policy) String() string {
	switch p {
	case PolicyPurgeNeverShared:
		return "purge-never-shared"
	case PolicyRefreshSingletonHash:
		return "refresh-singleton-hash"
	default:
		return fmt.Sprintf("policy(%d)", uint8(p))
	}
}

// ParsePolicy converts a policy name to a Policy.
func ParsePolicy(name string) (Policy, error) {
	switch strings.ToLower(name) {
	case "", "purge", "purge-never-shared":
		return PolicyPurgeNeverShared, nil
	case "refresh", "refresh-singleton-hash":
		return PolicyRefreshSingletonHash, nil
	}
	return PolicyPurgeNeverShared, fmt.Errorf("unknown ksm policy %q", name)
}

// Config controls the merging subsystem.
type Config struct {
	// MaxGroups is the registry capacity.
	MaxGroups int

	// MaxGroupRefs caps the number of mappings sharing one group frame.
	// Zero means unbounded.
	MaxGroupRefs int

	// ReservedPIDs excludes processes with PID <= ReservedPIDs from sweeps.
	ReservedPIDs int

	Policy Policy
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		MaxGroups:    64,
		MaxGroupRefs: 16,
		ReservedPIDs: 2,
		Policy:       PolicyPurgeNeverShared,
	}
}

var errInvalidConfig = &kernel.Error{Module: "ksm", Message: "invalid configuration"}

func (cfg Config) validate() *kernel.Error {
	switch {
	case cfg.MaxGroups <= 0,
		cfg.MaxGroupRefs < 0 || cfg.MaxGroupRefs == 1,
		cfg.ReservedPIDs < 0,
		cfg.Policy > PolicyRefreshSingletonHash:
		return errInvalidConfig
	}
	return nil
}

// Stats is a snapshot of the subsystem state.
type Stats struct {
	ZeroFrame    pmm.Frame
	ZeroRefs     uint64
	Groups       int
	SharedGroups int
	Sweeps       uint64
	LastScanned  int
	LastMerged   int
}

// KSM is the samepage merging subsystem. It implements
// vmm.SharedFrameTracker so that frames it shares are released through it.
type KSM struct {
	// lock serializes sweeps and releases.
	lock sync.Spinlock

	cfg   Config
	mem   *vmm.Memory
	procs *proc.Table

	zero *zeroGroup
	reg  *registry

	sweeps      uint64
	lastScanned int
	lastMerged  int
}

// New sets up the subsystem and allocates the shared zero page. Callers that
// cannot run without merging should treat a failure as fatal.
func New(cfg Config, m *vmm.Memory, procs *proc.Table) (*KSM, *kernel.Error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	zero, err := newZeroGroup(m)
	if err != nil {
		return nil, err
	}

	klog.For("ksm").Info("samepage merging online",
		"max_groups", cfg.MaxGroups,
		"max_group_refs", cfg.MaxGroupRefs,
		"reserved_pids", cfg.ReservedPIDs,
		"policy", cfg.Policy.String(),
		"zero_frame", uint64(zero.frame),
	)

	return &KSM{
		cfg:   cfg,
		mem:   m,
		procs: procs,
		zero:  zero,
		reg:   newRegistry(cfg.MaxGroups, cfg.MaxGroupRefs),
	}, nil
}

// Config returns the active configuration.
func (k *KSM) Config() Config {
	return k.cfg
}

// Release drops one mapping's reference to frame. It returns false if frame
// is not shared by this subsystem, in which case the caller owns it.
func (k *KSM) Release(frame pmm.Frame) bool {
	k.lock.Acquire()
	defer k.lock.Release()

	return k.releaseLocked(frame)
}

func (k *KSM) releaseLocked(frame pmm.Frame) bool {
	if frame == k.zero.frame {
		if k.zero.refs > 0 {
			k.zero.refs--
		}
		return true
	}

	i := k.reg.slotFor(frame)
	if i < 0 {
		return false
	}

	g := &k.reg.groups[i]
	g.refs--
	if g.refs == 0 {
		k.reg.clear(i)
		_ = k.mem.Frames.FreeFrame(frame)
		klog.For("ksm").Debug("group reclaimed", "frame", uint64(frame))
	}
	return true
}

// freeLocked drops a mapping's reference to frame, returning it to the frame
// allocator unless it is shared.
func (k *KSM) freeLocked(frame pmm.Frame) {
	if !k.releaseLocked(frame) {
		_ = k.mem.Frames.FreeFrame(frame)
	}
}

// Stats returns a snapshot of the subsystem state.
func (k *KSM) Stats() Stats {
	k.lock.Acquire()
	defer k.lock.Release()

	live, shared := k.reg.counts()
	return Stats{
		ZeroFrame:    k.zero.frame,
		ZeroRefs:     k.zero.refs,
		Groups:       live,
		SharedGroups: shared,
		Sweeps:       k.sweeps,
		LastScanned:  k.lastScanned,
		LastMerged:   k.lastMerged,
	}
}
