// Package kmain brings up the kernel subsystems.
package kmain

import (
	"samepage/kernel"
	"samepage/kernel/kfmt"
	"samepage/kernel/klog"
	"samepage/kernel/ksm"
	"samepage/kernel/mem"
	"samepage/kernel/mem/pmm"
	"samepage/kernel/mem/vmm"
	"samepage/kernel/proc"
	"samepage/kernel/syscall"
)

var (
	// panicFn is mocked by tests.
	panicFn = kfmt.Panic

	// reservedProcs are spawned at boot and own the lowest PIDs.
	reservedProcs = []string{"init", "sh"}
)

// Options describes the machine to boot.
type Options struct {
	// Frames is the amount of physical memory in pages.
	Frames uint32

	KSM ksm.Config
}

// Kernel holds the booted subsystems.
type Kernel struct {
	RAM    *pmm.RAM
	Frames *pmm.BitmapAllocator
	Memory *vmm.Memory
	Procs  *proc.Table
	KSM    *ksm.KSM

	services *syscall.Services
}

// Boot initializes physical memory, the process table and the samepage
// merging subsystem, then spawns the reserved processes. Any failure is
// unrecoverable and goes through kfmt.Panic; Boot returns nil if the panic
// handler returns.
func Boot(opts Options) *Kernel {
	var (
		k   = &Kernel{}
		err *kernel.Error
	)

	if k.RAM, err = pmm.NewRAM(opts.Frames); err != nil {
		panicFn(err)
		return nil
	}

	k.Frames = pmm.NewBitmapAllocator(k.RAM)
	k.Memory = vmm.NewMemory(k.RAM, k.Frames)
	k.Procs = proc.NewTable(k.Memory)

	if k.KSM, err = ksm.New(opts.KSM, k.Memory, k.Procs); err != nil {
		k.Shutdown()
		panicFn(err)
		return nil
	}
	k.Memory.SetSharedFrameTracker(k.KSM)

	for _, name := range reservedProcs {
		var p *proc.Process
		if p, err = k.Procs.Spawn(name); err == nil {
			err = k.Procs.Grow(p, mem.PageSize)
		}
		if err != nil {
			k.Shutdown()
			panicFn(err)
			return nil
		}
	}

	k.services = &syscall.Services{Procs: k.Procs, KSM: k.KSM, Frames: k.Frames}

	klog.For("kmain").Info("kernel booted",
		"memory", uint64(k.RAM.Size()),
		"free", uint64(k.Frames.FreeMemory()),
		"procs", k.Procs.Count(),
	)
	return k
}

// Syscall issues system call num on behalf of pid.
func (k *Kernel) Syscall(pid int, num syscall.Number, args ...uintptr) int64 {
	return syscall.Dispatch(k.services, pid, num, args...)
}

// Shutdown releases physical memory. The kernel must not be used afterwards.
func (k *Kernel) Shutdown() {
	if k.RAM != nil {
		_ = k.RAM.Close()
	}
}
