package proc

import (
	"samepage/kernel"
	"samepage/kernel/klog"
	"samepage/kernel/mem"
	"samepage/kernel/mem/vmm"
	"samepage/kernel/sync"
)

var (
	// ErrTableFull is returned by Spawn when every slot is in use.
	ErrTableFull = &kernel.Error{Module: "proc", Message: "process table is full"}

	// ErrNoSuchProcess is returned when a pid does not name a process in
	// the state required by the operation.
	ErrNoSuchProcess = &kernel.Error{Module: "proc", Message: "no such process"}
)

// userPageFlags are applied to pages mapped by Grow.
const userPageFlags = vmm.FlagPresent | vmm.FlagRW | vmm.FlagUserAccessible

// Table is the fixed-size process table.
//
// Lock ordering: callers of Each may acquire other subsystem locks before
// calling it; the table lock is never held while an address space is
// destroyed, since releasing user frames re-enters those subsystems.
type Table struct {
	lock sync.Spinlock

	mem     *vmm.Memory
	procs   [MaxProcs]Process
	nextPID int
}

// NewTable returns an empty process table whose address spaces allocate from
// m.
func NewTable(m *vmm.Memory) *Table {
	return &Table{mem: m, nextPID: 1}
}

// Spawn claims a free slot and sets up an empty address space for a new
// runnable process.
func (t *Table) Spawn(name string) (*Process, *kernel.Error) {
	t.lock.Acquire()
	var p *Process
	for i := range t.procs {
		if t.procs[i].State == Unused {
			p = &t.procs[i]
			break
		}
	}
	if p == nil {
		t.lock.Release()
		return nil, ErrTableFull
	}
	*p = Process{PID: t.nextPID, Name: name, State: Embryo}
	t.nextPID++
	t.lock.Release()

	as, err := vmm.NewAddressSpace(t.mem)

	t.lock.Acquire()
	defer t.lock.Release()

	if err != nil {
		*p = Process{}
		return nil, err
	}

	p.AS = as
	p.State = Runnable

	klog.For("proc").Debug("process spawned", "pid", p.PID, "name", name)
	return p, nil
}

// Grow extends the user memory of p by size bytes, rounded up to whole
// pages. New pages are zero-filled and writable. On allocation failure the
// pages mapped so far are kept and the error is returned.
func (t *Table) Grow(p *Process, size mem.Size) *kernel.Error {
	if p.AS == nil {
		return errNoAddressSpace
	}

	end := mem.PageAlignUp(p.Size + uintptr(size))
	for p.Size < end {
		frame, err := t.mem.Frames.AllocFrame()
		if err != nil {
			return err
		}

		if err = p.AS.Map(vmm.PageFromAddress(p.Size), frame, userPageFlags); err != nil {
			_ = t.mem.Frames.FreeFrame(frame)
			return err
		}

		p.Size += uintptr(mem.PageSize)
	}

	return nil
}

// Exit terminates the process with the given pid. Its address space is
// torn down and the slot stays in the Zombie state until reaped.
func (t *Table) Exit(pid int) *kernel.Error {
	t.lock.Acquire()
	p := t.find(pid)
	if p == nil || !p.State.Resident() {
		t.lock.Release()
		return ErrNoSuchProcess
	}

	as := p.AS
	p.AS = nil
	p.Size = 0
	p.State = Zombie
	t.lock.Release()

	as.Destroy()

	klog.For("proc").Debug("process exited", "pid", pid)
	return nil
}

// Reap frees the slot of a zombie process.
func (t *Table) Reap(pid int) *kernel.Error {
	t.lock.Acquire()
	defer t.lock.Release()

	p := t.find(pid)
	if p == nil || p.State != Zombie {
		return ErrNoSuchProcess
	}

	*p = Process{}
	return nil
}

// Lookup returns the process with the given pid or nil if no slot holds it.
func (t *Table) Lookup(pid int) *Process {
	t.lock.Acquire()
	defer t.lock.Release()

	return t.find(pid)
}

// Each invokes fn for every used slot in table order while holding the table
// lock. Iteration stops when fn returns false. fn must not call back into the
// table.
func (t *Table) Each(fn func(*Process) bool) {
	t.lock.Acquire()
	defer t.lock.Release()

	t.each(fn)
}

// View gives access to the table while the table lock is held.
type View struct {
	t *Table
}

// Walk holds the table lock while fn runs. fn can iterate and look up
// processes through the supplied View without re-acquiring the lock; it must
// not call any other Table method.
func (t *Table) Walk(fn func(v View)) {
	t.lock.Acquire()
	defer t.lock.Release()

	fn(View{t: t})
}

// Each invokes fn for every used slot in table order.
func (v View) Each(fn func(*Process) bool) {
	v.t.each(fn)
}

// Lookup returns the process with the given pid or nil if no slot holds it.
func (v View) Lookup(pid int) *Process {
	return v.t.find(pid)
}

// Count returns the number of used slots.
func (t *Table) Count() int {
	var count int
	t.Each(func(*Process) bool {
		count++
		return true
	})
	return count
}

func (t *Table) each(fn func(*Process) bool) {
	for i := range t.procs {
		if t.procs[i].State == Unused {
			continue
		}
		if !fn(&t.procs[i]) {
			return
		}
	}
}

func (t *Table) find(pid int) *Process {
	for i := range t.procs {
		if t.procs[i].State != Unused && t.procs[i].PID == pid {
			return &t.procs[i]
		}
	}
	return nil
}
