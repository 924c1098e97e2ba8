// Package proc maintains the kernel process table.
package proc

import (
	"fmt"

	"samepage/kernel"
	"samepage/kernel/mem/vmm"
)

// MaxProcs is the number of slots in the process table.
const MaxProcs = 64

// State describes the lifecycle stage of a process slot.
type State uint8

const (
	// Unused slots are free for Spawn.
	Unused State = iota

	// Embryo processes are being set up by Spawn.
	Embryo

	// Sleeping processes wait for an event.
	Sleeping

	// Runnable processes wait for a CPU.
	Runnable

	// Running processes execute on a CPU.
	Running

	// Zombie processes have exited and wait to be reaped. Their address
	// space is already gone.
	Zombie
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case Unused:
		return "unused"
	case Embryo:
		return "embryo"
	case Sleeping:
		return "sleeping"
	case Runnable:
		return "runnable"
	case Running:
		return "running"
	case Zombie:
		return "zombie"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// Resident returns true for states whose address space is fully set up and
// may be inspected.
func (s State) Resident() bool {
	return s == Sleeping || s == Runnable || s == Running
}

var errNoAddressSpace = &kernel.Error{Module: "proc", Message: "process has no address space"}

// Process is a process table slot.
type Process struct {
	PID   int
	Name  string
	State State

	// Size is the number of bytes of user memory starting at virtual
	// address 0. It is always page-aligned.
	Size uintptr

	AS *vmm.AddressSpace
}

// Store writes data to the process memory at virtAddr with user-mode
// permissions.
func (p *Process) Store(virtAddr uintptr, data []byte) *kernel.Error {
	if p.AS == nil {
		return errNoAddressSpace
	}
	return p.AS.Store(virtAddr, data)
}

// Load reads len(buf) bytes of process memory starting at virtAddr.
func (p *Process) Load(virtAddr uintptr, buf []byte) *kernel.Error {
	if p.AS == nil {
		return errNoAddressSpace
	}
	return p.AS.Load(virtAddr, buf)
}
