package main

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"samepage/internal/config"
	"samepage/internal/workload"
	"samepage/kernel/kmain"
	"samepage/kernel/mem"
	"samepage/kernel/proc"
	"samepage/kernel/syscall"
)

// The caller process receives the sweep counters at these addresses.
const (
	scannedAddr = 0x0
	mergedAddr  = 0x4
)

var errBootFailed = errors.New("kernel failed to boot")

// simulator owns a booted kernel, its workload and the process that issues
// the ksm system call.
type simulator struct {
	id       uuid.UUID
	kernel   *kmain.Kernel
	caller   *proc.Process
	workload []*proc.Process
	sweeps   int
}

type sweepResult struct {
	Sweep   int
	Scanned int32
	Merged  int32
	Free    mem.Size
	Elapsed time.Duration
}

func newSimulator(ctx context.Context, m *config.Machine) (*simulator, error) {
	opts, err := m.BootOptions()
	if err != nil {
		return nil, err
	}

	k := kmain.Boot(opts)
	if k == nil {
		return nil, errBootFailed
	}

	procs, err := workload.Populate(ctx, k.Procs, m.Processes)
	if err != nil {
		k.Shutdown()
		return nil, err
	}

	caller, kerr := k.Procs.Spawn("ksmd")
	if kerr == nil {
		kerr = k.Procs.Grow(caller, mem.PageSize)
	}
	if kerr != nil {
		k.Shutdown()
		return nil, fmt.Errorf("spawn ksmd: %w", kerr)
	}

	return &simulator{
		id:       uuid.New(),
		kernel:   k,
		caller:   caller,
		workload: procs,
	}, nil
}

// sweep issues one ksm system call from the caller process.
func (s *simulator) sweep() (sweepResult, error) {
	start := time.Now()
	ret := s.kernel.Syscall(s.caller.PID, syscall.SysKSM, scannedAddr, mergedAddr)
	elapsed := time.Since(start)
	if ret < 0 {
		return sweepResult{}, fmt.Errorf("ksm system call failed: %d", ret)
	}

	var buf [8]byte
	if err := s.caller.Load(scannedAddr, buf[:]); err != nil {
		return sweepResult{}, fmt.Errorf("read sweep counters: %w", err)
	}

	s.sweeps++
	return sweepResult{
		Sweep:   s.sweeps,
		Scanned: int32(binary.LittleEndian.Uint32(buf[0:4])),
		Merged:  int32(binary.LittleEndian.Uint32(buf[4:8])),
		Free:    mem.Size(ret) * mem.PageSize,
		Elapsed: elapsed,
	}, nil
}

// processes returns the workload processes that are still alive.
func (s *simulator) processes() []*proc.Process {
	var alive []*proc.Process
	for _, p := range s.workload {
		if p.State.Resident() {
			alive = append(alive, p)
		}
	}
	return alive
}

func (s *simulator) close() {
	s.kernel.Shutdown()
}
