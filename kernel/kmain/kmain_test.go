package kmain

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"samepage/kernel"
	"samepage/kernel/ksm"
	"samepage/kernel/mem"
	"samepage/kernel/mem/pmm"
	"samepage/kernel/syscall"
)

func TestBoot(t *testing.T) {
	k := Boot(Options{Frames: 256, KSM: ksm.DefaultConfig()})
	require.NotNil(t, k)
	defer k.Shutdown()

	require.Equal(t, 2, k.Procs.Count())
	for pid, name := range reservedProcs {
		p := k.Procs.Lookup(pid + 1)
		require.NotNil(t, p)
		require.Equal(t, name, p.Name)
		require.Equal(t, uintptr(mem.PageSize), p.Size)
	}

	caller, err := k.Procs.Spawn("ksm")
	require.Nil(t, err)
	require.Nil(t, k.Procs.Grow(caller, mem.PageSize))

	ret := k.Syscall(caller.PID, syscall.SysKSM, 0, 4)
	require.Equal(t, int64(k.Frames.FreeFrames()), ret)

	var buf [8]byte
	require.Nil(t, caller.Load(0, buf[:]))
	require.Zero(t, binary.LittleEndian.Uint32(buf[0:4]), "reserved processes are not scanned")
	require.Zero(t, binary.LittleEndian.Uint32(buf[4:8]))
}

func TestBootPanics(t *testing.T) {
	defer func(origPanicFn func(interface{})) { panicFn = origPanicFn }(panicFn)

	invalidKSM := ksm.DefaultConfig()
	invalidKSM.MaxGroups = 0

	specs := []struct {
		opts   Options
		expErr string
	}{
		{Options{Frames: 1, KSM: ksm.DefaultConfig()}, "physical memory must contain at least two frames"},
		{Options{Frames: 64, KSM: invalidKSM}, "invalid configuration"},
		{Options{Frames: 2, KSM: ksm.DefaultConfig()}, pmm.ErrOutOfMemory.Message},
		{Options{Frames: 8, KSM: ksm.DefaultConfig()}, pmm.ErrOutOfMemory.Message},
	}

	for specIndex, spec := range specs {
		var got *kernel.Error
		panicFn = func(e interface{}) {
			got = e.(*kernel.Error)
		}

		require.Nil(t, Boot(spec.opts), "spec %d", specIndex)
		require.NotNil(t, got, "spec %d", specIndex)
		require.Equal(t, spec.expErr, got.Message, "spec %d", specIndex)
	}
}
