package pmm

import (
	"errors"
	"testing"

	"golang.org/x/sys/unix"

	"samepage/kernel/mem"
)

func TestRAM(t *testing.T) {
	ram, err := NewRAM(4)
	if err != nil {
		t.Fatal(err)
	}
	defer ram.Close()

	if exp, got := uint32(4), ram.Frames(); got != exp {
		t.Fatalf("expected Frames() to return %d; got %d", exp, got)
	}

	if exp, got := 4*mem.PageSize, ram.Size(); got != exp {
		t.Fatalf("expected Size() to return %d; got %d", exp, got)
	}

	page := ram.Bytes(Frame(3))
	if exp, got := int(mem.PageSize), len(page); got != exp {
		t.Fatalf("expected page length %d; got %d", exp, got)
	}
	page[0] = 0xaa

	if ram.raw[3*mem.PageSize] != 0xaa {
		t.Fatal("expected Bytes() to alias the arena")
	}

	specs := []struct {
		frame Frame
		exp   bool
	}{
		{Frame(0), true},
		{Frame(3), true},
		{Frame(4), false},
		{InvalidFrame, false},
	}
	for specIndex, spec := range specs {
		if got := ram.Contains(spec.frame); got != spec.exp {
			t.Errorf("[spec %d] expected Contains(%d) to return %t", specIndex, spec.frame, spec.exp)
		}
	}
}

func TestRAMErrors(t *testing.T) {
	defer func() {
		mmapFn = unix.Mmap
		munmapFn = unix.Munmap
	}()

	if _, err := NewRAM(1); err != errRAMSize {
		t.Fatalf("expected errRAMSize; got %v", err)
	}

	mmapFn = func(int, int64, int, int, int) ([]byte, error) {
		return nil, errors.New("ENOMEM")
	}
	if _, err := NewRAM(8); err != errRAMMap {
		t.Fatalf("expected errRAMMap; got %v", err)
	}

	mmapFn = unix.Mmap
	ram, err := NewRAM(2)
	if err != nil {
		t.Fatal(err)
	}

	munmapFn = func([]byte) error { return errors.New("EINVAL") }
	if err := ram.Close(); err != errRAMUnmap {
		t.Fatalf("expected errRAMUnmap; got %v", err)
	}

	munmapFn = unix.Munmap
	if err := ram.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := ram.Close(); err != nil {
		t.Fatalf("expected second Close to be a no-op; got %v", err)
	}
}
