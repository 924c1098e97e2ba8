// Package workload populates a booted kernel with the processes described by
// a machine configuration.
package workload

import (
	"context"
	"fmt"
	"math/rand"
	"runtime"

	"golang.org/x/sync/errgroup"

	"samepage/internal/config"
	"samepage/kernel/klog"
	"samepage/kernel/mem"
	"samepage/kernel/mem/vmm"
	"samepage/kernel/proc"
)

// Populate spawns every process instance described by specs and fills its
// pages. PIDs are assigned in declaration order; page contents are written
// concurrently.
func Populate(ctx context.Context, procs *proc.Table, specs []config.Process) ([]*proc.Process, error) {
	type instance struct {
		p    *proc.Process
		spec config.Process
	}

	var instances []instance
	for _, spec := range specs {
		for i := 0; i < spec.Count; i++ {
			name := spec.Name
			if spec.Count > 1 {
				name = fmt.Sprintf("%s-%d", spec.Name, i)
			}

			p, err := procs.Spawn(name)
			if err != nil {
				return nil, fmt.Errorf("spawn %s: %w", name, err)
			}
			instances = append(instances, instance{p: p, spec: spec})
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))

	for _, inst := range instances {
		inst := inst
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			return fill(procs, inst.p, inst.spec.Pages)
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]*proc.Process, len(instances))
	for i, inst := range instances {
		out[i] = inst.p
	}

	klog.For("workload").Info("workload populated", "processes", len(out))
	return out, nil
}

// fill maps the pages of p and writes their contents.
func fill(procs *proc.Table, p *proc.Process, pages []config.Page) error {
	var count int
	for _, page := range pages {
		count += page.Repeat
	}

	if err := procs.Grow(p, mem.Size(count)*mem.PageSize); err != nil {
		return fmt.Errorf("grow %s: %w", p.Name, err)
	}

	buf := make([]byte, mem.PageSize)
	index := 0
	for _, page := range pages {
		for i := 0; i < page.Repeat; i++ {
			if Contents(page, buf) {
				if err := p.Store(vmm.Page(index).Address(), buf); err != nil {
					return fmt.Errorf("fill %s page %d: %w", p.Name, index, err)
				}
			}
			index++
		}
	}
	return nil
}

// Contents renders the contents of page into buf and returns false if the
// page stays zero-filled.
func Contents(page config.Page, buf []byte) bool {
	switch {
	case page.Fill != nil:
		mem.Memset(buf, *page.Fill)
		return *page.Fill != 0
	case page.Pattern != "":
		mem.MemsetPattern(buf, []byte(page.Pattern))
		return true
	case page.Random != nil:
		_, _ = rand.New(rand.NewSource(*page.Random)).Read(buf)
		return true
	}
	return false
}
