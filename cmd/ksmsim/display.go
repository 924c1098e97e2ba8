package main

import (
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"

	"samepage/internal/config"
	"samepage/kernel/ksm"
	"samepage/kernel/mem"
	"samepage/kernel/mem/vmm"
	"samepage/kernel/proc"
)

var (
	colorLabel     = color.New(color.FgYellow)
	colorHighlight = color.New(color.FgGreen)
	colorDim       = color.New(color.Faint)
)

func bytesOf(size mem.Size) string {
	return humanize.IBytes(uint64(size))
}

func printMachine(w io.Writer, sim *simulator, m *config.Machine) {
	fmt.Fprintf(w, "%s %s\n", colorLabel.Sprint("session:"), sim.id)
	fmt.Fprintf(w, "%s %s (%d pages)\n", colorLabel.Sprint("memory: "),
		bytesOf(sim.kernel.RAM.Size()), sim.kernel.RAM.Frames())
	fmt.Fprintf(w, "%s %d groups, policy %s, reserved pids <= %d\n", colorLabel.Sprint("ksm:    "),
		m.KSM.MaxGroups, m.KSM.Policy, m.KSM.ReservedPIDs)
	fmt.Fprintf(w, "%s %d processes, caller pid %d\n", colorLabel.Sprint("load:   "),
		len(sim.workload), sim.caller.PID)
	fmt.Fprintln(w)
}

func printSweepHeader(w io.Writer) {
	fmt.Fprintln(w, colorDim.Sprintf("%5s %8s %8s %12s %10s", "SWEEP", "SCANNED", "MERGED", "FREE", "TIME"))
}

func printSweep(w io.Writer, res sweepResult) {
	merged := fmt.Sprintf("%8d", res.Merged)
	if res.Merged > 0 {
		merged = colorHighlight.Sprint(merged)
	}

	fmt.Fprintf(w, "%s %8d %s %12s %10s\n",
		color.CyanString("%5d", res.Sweep),
		res.Scanned,
		merged,
		bytesOf(res.Free),
		res.Elapsed.Round(time.Microsecond),
	)
}

func printStats(w io.Writer, stats ksm.Stats) {
	fmt.Fprintln(w)
	fmt.Fprintf(w, "%s %d pages share frame %d (%s saved)\n", colorLabel.Sprint("zero page:"),
		stats.ZeroRefs, stats.ZeroFrame, bytesOf(mem.Size(stats.ZeroRefs)*mem.PageSize))
	fmt.Fprintf(w, "%s %d live, %d shared\n", colorLabel.Sprint("groups:   "),
		stats.Groups, stats.SharedGroups)
	fmt.Fprintf(w, "%s %d\n", colorLabel.Sprint("sweeps:   "), stats.Sweeps)
}

func printProcesses(w io.Writer, procs []*proc.Process) {
	for _, p := range procs {
		fmt.Fprintf(w, "%s %s %s %s\n",
			color.CyanString("%4d", p.PID),
			colorHighlight.Sprintf("%-16s", p.Name),
			color.YellowString("%-9s", p.State),
			bytesOf(mem.Size(p.Size)),
		)
	}
}

// describePage reports the physical address backing a process page and
// whether it is currently merged.
func describePage(p *proc.Process, page int) string {
	if p.AS == nil {
		return "exited"
	}

	virtAddr := vmm.Page(page).Address()
	physAddr, err := p.AS.Translate(virtAddr)
	if err != nil {
		return "not mapped"
	}

	state := "private"
	if pte := p.AS.Lookup(virtAddr); pte != nil && pte.MergeState().Status == vmm.MergedReadOnly {
		state = "merged"
	}
	return fmt.Sprintf("0x%x %s", physAddr, state)
}
