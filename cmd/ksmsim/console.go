package main

import (
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/fatih/color"
	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"

	"samepage/kernel/mem"
	"samepage/kernel/proc"
)

const (
	consoleSweep = iota
	consoleWrite
	consoleExit
	consoleProcesses
	consoleStats
	consoleQuit
)

var consoleActions = []string{
	"Sweep",
	"Write to a page",
	"Exit a process",
	"List processes",
	"Stats",
	"Quit",
}

func init() {
	cmd := newConsoleCmd()
	addMachineFlags(cmd.Flags())
	rootCmd.AddCommand(cmd)
}

func newConsoleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "console",
		Short: "Interactively drive sweeps and process writes",
		Long: `The console command boots the configured machine and lets you run sweeps,
write to process pages (breaking copy-on-write sharing) and terminate
processes from an interactive menu.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := applyMachineFlags(cmd.Flags()); err != nil {
				return err
			}

			sim, err := newSimulator(cmd.Context(), machine)
			if err != nil {
				return err
			}
			defer sim.close()

			console := &Console{sim: sim, out: cmd.OutOrStdout()}
			printMachine(console.out, sim, machine)
			return console.Run()
		},
	}
}

// Console is the interactive menu loop.
type Console struct {
	sim *simulator
	out io.Writer
}

// Run shows the main menu until the user quits.
func (console *Console) Run() error {
	for {
		prompt := promptui.Select{
			Label: colorLabel.Sprintf("<KSM> sweeps: %d", console.sim.sweeps),
			Items: consoleActions,
			Templates: &promptui.SelectTemplates{
				Label:    "{{ . }}",
				Active:   "> {{ . | green }}",
				Inactive: "  {{ . }}",
			},
			Size: len(consoleActions),
		}
		prompt.HideHelp = true

		i, _, err := prompt.Run()
		if err == promptui.ErrInterrupt || err == promptui.ErrEOF {
			return nil
		}
		if err != nil {
			return err
		}

		switch i {
		case consoleSweep:
			err = console.sweep()
		case consoleWrite:
			err = console.write()
		case consoleExit:
			err = console.exit()
		case consoleProcesses:
			printProcesses(console.out, console.sim.workload)
		case consoleStats:
			printStats(console.out, console.sim.kernel.KSM.Stats())
		case consoleQuit:
			return nil
		}

		console.report(err)
	}
}

func (console *Console) sweep() error {
	res, err := console.sim.sweep()
	if err != nil {
		return err
	}
	printSweepHeader(console.out)
	printSweep(console.out, res)
	return nil
}

func (console *Console) selectProcess(label string) (*proc.Process, error) {
	procs := console.sim.processes()
	if len(procs) == 0 {
		return nil, errors.New("no workload process is alive")
	}

	prompt := promptui.Select{
		Label: colorLabel.Sprint(label),
		Items: procs,
		Templates: &promptui.SelectTemplates{
			Label:    "{{ . }}",
			Active:   "> [{{ .PID }}] {{ .Name | green }}",
			Inactive: "  [{{ .PID }}] {{ .Name }}",
			Selected: "Process > [{{ .PID }}] {{ .Name | green }}",
		},
		Size: 8,
	}
	prompt.HideHelp = true

	i, _, err := prompt.Run()
	if err != nil {
		return nil, err
	}
	return procs[i], nil
}

func (console *Console) write() error {
	p, err := console.selectProcess("<WRITE>")
	if err != nil {
		return err
	}

	pages := int(p.Size / uintptr(mem.PageSize))
	if pages == 0 {
		return fmt.Errorf("process %d has no pages", p.PID)
	}

	pagePrompt := promptui.Prompt{
		Label: fmt.Sprintf("Page [0-%d]", pages-1),
		Validate: func(input string) error {
			n, err := strconv.Atoi(input)
			if err != nil || n < 0 || n >= pages {
				return &inputError{max: pages - 1}
			}
			return nil
		},
	}
	input, err := pagePrompt.Run()
	if err != nil {
		return err
	}
	page, _ := strconv.Atoi(input)

	textPrompt := promptui.Prompt{Label: "Text"}
	text, err := textPrompt.Run()
	if err != nil {
		return err
	}

	before := describePage(p, page)
	if kerr := p.Store(uintptr(page)*uintptr(mem.PageSize), []byte(text)); kerr != nil {
		return fmt.Errorf("write to pid %d: %w", p.PID, kerr)
	}

	fmt.Fprintf(console.out, "wrote %d bytes to pid %d page %d: %s -> %s\n",
		len(text), p.PID, page, before, describePage(p, page))
	return nil
}

func (console *Console) exit() error {
	p, err := console.selectProcess("<EXIT>")
	if err != nil {
		return err
	}

	if kerr := console.sim.kernel.Procs.Exit(p.PID); kerr != nil {
		return fmt.Errorf("exit pid %d: %w", p.PID, kerr)
	}

	fmt.Fprintf(console.out, "pid %d exited, %s free\n", p.PID, bytesOf(console.sim.kernel.Frames.FreeMemory()))
	return nil
}

// report prints the error of a menu action. Cancelled prompts return to the
// menu silently.
func (console *Console) report(err error) {
	if err == nil || err == promptui.ErrInterrupt || err == promptui.ErrEOF || err == promptui.ErrAbort {
		return
	}

	fmt.Fprintln(console.out, color.RedString("ERROR: %v", err))
}

type inputError struct {
	max int
}

func (e *inputError) Error() string {
	return fmt.Sprintf("invalid input. expected a page number between 0 and %d", e.max)
}
