package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"samepage/kernel/klog"
)

var (
	runSweeps    int
	runPolicy    string
	runMaxGroups int
	runFrames    uint32
)

func init() {
	cmd := newRunCmd()
	addMachineFlags(cmd.Flags())
	cmd.Flags().IntVarP(&runSweeps, "sweeps", "n", 3, "Number of sweeps to run")
	rootCmd.AddCommand(cmd)
}

// addMachineFlags registers the flags that override the machine
// configuration.
func addMachineFlags(flags *pflag.FlagSet) {
	flags.StringVar(&runPolicy, "policy", "", "Singleton policy: purge-never-shared, refresh-singleton-hash")
	flags.IntVar(&runMaxGroups, "max-groups", 0, "Merge group registry capacity")
	flags.Uint32Var(&runFrames, "frames", 0, "Physical memory size in pages")
}

// applyMachineFlags copies explicitly set override flags into the machine
// configuration.
func applyMachineFlags(flags *pflag.FlagSet) error {
	if flags.Changed("policy") {
		machine.KSM.Policy = runPolicy
	}
	if flags.Changed("max-groups") {
		machine.KSM.MaxGroups = runMaxGroups
	}
	if flags.Changed("frames") {
		machine.Memory.Frames = runFrames
	}
	return machine.Validate()
}

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Boot the machine and run a number of sweeps",
		Long: `The run command boots the configured machine, populates its workload
and issues the ksm system call from a dedicated process, printing the
scanned and merged page counts and the free memory after every sweep.

Example:
  ksmsim run
  ksmsim run --config machine.yaml --sweeps 5
  ksmsim run --policy refresh-singleton-hash --max-groups 8`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := applyMachineFlags(cmd.Flags()); err != nil {
				return err
			}
			return runSimulation(cmd)
		},
	}
	return cmd
}

func runSimulation(cmd *cobra.Command) error {
	sim, err := newSimulator(cmd.Context(), machine)
	if err != nil {
		return err
	}
	defer sim.close()

	out := cmd.OutOrStdout()
	printMachine(out, sim, machine)

	printSweepHeader(out)
	for i := 0; i < runSweeps; i++ {
		res, err := sim.sweep()
		if err != nil {
			return err
		}
		printSweep(out, res)
		klog.Logger().Debug("sweep", "session", sim.id.String(), "sweep", res.Sweep, "elapsed", res.Elapsed)
	}

	printStats(out, sim.kernel.KSM.Stats())
	return nil
}
