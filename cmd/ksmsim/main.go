// Command ksmsim boots a simulated kernel, populates it with a workload and
// drives samepage merging sweeps through the ksm system call.
package main

func main() {
	execute()
}
