package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const version = "0.3.0"

func newRootCmd() *cobra.Command {
	opts := &commonOptions{}
	root := &cobra.Command{
		Use:   "lockscope",
		Short: "Syscall latency, lock contention and false sharing profiler",
		Long: `lockscope pairs syscall and lock events per thread, times them and
aggregates the results into per-syscall latency tables, per-lock contention
statistics and a false-sharing analysis of hot cache lines.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.SetVersionTemplate(fmt.Sprintf("lockscope version %s\n", version))
	opts.register(root)

	root.AddCommand(newTraceCmd(opts), newDemoCmd(opts))
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
