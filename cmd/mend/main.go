// Command mend runs the meal coaching engine and its developer tools.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "mend",
		Short:         "Eating and reflection signal engine for Omi wearables",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.AddCommand(newServeCmd(), newAnalyzeCmd(), newClassifyCmd())
	return root
}
