// Command formationctl inspects formation libraries offline: it resolves the
// formation shown at a given time, clamps seeks the way the stage does, and
// imports extractor output into a library file.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "formationctl",
		Short:         "Inspect and build dancer formation libraries",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newResolveCmd(), newSeekCmd(), newImportCmd())
	return root
}
