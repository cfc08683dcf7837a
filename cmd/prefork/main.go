package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:           "prefork",
	Short:         "prefork -- pre-forking worker pool supervisor",
	Long:          "prefork keeps a pool of worker processes alive, each repeatedly advancing a unit of work, and scales the pool through OS signals.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
