package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	os.Exit(run())
}

func run() int {
	root := &cobra.Command{
		Use:     "novelguard",
		Short:   "Find duplicate, superseded, and contained text copies",
		Version: version + " (" + commit + ")",
	}

	root.AddCommand(newAnalyzeCmd())

	if err := root.Execute(); err != nil {
		return 1
	}
	return 0
}
