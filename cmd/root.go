package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/luma/lrcp/cmd/gen"
)

var RootCmd = &cobra.Command{
	Use:   "lrcp",
	Short: "Line reversal over LRCP",
	Long: `lrcp serves the line reversal service over LRCP, a reliable ordered
session protocol carried in UDP datagrams. Every line a client sends is
echoed back with its characters reversed.`,
	SilenceUsage: true,
}

func init() {
	RootCmd.AddCommand(StartCmd)
	RootCmd.AddCommand(ClientCmd)
	RootCmd.AddCommand(VersionCmd)
	RootCmd.AddCommand(gen.RootCmd)
}

// Execute runs the root command and exits non zero if it fails.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
