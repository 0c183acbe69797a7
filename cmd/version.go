package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/luma/lrcp/internal/meta"
)

var VersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the build information of lrcp",

	Run: func(cmd *cobra.Command, args []string) {
		info := meta.GetInfo()

		fmt.Printf("lrcp %s (%s, %s)\n", info.Version, info.Build, info.Branch)
		fmt.Printf("  built:    %s\n", info.BuildTime)
		fmt.Printf("  go:       %s %s\n", info.GoVersion, info.GoTag)
		fmt.Printf("  platform: %s\n", info.Platform)
	},
}
