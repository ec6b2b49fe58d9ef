package cli

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

// 构建时通过 -ldflags 注入
var (
	Version   = "dev"
	Commit    = "none"
	BuildTime = "unknown"
)

type buildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
	GoVersion string `json:"go_version"`
}

var versionJSON bool

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print autoflow build information",
	RunE: func(cmd *cobra.Command, args []string) error {
		info := buildInfo{Version: Version, Commit: Commit, BuildTime: BuildTime, GoVersion: runtime.Version()}
		if versionJSON {
			return printJSON(info)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "autoflow %s (commit %s, built %s, %s)\n",
			info.Version, info.Commit, info.BuildTime, info.GoVersion)
		return nil
	},
}

func init() {
	versionCmd.Flags().BoolVar(&versionJSON, "json", false, "print as JSON")
	rootCmd.AddCommand(versionCmd)
}
