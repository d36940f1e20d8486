package cmd

import (
	"fmt"
	"runtime"
	"runtime/debug"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the Downshift version",
	RunE: func(cmd *cobra.Command, args []string) error {
		info := readBuildInfo()
		if jsonOutput {
			return writeJSON(cmd.OutOrStdout(), info)
		}
		fmt.Fprintln(cmd.OutOrStdout(), info.String())
		return nil
	},
}

type buildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit,omitempty"`
	Modified  bool   `json:"modified,omitempty"`
	BuildTime string `json:"build_time,omitempty"`
	GoVersion string `json:"go_version"`
}

// readBuildInfo reads the module version and VCS stamps embedded by go build.
func readBuildInfo() buildInfo {
	b := buildInfo{Version: "dev", GoVersion: runtime.Version()}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return b
	}
	if v := info.Main.Version; v != "" && v != "(devel)" {
		b.Version = v
	}
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			b.Commit = setting.Value
			if len(b.Commit) > 7 {
				b.Commit = b.Commit[:7]
			}
		case "vcs.modified":
			b.Modified = setting.Value == "true"
		case "vcs.time":
			b.BuildTime = setting.Value
		}
	}
	return b
}

func (b buildInfo) String() string {
	s := b.Version
	if b.Commit != "" {
		s += " (" + b.Commit
		if b.Modified {
			s += " modified"
		}
		s += ")"
	}
	if b.BuildTime != "" {
		s += " built " + b.BuildTime
	}
	return s
}

func getVersion() string {
	return readBuildInfo().String()
}
