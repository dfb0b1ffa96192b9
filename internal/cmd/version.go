package cmd

import (
	"fmt"
	"runtime"

	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var versionExtended bool

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	RunE: func(cmd *cobra.Command, args []string) error {
		name := "threadgate"
		if id := GetAppIdentity(); id != nil && id.BinaryName != "" {
			name = id.BinaryName
		}
		out := cmd.OutOrStdout()
		if !versionExtended {
			_, err := fmt.Fprintf(out, "%s %s\n", name, versionInfo.Version)
			return err
		}

		ssot := crucible.GetVersion()
		t := table.NewWriter()
		t.SetOutputMirror(out)
		t.SetStyle(table.StyleLight)
		t.AppendRows([]table.Row{
			{"name", name},
			{"version", versionInfo.Version},
			{"commit", versionInfo.Commit},
			{"built", versionInfo.BuildDate},
			{"go", fmt.Sprintf("%s %s/%s", runtime.Version(), runtime.GOOS, runtime.GOARCH)},
			{"gofulmen", ssot.Gofulmen},
			{"crucible", ssot.Crucible},
		})
		t.Render()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
	versionCmd.Flags().BoolVarP(&versionExtended, "extended", "e", false, "include commit, build and dependency versions")
}
