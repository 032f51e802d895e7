package cli

import (
	"fmt"
	"io"
	"runtime"
	"strings"

	"github.com/docker/docker/api"
	"github.com/spf13/cobra"

	"github.com/RevCBH/dockboot/internal/engine"
)

// withDefaults fills build metadata missing from a non-release build.
func (v VersionInfo) withDefaults() VersionInfo {
	if v.Version == "" {
		v.Version = "dev"
	}
	if v.Commit == "" {
		v.Commit = "unknown"
	}
	if v.Date == "" {
		v.Date = "unknown"
	}
	return v
}

func (v VersionInfo) write(w io.Writer) {
	backends := []string{engine.BackendAuto, engine.BackendAPI, engine.BackendDocker, engine.BackendPodman}

	fmt.Fprintf(w, "dockboot %s (commit %s, built %s)\n", v.Version, v.Commit, v.Date)
	fmt.Fprintf(w, "  go:         %s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
	fmt.Fprintf(w, "  docker api: %s, negotiated on connect\n", api.DefaultVersion)
	fmt.Fprintf(w, "  backends:   %s\n", strings.Join(backends, ", "))
}

// NewVersionCmd creates the 'version' command
// Flags: --short (bool) - print the release version only
func NewVersionCmd(app *App) *cobra.Command {
	var short bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print build, runtime and engine API versions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			info := app.versionInfo.withDefaults()
			if short {
				fmt.Fprintln(cmd.OutOrStdout(), info.Version)
				return nil
			}
			info.write(cmd.OutOrStdout())
			return nil
		},
	}

	cmd.Flags().BoolVar(&short, "short", false, "Print the version only")

	return cmd
}
