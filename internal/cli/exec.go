package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/RevCBH/dockboot/internal/container"
)

// NewExecCmd creates the 'exec' command
// Args: container id or name, then the command
func NewExecCmd(a *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "exec <container> -- <cmd> [args...]",
		Short: "Run a command in a running container",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			eng, err := a.openEngine(ctx, cfg)
			if err != nil {
				return err
			}
			defer eng.Close()

			return container.Attach(eng, args[0]).Exec(ctx, args[1:], cmd.OutOrStdout())
		},
	}

	return cmd
}
