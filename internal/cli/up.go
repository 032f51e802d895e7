package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/RevCBH/dockboot/internal/config"
	"github.com/RevCBH/dockboot/internal/manifest"
	"github.com/RevCBH/dockboot/internal/network"
)

// DefaultManifest is the manifest read by `up` without an argument.
const DefaultManifest = "dockboot.yaml"

// NewUpCmd creates the 'up' command.
// Args: manifest path (optional, default dockboot.yaml)
func NewUpCmd(a *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "up [manifest]",
		Short: "Build and run the network described by a manifest",
		Long: `Build the network described by a manifest, start every container, relay
their logs and wait for the containers marked wait. Everything is removed when
the run ends, fails or is interrupted. Interrupt twice to abort cleanup.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := DefaultManifest
			if len(args) == 1 {
				path = args[0]
			}

			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			m, err := manifest.Load(path)
			if err != nil {
				return err
			}
			return a.up(cmd.Context(), cfg, m, cmd.OutOrStdout())
		},
	}

	return cmd
}

func (a *App) up(ctx context.Context, cfg *config.Config, m *manifest.Manifest, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}

	listener, stop := a.listen()
	defer stop()

	eng, err := a.openEngine(ctx, cfg)
	if err != nil {
		return err
	}
	defer eng.Close()

	opts, err := networkOptions(cfg, out)
	if err != nil {
		return err
	}
	opts = append(opts, network.WithOutput(out))

	spec := m.Spec()
	if m.Driver == "" {
		spec = spec.WithDriver(cfg.Network.Driver)
	}

	h, err := spec.Provision(ctx, eng, listener, opts...)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "network %s up (run %s, %d containers)\n", h.Name(), h.RunID(), len(h.Containers()))
	return h.Run(ctx, listener)
}
