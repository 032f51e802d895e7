package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/RevCBH/dockboot/internal/container"
	"github.com/RevCBH/dockboot/internal/engine"
)

// NewPruneCmd creates the 'prune' command for removing leftovers of
// aborted runs.
// Flags: --run (string) - only remove resources of this run id
func NewPruneCmd(a *App) *cobra.Command {
	var runID string

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Remove containers and networks left behind by aborted runs",
		Long: `Remove every container and network labelled as created by dockboot.
A forced interrupt skips cleanup; prune removes what it left behind.`,
		Args: cobra.NoArgs,
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

			return prune(ctx, eng, runID, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&runID, "run", "", "Only prune resources of this run id")

	return cmd
}

// prune removes labelled containers first, then labelled networks.
func prune(ctx context.Context, eng engine.Engine, runID string, out io.Writer) error {
	labels := map[string]string{engine.LabelManagedBy: engine.ManagedByValue}
	if runID != "" {
		labels[engine.LabelRunID] = runID
	}

	var errs []error
	var removedC, removedN int

	containers, err := eng.ListContainers(ctx, labels)
	if err != nil {
		return err
	}
	for _, c := range containers {
		if err := container.Attach(eng, c.ID).Remove(ctx); err != nil {
			errs = append(errs, fmt.Errorf("remove container %s: %w", c.Name, err))
			continue
		}
		removedC++
		fmt.Fprintf(out, "removed container %s\n", c.Name)
	}

	networks, err := eng.ListNetworks(ctx, labels)
	if err != nil {
		return errors.Join(append(errs, err)...)
	}
	for _, n := range networks {
		err := eng.RemoveNetwork(ctx, engine.NetworkID(n.ID))
		if err != nil && !engine.IsNotFound(err) {
			errs = append(errs, fmt.Errorf("remove network %s: %w", n.Name, err))
			continue
		}
		removedN++
		fmt.Fprintf(out, "removed network %s\n", n.Name)
	}

	fmt.Fprintf(out, "pruned %d containers, %d networks\n", removedC, removedN)
	return errors.Join(errs...)
}
