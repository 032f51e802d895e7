package bootstrap

import (
	"context"
	"fmt"
	"os"

	"github.com/RevCBH/dockboot/internal/config"
	"github.com/RevCBH/dockboot/internal/engine"
	"github.com/RevCBH/dockboot/internal/interrupt"
	"github.com/RevCBH/dockboot/internal/network"
)

// Main dispatches entries for the current process and exits: status 0 on
// success, 1 on any failure. Programs call it from their main function.
func Main(name string, entries ...Entry) {
	if err := run(context.Background(), name, entries); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	os.Exit(0)
}

func run(ctx context.Context, name string, entries []Entry) error {
	role, err := Resolve(os.LookupEnv)
	if err != nil {
		return err
	}

	if !role.IsMaster() {
		config.SetupLogging(config.DefaultLogLevel, config.DefaultLogFormat)
		d := &Dispatcher{Role: role}
		return d.Dispatch(ctx, name, entries)
	}

	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("get working directory: %w", err)
	}
	cfg, err := config.LoadConfig(cwd)
	if err != nil {
		return err
	}
	config.SetupLogging(cfg.LogLevel, cfg.LogFormat)

	stop, err := cfg.StopTimeoutDuration()
	if err != nil {
		return err
	}
	cleanup, err := cfg.CleanupTimeoutDuration()
	if err != nil {
		return err
	}

	listener := interrupt.New()
	listener.Start()
	defer listener.Stop()

	d := &Dispatcher{
		Role: role,
		Engine: func(ctx context.Context) (engine.Engine, error) {
			return engine.Open(ctx, engine.Options{Backend: cfg.Engine.Backend, Host: cfg.Engine.Host})
		},
		Args:      os.Args[1:],
		Out:       os.Stdout,
		Interrupt: listener,
		NetworkOptions: []network.Option{
			network.WithColor(cfg.Color),
			network.WithStopTimeout(stop),
			network.WithCleanupTimeout(cleanup),
		},
	}
	return d.Dispatch(ctx, name, entries)
}
