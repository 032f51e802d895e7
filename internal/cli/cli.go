// Package cli is the dockboot command-line application.
package cli

import (
	"context"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/RevCBH/dockboot/internal/config"
	"github.com/RevCBH/dockboot/internal/dialog"
	"github.com/RevCBH/dockboot/internal/engine"
	"github.com/RevCBH/dockboot/internal/interrupt"
	"github.com/RevCBH/dockboot/internal/network"
)

// VersionInfo holds build metadata
type VersionInfo struct {
	Version string
	Commit  string
	Date    string
}

// App represents the CLI application with all wired dependencies
type App struct {
	// Root command
	rootCmd *cobra.Command

	// Persistent flags
	verbose    bool
	configPath string

	versionInfo VersionInfo

	// openEngine connects to the engine; replaced in tests
	openEngine func(ctx context.Context, cfg *config.Config) (engine.Engine, error)

	// notify registers the interrupt listener with the OS
	notify bool
}

// New creates a new CLI application
func New() *App {
	app := &App{
		openEngine: openEngine,
		notify:     true,
	}
	app.setupRootCmd()
	return app
}

// Execute runs the CLI application
func (a *App) Execute() error {
	return a.rootCmd.Execute()
}

// SetVersion sets the version string for the version command
func (a *App) SetVersion(version, commit, date string) {
	a.versionInfo = VersionInfo{Version: version, Commit: commit, Date: date}
}

// setupRootCmd configures the root Cobra command
func (a *App) setupRootCmd() {
	a.rootCmd = &cobra.Command{
		Use:   "dockboot",
		Short: "Run a network of containers as one unit",
		Long: `dockboot creates a container network, starts its containers, relays
their logs, waits for the ones that matter and always removes everything it
created.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	a.rootCmd.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false,
		"Verbose output")
	a.rootCmd.PersistentFlags().StringVar(&a.configPath, "config", "",
		"Config file (default: ./"+config.FileName+")")

	a.rootCmd.AddCommand(
		NewUpCmd(a),
		NewPruneCmd(a),
		NewExecCmd(a),
		NewVersionCmd(a),
	)
}

// loadConfig loads configuration and sets up logging.
func (a *App) loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if a.configPath != "" {
		cfg, err = config.LoadFile(a.configPath, true)
	} else {
		var cwd string
		if cwd, err = os.Getwd(); err == nil {
			cfg, err = config.LoadConfig(cwd)
		}
	}
	if err != nil {
		return nil, err
	}

	if a.verbose {
		cfg.LogLevel = "debug"
	}
	config.SetupLogging(cfg.LogLevel, cfg.LogFormat)
	return cfg, nil
}

func openEngine(ctx context.Context, cfg *config.Config) (engine.Engine, error) {
	return engine.Open(ctx, engine.Options{Backend: cfg.Engine.Backend, Host: cfg.Engine.Host})
}

// listen starts an interrupt listener; the returned func stops it.
func (a *App) listen() (*interrupt.Listener, func()) {
	l := interrupt.New()
	l.StartWithNotify(a.notify)
	return l, l.Stop
}

// colorMode resolves auto against the output: colour only on a terminal.
func colorMode(mode string, out any) string {
	if mode != dialog.ColorAuto {
		return mode
	}
	if f, ok := out.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		return dialog.ColorAlways
	}
	return dialog.ColorNever
}

// networkOptions maps config onto network build options.
func networkOptions(cfg *config.Config, out any) ([]network.Option, error) {
	stop, err := cfg.StopTimeoutDuration()
	if err != nil {
		return nil, err
	}
	cleanup, err := cfg.CleanupTimeoutDuration()
	if err != nil {
		return nil, err
	}
	return []network.Option{
		network.WithColor(colorMode(cfg.Color, out)),
		network.WithStopTimeout(stop),
		network.WithCleanupTimeout(cleanup),
	}, nil
}
