// Package main provides the stagehand CLI.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"stagehand/client"
	"stagehand/internal/config"
	"stagehand/internal/logging"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var errConfig = errors.New("configuration error")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(exitCode(err))
	}
}

// app carries what the root command resolves for its subcommands.
type app struct {
	configPath string
	repoPath   string
	server     string
	logLevel   string

	cfg    *config.Config
	logger *zap.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "stagehand",
		Short: "Inspect and stage uncommitted changes, with undo",
		Long: `stagehand lists the uncommitted changes of a git repository, shows
per-file diffs and stages or unstages files. Every staging action is recorded
so it can be undone and redone, across invocations.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				a.logger.Sync()
			}
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "config file (default config/config.<STAGEHAND_ENV>.json)")
	flags.StringVar(&a.repoPath, "repo", "", "repository directory")
	flags.StringVar(&a.server, "server", "", "stagehand server URL; commands go through its API")
	flags.StringVar(&a.logLevel, "log-level", "", "log level (debug, info, warn, error)")

	root.AddCommand(
		a.statusCmd(),
		a.diffCmd(),
		a.stageCmd(),
		a.unstageCmd(),
		a.undoCmd(),
		a.redoCmd(),
		a.historyCmd(),
		a.watchCmd(),
	)
	return root
}

func (a *app) setup(cmd *cobra.Command) error {
	var (
		cfg *config.Config
		err error
	)
	if a.configPath != "" {
		cfg, err = config.Load(a.configPath)
	} else {
		cfg, err = config.LoadOrDefault(config.ConfigPath())
	}
	if err != nil {
		return fmt.Errorf("%w: %v", errConfig, err)
	}
	if err := cfg.ApplyEnv(); err != nil {
		return fmt.Errorf("%w: %v", errConfig, err)
	}

	if a.repoPath != "" {
		cfg.Repository.Path = a.repoPath
	}
	if a.logLevel != "" {
		cfg.LogLevel = a.logLevel
	}

	logger, err := logging.NewConsole(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("%w: initializing logger: %v", errConfig, err)
	}
	a.cfg = cfg
	a.logger = logger.Logger
	return nil
}

func (a *app) open(ctx context.Context) (session, error) {
	if a.server != "" {
		a.logger.Debug("using server", zap.String("url", a.server))
		return remote{client.New(a.server)}, nil
	}
	s, err := openLocal(ctx, a.cfg, a.logger)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// with opens a session, runs fn and closes the session.
func (a *app) with(cmd *cobra.Command, fn func(ctx context.Context, s session) error) error {
	ctx := cmd.Context()
	s, err := a.open(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := s.Close(); err != nil {
			a.logger.Warn("closing repository", zap.Error(err))
		}
	}()
	return fn(ctx, s)
}
