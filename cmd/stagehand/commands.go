package main

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"stagehand/internal/render"
	"stagehand/internal/watch"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func (a *app) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "List uncommitted changes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.with(cmd, func(ctx context.Context, s session) error {
				deltas, err := s.Changes(ctx)
				if err != nil {
					return fmt.Errorf("listing changes: %w", err)
				}
				render.Status(cmd.OutOrStdout(), deltas)
				return nil
			})
		},
	}
}

func (a *app) diffCmd() *cobra.Command {
	var opts render.DiffOptions
	cmd := &cobra.Command{
		Use:   "diff <path>",
		Short: "Show the patch of one changed path",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.with(cmd, func(ctx context.Context, s session) error {
				details, err := s.Diff(ctx, args[0])
				if err != nil {
					return err
				}
				render.Diff(cmd.OutOrStdout(), details, opts)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&opts.Highlight, "highlight", false, "syntax highlight content lines")
	cmd.Flags().StringVar(&opts.Style, "style", "", "highlight style name")
	return cmd
}

func (a *app) stageCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stage <path>...",
		Short: "Stage paths",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.with(cmd, func(ctx context.Context, s session) error {
				for _, path := range args {
					if err := s.Stage(ctx, path); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "staged %s\n", path)
				}
				return nil
			})
		},
	}
}

func (a *app) unstageCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unstage <path>...",
		Short: "Unstage paths",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.with(cmd, func(ctx context.Context, s session) error {
				for _, path := range args {
					if err := s.Unstage(ctx, path); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "unstaged %s\n", path)
				}
				return nil
			})
		},
	}
}

func (a *app) undoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "undo",
		Short: "Undo the last staging action",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.with(cmd, func(ctx context.Context, s session) error {
				return s.Undo(ctx)
			})
		},
	}
}

func (a *app) redoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "redo",
		Short: "Redo the last undone staging action",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.with(cmd, func(ctx context.Context, s session) error {
				return s.Redo(ctx)
			})
		},
	}
}

func (a *app) historyCmd() *cobra.Command {
	var clearAll, all bool
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recorded staging actions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if clearAll && all {
				return fmt.Errorf("%w: --clear and --all cannot be combined", errConfig)
			}
			return a.with(cmd, func(ctx context.Context, s session) error {
				switch {
				case clearAll:
					return s.ClearHistory(ctx)
				case all:
					l, ok := s.(*local)
					if !ok {
						return fmt.Errorf("%w: --all reads the local history database and cannot be used with --server", errConfig)
					}
					saved, err := l.Saved(ctx)
					if err != nil {
						return err
					}
					render.Saved(cmd.OutOrStdout(), saved)
					return nil
				}

				snapshot, err := s.History(ctx)
				if err != nil {
					return err
				}
				render.History(cmd.OutOrStdout(), snapshot)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&clearAll, "clear", false, "forget every recorded action of this repository")
	cmd.Flags().BoolVar(&all, "all", false, "list the saved histories of every repository")
	return cmd
}

func (a *app) watchCmd() *cobra.Command {
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print the status whenever the working tree changes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.with(cmd, func(ctx context.Context, s session) error {
				root, err := filepath.Abs(a.cfg.Repository.Path)
				if err != nil {
					return err
				}
				if l, ok := s.(*local); ok {
					root = l.repo.Path()
				}

				w, err := watch.New(root, watch.WithInterval(interval), watch.WithLogger(a.logger))
				if err != nil {
					return err
				}
				defer w.Close()

				out := cmd.OutOrStdout()
				show := func(ctx context.Context) error {
					deltas, err := s.Changes(ctx)
					if err != nil {
						return fmt.Errorf("listing changes: %w", err)
					}
					fmt.Fprintf(out, "-- %s\n", time.Now().Format(time.TimeOnly))
					render.Status(out, deltas)
					return nil
				}
				if err := show(ctx); err != nil {
					return err
				}
				a.logger.Info("watching", zap.String("root", root))
				return w.Run(ctx, func(ctx context.Context, paths []string) error {
					a.logger.Debug("refresh", zap.Strings("paths", paths))
					return show(ctx)
				})
			})
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", watch.DefaultInterval, "minimum time between refreshes")
	return cmd
}
