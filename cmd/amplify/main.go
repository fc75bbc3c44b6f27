package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"amplify/internal/analytics"
	"amplify/internal/app"
	"amplify/internal/cmdlog"
	"amplify/internal/config"
	"amplify/internal/logging"
	"amplify/internal/model"
	"amplify/internal/theme"
)

type rootOptions struct {
	ConfigPath string
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "amplify",
		Short:         "Publish to social platforms and escalate what performs",
		SilenceUsage:  true,
		SilenceErrors: true,
		Run: func(cmd *cobra.Command, args []string) {
			theme.Fprint(cmd.OutOrStdout())
			_ = cmd.Help()
		},
	}
	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "./amplify.yaml", "config path")

	cmd.AddCommand(newInitCommand())
	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newSyncCommand(opts))
	cmd.AddCommand(newScoreCommand(opts))
	cmd.AddCommand(newAnalyzeCommand(opts))
	cmd.AddCommand(newQueueCommand(opts))
	return cmd
}

// load reads the config, applies the log level and wires the app.
func load(opts *rootOptions) (*app.App, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", opts.ConfigPath, err)
	}
	logging.Configure(os.Stdout, cfg.Logging.Level)
	return app.New(cfg, nil)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newInitCommand() *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmdlog.Run("init", func() error {
				if err := config.Save(path, config.Default()); err != nil {
					return err
				}
				abs, _ := filepath.Abs(path)
				theme.Fprint(cmd.OutOrStdout())
				fmt.Fprintln(cmd.OutOrStdout(), "Config written to:", abs)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&path, "path", "./amplify.yaml", "path to write config")
	return cmd
}

func newServeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the publish workers, the sync loop and the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmdlog.Run("serve", func() error {
				a, err := load(opts)
				if err != nil {
					return err
				}
				defer a.Close()
				ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
				defer stop()
				return a.Serve(ctx)
			})
		},
	}
}

func newSyncCommand(opts *rootOptions) *cobra.Command {
	var postID string
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Refresh engagement metrics once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmdlog.Run("sync", func() error {
				a, err := load(opts)
				if err != nil {
					return err
				}
				defer a.Close()
				ctx := cmd.Context()
				if postID != "" {
					res, err := a.Syncer.SyncPost(ctx, postID)
					if err != nil {
						return err
					}
					return printJSON(cmd, res)
				}
				sum, err := a.Syncer.RunOnce(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd, sum)
			})
		},
	}
	cmd.Flags().StringVar(&postID, "post", "", "sync a single post")
	return cmd
}

func newScoreCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "score <post-id>",
		Short: "Show reward, virality and per-platform performance of a post",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmdlog.Run("score", func() error {
				a, err := load(opts)
				if err != nil {
					return err
				}
				defer a.Close()
				post, err := a.DB.GetPost(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				m := post.Metrics
				return printJSON(cmd, map[string]any{
					"post_id":             post.ID,
					"metrics":             m,
					"reward":              model.Reward(m, m.Impressions),
					"virality_weighted":   model.ViralityScoreWeighted(m),
					"virality_normalized": model.ViralityScoreNormalized(m, m.Impressions),
					"engagement_rate":     model.EngagementRate(m, m.Impressions),
					"platforms":           analytics.Breakdown(post.Platforms),
				})
			})
		},
	}
}

func newAnalyzeCommand(opts *rootOptions) *cobra.Command {
	var escalate bool
	cmd := &cobra.Command{
		Use:   "analyze <post-id>",
		Short: "Decide whether a post should be promoted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmdlog.Run("analyze", func() error {
				a, err := load(opts)
				if err != nil {
					return err
				}
				defer a.Close()
				ctx := cmd.Context()
				if !escalate {
					d, err := a.Ads.AnalyzePost(ctx, args[0])
					if err != nil {
						return err
					}
					return printJSON(cmd, d)
				}
				d, ref, err := a.Ads.Escalate(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd, map[string]any{"decision": d, "campaign": ref})
			})
		},
	}
	cmd.Flags().BoolVar(&escalate, "escalate", false, "create the campaign when the post qualifies")
	return cmd
}

func newQueueCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "queue [job-id]",
		Short: "Show publish queue counts or one job",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmdlog.Run("queue", func() error {
				a, err := load(opts)
				if err != nil {
					return err
				}
				defer a.Close()
				if len(args) == 1 {
					st, err := a.Scheduler.JobStatus(cmd.Context(), args[0])
					if err != nil {
						return err
					}
					return printJSON(cmd, st)
				}
				st, err := a.Scheduler.QueueStats(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(cmd, st)
			})
		},
	}
}
