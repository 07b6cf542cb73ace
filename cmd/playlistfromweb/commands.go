package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/smartschat/playlist-from-web/internal/artifact"
	"github.com/smartschat/playlist-from-web/internal/core"
	"github.com/smartschat/playlist-from-web/internal/fetch"
	httpserver "github.com/smartschat/playlist-from-web/internal/http"
	"github.com/smartschat/playlist-from-web/internal/llm"
	"github.com/smartschat/playlist-from-web/internal/pipeline"
	"github.com/smartschat/playlist-from-web/internal/spotify"
	"github.com/smartschat/playlist-from-web/internal/store"
	"github.com/smartschat/playlist-from-web/internal/transport"
	"github.com/smartschat/playlist-from-web/pkg/musiclink"
)

// catalogNeed says how a command depends on the Spotify catalog.
type catalogNeed int

const (
	catalogNone catalogNeed = iota
	catalogOptional
	catalogRequired
)

type serviceOptions struct {
	extractor bool
	catalog   catalogNeed
	metrics   core.Metrics
}

func newDevCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dev <url>",
		Short: "Fetch and parse a page into track blocks without touching Spotify",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			force, _ := cmd.Flags().GetBool("force")
			return runCommand(serviceOptions{extractor: true}, func(ctx context.Context, svc *pipeline.Service) error {
				result, err := svc.Dev(ctx, args[0], force)
				return printResult(cmd, result, err)
			})
		},
	}
	cmd.Flags().Bool("force", false, "re-fetch and re-parse even when a parsed artifact exists")
	return cmd
}

func newImportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import <url>",
		Short: "Parse a page, resolve its tracks and sync one playlist per block",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := importOptions(cmd)
			opts.Force, _ = cmd.Flags().GetBool("force")
			return runCommand(serviceOptions{extractor: true, catalog: catalogRequired},
				func(ctx context.Context, svc *pipeline.Service) error {
					result, err := svc.Import(ctx, args[0], opts)
					return printResult(cmd, result, err)
				})
		},
	}
	cmd.Flags().Bool("force", false, "re-run even when a Spotify artifact exists")
	addWriteFlags(cmd)
	return cmd
}

func newReplayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replay <parsed-json>",
		Short: "Resolve and sync from an existing parsed artifact without fetching",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := importOptions(cmd)
			return runCommand(serviceOptions{catalog: catalogRequired}, func(ctx context.Context, svc *pipeline.Service) error {
				result, err := svc.Replay(ctx, args[0], opts)
				return printResult(cmd, result, err)
			})
		},
	}
	addWriteFlags(cmd)
	return cmd
}

func newCrawlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl <index-url>",
		Short: "Discover playlist links on an index page and import each of them",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dev, _ := cmd.Flags().GetBool("dev")
			force, _ := cmd.Flags().GetBool("force")
			maxLinks, _ := cmd.Flags().GetInt("max-links")
			noWrite, _ := cmd.Flags().GetBool("no-write")

			opts := pipeline.CrawlOptions{
				Dev:        dev,
				Force:      force,
				MaxLinks:   maxLinks,
				SearchOnly: noWrite,
				Master:     config.App.MasterPlaylist,
				Workers:    config.App.CrawlWorkers,
			}

			need := catalogRequired
			if dev {
				need = catalogNone
			}

			return runCommand(serviceOptions{extractor: true, catalog: need}, func(ctx context.Context, svc *pipeline.Service) error {
				result, path, err := svc.Crawl(ctx, args[0], opts)
				if err != nil {
					return err
				}
				counts := result.Counts()
				fmt.Fprintf(cmd.OutOrStdout(), "Crawled %d links: %d success, %d skipped, %d failed. Artifact: %s\n",
					len(result.Processed),
					counts[core.CrawlStatusSuccess],
					counts[core.CrawlStatusSkipped],
					counts[core.CrawlStatusFailed],
					path)
				return nil
			})
		},
	}
	cmd.Flags().Bool("dev", false, "only parse the discovered pages")
	cmd.Flags().Bool("force", false, "re-run pages that already have artifacts")
	cmd.Flags().Int("max-links", 0, "process at most this many links (0 means all)")
	cmd.Flags().Bool("no-write", false, "resolve tracks but do not create or modify playlists")
	return cmd
}

func newReprocessCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reprocess <crawl-slug> <index>",
		Short: "Re-run a single entry of a stored crawl result",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			index, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid entry index %q: %w", args[1], err)
			}
			dev, _ := cmd.Flags().GetBool("dev")

			need := catalogRequired
			if dev {
				need = catalogNone
			}

			return runCommand(serviceOptions{extractor: true, catalog: need}, func(ctx context.Context, svc *pipeline.Service) error {
				entry, runErr := svc.Reprocess(ctx, args[0], index, dev)
				if entry == nil {
					return runErr
				}
				fmt.Fprintf(cmd.OutOrStdout(), "[%s] %s: %s", entry.Mode, entry.URL, entry.Status)
				if entry.Artifact != "" {
					fmt.Fprintf(cmd.OutOrStdout(), ". Artifact: %s", entry.Artifact)
				}
				fmt.Fprintln(cmd.OutOrStdout())
				return runErr
			})
		},
	}
	cmd.Flags().Bool("dev", false, "only re-parse the page")
	return cmd
}

func newRemapCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remap <slug>",
		Short: "Re-resolve a parsed page against Spotify without writing playlists",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCommand(serviceOptions{catalog: catalogRequired}, func(ctx context.Context, svc *pipeline.Service) error {
				result, err := svc.Remap(ctx, args[0])
				return printResult(cmd, result, err)
			})
		},
	}
}

func newResolveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resolve [<artist> <title>]",
		Short: "Show catalog candidates for one track or a streaming service link",
		Args: func(cmd *cobra.Command, args []string) error {
			if link, _ := cmd.Flags().GetString("link"); link != "" {
				return cobra.NoArgs(cmd, args)
			}
			return cobra.ExactArgs(2)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			link, _ := cmd.Flags().GetString("link")
			return runCommand(serviceOptions{catalog: catalogRequired}, func(ctx context.Context, svc *pipeline.Service) error {
				var candidates []core.Candidate
				var err error
				if link != "" {
					var info *musiclink.TrackInfo
					info, candidates, err = svc.ResolveLink(ctx, link)
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s: %s - %s\n", info.Provider, info.Artist, info.Title)
				} else {
					candidates, err = svc.ResolveOne(ctx, args[0], args[1])
					if err != nil {
						return err
					}
				}

				for _, c := range candidates {
					fmt.Fprintf(cmd.OutOrStdout(), "%s  %s - %s (%s)\n", c.URI, strings.Join(c.Artists, ", "), c.Name, c.Album)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Found %d candidates\n", len(candidates))
				return nil
			})
		},
	}
	cmd.Flags().String("link", "", "YouTube, SoundCloud or Apple Music link to look up instead of artist and title")
	return cmd
}

func newSyncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync <slug> <playlist-id>",
		Short: "Bring one recorded playlist in line with its block",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			full, _ := cmd.Flags().GetBool("full")
			return runCommand(serviceOptions{catalog: catalogRequired}, func(ctx context.Context, svc *pipeline.Service) error {
				synced, err := svc.SyncPlaylist(ctx, args[0], args[1], full)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Synced playlist %s: %d tracks\n", args[1], synced)
				return nil
			})
		},
	}
	cmd.Flags().Bool("full", false, "replace the playlist contents instead of adding missing tracks")
	return cmd
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the JSON API, health checks and metrics",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			metrics := httpserver.NewMetrics()
			opts := serviceOptions{extractor: true, catalog: catalogOptional, metrics: metrics}

			return runCommand(opts, func(ctx context.Context, svc *pipeline.Service) error {
				server := httpserver.NewServer(&config.Server, svc, metrics, logger.Named("http"))
				return server.Start(ctx)
			})
		},
	}
}

func newAuthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "auth",
		Short: "Run the Spotify authorization flow once and print a refresh token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := validateSpotifyConfig(); err != nil {
				return fmt.Errorf("configuration validation failed: %w", err)
			}

			ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			authorizer := spotify.NewAuthorizer(&config.Spotify, logger.Named("spotify"))
			token, err := authorizer.Run(ctx, cmd.OutOrStdout())
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Add this to your .env file:\n%s=%s\n",
				flagToEnvVar("spotify-refresh-token"), token.RefreshToken)
			return nil
		},
	}
}

func addWriteFlags(cmd *cobra.Command) {
	cmd.Flags().Bool("no-write", false, "resolve tracks but do not create or modify playlists")
	cmd.Flags().Bool("full-resync", false, "replace playlist contents instead of adding missing tracks")
}

func importOptions(cmd *cobra.Command) pipeline.ImportOptions {
	noWrite, _ := cmd.Flags().GetBool("no-write")
	fullResync, _ := cmd.Flags().GetBool("full-resync")
	return pipeline.ImportOptions{
		Master:     config.App.MasterPlaylist,
		SearchOnly: noWrite,
		FullResync: fullResync,
	}
}

func printResult(cmd *cobra.Command, result *pipeline.RunResult, err error) error {
	if result != nil && result.Status != "" {
		fmt.Fprintln(cmd.OutOrStdout(), result.Summary())
	}
	return err
}

// runCommand validates the configuration, wires the service and runs fn until it
// returns or the process is interrupted.
func runCommand(opts serviceOptions, fn func(ctx context.Context, svc *pipeline.Service) error) error {
	if err := validateConfig(opts); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	svc, cleanup, err := newService(ctx, opts)
	if err != nil {
		return err
	}
	defer cleanup()

	err = fn(ctx, svc)
	if errors.Is(err, context.Canceled) {
		logger.Info("Interrupted")
		return nil
	}
	return err
}

func validateConfig(opts serviceOptions) error {
	if opts.extractor {
		if err := validateLLMConfig(); err != nil {
			return err
		}
	}

	if opts.catalog == catalogRequired {
		if err := validateSpotifyConfig(); err != nil {
			return err
		}
		if config.Spotify.RefreshToken == "" {
			return fmt.Errorf("spotify refresh token is required (run the auth command)")
		}
	}

	return nil
}

func newService(ctx context.Context, opts serviceOptions) (*pipeline.Service, func(), error) {
	metrics := opts.metrics
	if metrics == nil {
		metrics = core.NopMetrics{}
	}

	if err := os.MkdirAll(config.App.DataDir, 0o750); err != nil {
		return nil, nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	deps := pipeline.Deps{
		Store: artifact.NewStore(config.App.DataDir, logger.Named("artifact")),
		Fetcher: fetch.NewFetcher(fetch.Config{
			Timeout: config.App.FetchTimeout,
			Retry:   retryConfig(),
		}, logger.Named("fetch"), metrics),
	}

	if opts.extractor {
		provider, err := llm.NewProvider(&config.LLM, logger.Named("llm"), metrics)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create LLM provider: %w", err)
		}
		deps.Extractor = provider
	}

	if opts.catalog != catalogNone {
		client, err := newCatalog(ctx, metrics)
		switch {
		case err == nil:
			deps.Catalog = client
		case opts.catalog == catalogRequired:
			return nil, nil, err
		default:
			logger.Warn("Spotify unavailable, catalog operations are disabled", zap.Error(err))
		}
	}

	linkClient := &http.Client{
		Timeout:   config.App.FetchTimeout,
		Transport: transport.NewRetry(http.DefaultTransport, retryConfig(), logger.Named("musiclink"), metrics),
	}
	deps.Links = musiclink.NewManager(linkClient, musiclink.DefaultEndpoints(), logger.Named("musiclink"))

	cleanup := func() {}
	if config.App.HistoryPath != "" {
		history, err := store.NewHistory(config.App.HistoryPath, logger.Named("history"))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open run history: %w", err)
		}
		deps.History = history
		cleanup = func() {
			if closeErr := history.Close(); closeErr != nil {
				logger.Warn("Failed to close run history", zap.Error(closeErr))
			}
		}
	}

	return pipeline.NewService(config, deps, logger.Named("pipeline"), metrics), cleanup, nil
}

// retryConfig is the retry policy for non-catalog HTTP requests. Only the catalog is paced.
func retryConfig() transport.RetryConfig {
	return transport.RetryConfig{
		MaxAttempts: config.Spotify.MaxAttempts,
		BaseDelay:   config.Spotify.RetryBaseDelay,
		MaxDelay:    config.Spotify.MaxRetryDelay,
	}
}

func newCatalog(ctx context.Context, metrics core.Metrics) (*spotify.Client, error) {
	if err := validateSpotifyConfig(); err != nil {
		return nil, err
	}
	if config.Spotify.RefreshToken == "" {
		return nil, fmt.Errorf("spotify refresh token is required (run the auth command)")
	}

	client := spotify.NewClient(&config.Spotify, logger.Named("spotify"), metrics)
	if err := client.Authenticate(ctx); err != nil {
		return nil, fmt.Errorf("failed to authenticate with Spotify: %w", err)
	}
	return client, nil
}
