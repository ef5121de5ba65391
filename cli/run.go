package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"autochatter"
	"autochatter/auth"
	"autochatter/comment"
	"autochatter/config"
	"autochatter/filter"
	apphttp "autochatter/http"
	"autochatter/internal/otelx"
	"autochatter/internal/retry"
	"autochatter/logging"
	"autochatter/poller"
	"autochatter/storage"
	"autochatter/youtube"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"golang.org/x/oauth2"
)

func newRunCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Poll the channel and comment on new uploads until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return startupError(err)
			}
			logger, closeLog, err := logging.New(cfg.Log)
			if err != nil {
				return fmt.Errorf("error initializing application: %w", err)
			}
			defer closeLog()
			slog.SetDefault(logger)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := run(ctx, cfg, logger); err != nil {
				logging.WithComponent(logger, "cli").Error("fatal error", "error", err)
				return startupError(err)
			}
			return nil
		},
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	cliLog := logging.WithComponent(logger, "cli")
	logStartup(cliLog, cfg)

	shutdown, err := otelx.Init(ctx, logger, cfg.OTel)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	if shutdown != nil {
		defer func() {
			// ctx is already cancelled on the way out.
			if err := shutdown(context.WithoutCancel(ctx)); err != nil {
				cliLog.Warn("tracing shutdown failed", "error", err)
			}
		}()
	}

	store, err := storage.Open(cfg.StateBackend, cfg.StateFile, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	limiter := apphttp.NewRateLimiter(apphttp.RateLimiterConfig{
		DataAPIRPS:     cfg.APIRPS,
		FeedRPS:        apphttp.DefaultRateLimiterConfig().FeedRPS,
		HostRates:      map[string]float64{},
		DynamicBackoff: true,
	})
	base := apphttp.NewClient(limiter, logger)

	yt, err := newYouTubeClient(ctx, cfg, base, logger)
	if err != nil {
		return err
	}

	selector, err := comment.NewSelector(cfg.Templates, comment.WithLinkPrefix(cfg.LinkPrefix))
	if err != nil {
		return fmt.Errorf("comment templates: %w", err)
	}

	var lister youtube.UploadLister = yt
	if cfg.ListSource == config.SourceRSS {
		lister = youtube.NewFeedLister(base, logger)
	}

	opts := []poller.Option{}
	rule, err := filter.NewRule(cfg.IncludeExpr)
	if err != nil {
		return err
	}
	if rule != nil {
		opts = append(opts, poller.WithRule(rule))
	}
	if cfg.ShortsOnly {
		shorts := filter.NewShorts(yt, cfg.MaxShortsDuration)
		cliLog.Info("shorts-only mode enabled", "max_duration", shorts.Max())
		opts = append(opts, poller.WithShorts(shorts))
	} else {
		cliLog.Info("commenting on all uploads")
	}

	pcfg := poller.Config{
		ChannelID:         cfg.ChannelID,
		MaxResults:        cfg.MaxResults,
		PollInterval:      cfg.PollInterval,
		MinCommentDelay:   cfg.MinCommentDelay,
		MaxCommentDelay:   cfg.MaxCommentDelay,
		LinkURL:           cfg.LinkURL,
		LinkInclusionRate: cfg.LinkInclusionRate,
	}
	if cfg.PollSchedule != "" {
		sched, err := cron.ParseStandard(cfg.PollSchedule)
		if err != nil {
			return fmt.Errorf("poll schedule: %w", err)
		}
		pcfg.Schedule = sched
	}

	p, err := poller.New(pcfg, lister, yt, store, selector, logger, opts...)
	if err != nil {
		return err
	}
	return p.Run(ctx)
}

// newYouTubeClient authorizes with the cached token (or a consent flow) and
// builds the Data API client. All requests, token refreshes included, pass
// through the rate-limited base client.
func newYouTubeClient(ctx context.Context, cfg *config.Config, base *http.Client, logger *slog.Logger) (*youtube.Client, error) {
	authn, err := auth.New(auth.Config{
		ClientSecretsFile: cfg.ClientSecretsFile,
		TokenFile:         cfg.TokenFile,
		Scopes:            []string{youtube.Scope},
	}, logger)
	if err != nil {
		return nil, err
	}
	httpClient, err := authn.Client(context.WithValue(ctx, oauth2.HTTPClient, base))
	if err != nil {
		return nil, fmt.Errorf("authorize: %w", err)
	}
	return youtube.NewClient(ctx, httpClient, retry.Config{
		MaxRetries:     cfg.MaxRetries,
		InitialBackoff: cfg.InitialBackoff,
		MaxBackoff:     cfg.MaxBackoff,
		Multiplier:     2,
	}, logger)
}

func logStartup(logger *slog.Logger, cfg *config.Config) {
	logger.Info("starting autochatter", "version", version, "channel_id", cfg.ChannelID)
	if cfg.PollSchedule != "" {
		logger.Info("polling on schedule", "schedule", cfg.PollSchedule)
	} else {
		logger.Info("polling at fixed interval", "interval", cfg.PollInterval)
	}
	logger.Info(fmt.Sprintf("link inclusion rate: %.0f%%", cfg.LinkInclusionRate*100),
		"link_url", cfg.LinkURL)
	logger.Info("state backend", "backend", cfg.StateBackend, "path", cfg.StateFile, "list_source", cfg.ListSource)
}

// startupError labels err for the operator.
func startupError(err error) error {
	if autochatter.IsConfigError(err) {
		return fmt.Errorf("configuration error: %w", err)
	}
	return fmt.Errorf("error initializing application: %w", err)
}
