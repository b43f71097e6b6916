package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/p-blackswan/pagesmith/internal/archive"
	"github.com/p-blackswan/pagesmith/internal/callback"
	"github.com/p-blackswan/pagesmith/internal/config"
	"github.com/p-blackswan/pagesmith/internal/engine"
	ghclient "github.com/p-blackswan/pagesmith/internal/github"
	"github.com/p-blackswan/pagesmith/internal/health"
	"github.com/p-blackswan/pagesmith/internal/llm"
	"github.com/p-blackswan/pagesmith/internal/metrics"
	"github.com/p-blackswan/pagesmith/internal/notify"
	"github.com/p-blackswan/pagesmith/internal/pipeline"
	"github.com/p-blackswan/pagesmith/internal/prompt"
	"github.com/p-blackswan/pagesmith/internal/publish"
	"github.com/p-blackswan/pagesmith/internal/retry"
	"github.com/p-blackswan/pagesmith/internal/server"
	"github.com/p-blackswan/pagesmith/pkg/tokenstore"
)

const shutdownTimeout = 15 * time.Second

func main() {
	// Setup structured logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	logger := zerolog.New(os.Stdout).With().Timestamp().Caller().Logger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if cfg.IsDevelopment() {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	}
	log.Logger = logger

	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	logger.Info().
		Str("environment", cfg.Environment).
		Str("listen_addr", cfg.ListenAddr).
		Str("owner", cfg.GitHubUsername).
		Str("llm_provider", cfg.LLMProvider).
		Bool("github_app", cfg.GitHubAppEnabled()).
		Bool("dry_run", cfg.GitHubDryRun).
		Bool("slack_enabled", cfg.SlackEnabled()).
		Bool("archive_enabled", cfg.ArchiveEnabled()).
		Msg("starting pagesmith")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("pagesmith stopped with error")
	}
	logger.Info().Msg("pagesmith stopped")
}

func run(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	m := metrics.New()
	checker := health.NewChecker(logger)

	store, err := newRemoteStore(cfg, checker, logger)
	if err != nil {
		return err
	}

	provider, err := llm.New(ctx, llm.Settings{
		Provider: cfg.LLMProvider,
		APIKey:   cfg.LLMAPIKey,
		BaseURL:  cfg.LLMBaseURL,
		Model:    cfg.LLMModel,
		Timeout:  cfg.LLMTimeout,
	}, logger)
	if err != nil {
		return err
	}
	logger.Info().Str("model", provider.ModelID()).Msg("generation provider initialized")

	prompts, err := prompt.Load(cfg.PromptsFile)
	if err != nil {
		return err
	}

	var notifier *notify.Notifier
	if cfg.SlackEnabled() {
		notifier = notify.NewSlackNotifier(cfg.SlackBotToken, cfg.SlackChannel, cfg.SlackAPIURL, logger)
	} else {
		logger.Info().Msg("Slack not configured, run notices disabled")
	}

	var arch *archive.Archive
	if cfg.ArchiveEnabled() {
		arch, err = archive.New(archive.Settings{
			Endpoint:  cfg.ArchiveEndpoint,
			Region:    cfg.ArchiveRegion,
			AccessKey: cfg.ArchiveAccessKey,
			SecretKey: cfg.ArchiveSecretKey,
			Bucket:    cfg.ArchiveBucket,
			UseSSL:    cfg.ArchiveUseSSL,
		}, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("failed to init artifact archive (non-fatal)")
			arch = nil
		}
	}

	links := publish.Links{Owner: cfg.GitHubUsername, PagesDomain: cfg.PagesDomain}
	policy := retry.CallbackPolicy()
	policy.MaxAttempts = cfg.ReportAttempts
	policy.InitialDelay = cfg.ReportInitialDelay
	policy.Multiplier = cfg.ReportMultiplier

	source := publish.PublicationSource{Branch: cfg.GitHubBranch, Path: cfg.PagesPath}
	poller := retry.Poller{Interval: cfg.PollInterval, MaxDuration: cfg.PollMax}

	p := pipeline.New(pipeline.Deps{
		Provider:       provider,
		Prompts:        prompts,
		Syncer:         publish.NewSynchronizer(store, links, logger),
		Activator:      publish.NewActivator(store, links, source, logger),
		Waiter:         publish.NewProber(&http.Client{Timeout: 10 * time.Second}, poller, logger),
		Reporter:       callback.NewReporter(&http.Client{Timeout: cfg.CallbackTimeout}, policy, m, logger),
		Archive:        arch,
		Notifier:       notifier,
		Metrics:        m,
		Owner:          cfg.GitHubUsername,
		ReportFailures: cfg.ReportFailures,
		Logger:         logger,
	})

	eng, err := engine.New(engine.Config{
		Workers:     cfg.Workers,
		QueueSize:   cfg.QueueSize,
		RunTimeout:  cfg.RunTimeout,
		HistorySize: cfg.RunHistorySize,
	}, p, m, logger)
	if err != nil {
		return err
	}
	checker.Register("queue", health.QueueCheck(eng.QueueDepth))

	srv := server.New(server.Config{
		ListenAddr:   cfg.ListenAddr,
		SharedSecret: cfg.SharedSecret,
		MgmtAPIKey:   cfg.MgmtAPIKey,
		RateLimit:    server.RateLimitConfig{RPS: cfg.RateLimitRPS, Burst: cfg.RateLimitBurst},
		CORSOrigins:  cfg.CORSOrigins,
	}, eng, checker, m, logger)

	g, gctx := errgroup.WithContext(ctx)
	eng.Start(gctx)

	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down gracefully")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)

		done := make(chan struct{})
		go func() {
			eng.Stop()
			close(done)
		}()
		select {
		case <-done:
		case <-shutdownCtx.Done():
			logger.Warn().Msg("forced shutdown after timeout")
		}
		return err
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// newRemoteStore builds the GitHub-backed store, or an in-memory one for dry runs.
func newRemoteStore(cfg *config.Config, checker *health.Checker, logger zerolog.Logger) (publish.RemoteStore, error) {
	if cfg.GitHubDryRun {
		logger.Warn().Msg("GITHUB_DRY_RUN set, publishing to an in-memory store")
		return publish.NewMemoryStore(cfg.GitHubUsername), nil
	}

	opts := []ghclient.Option{ghclient.WithAPIURL(cfg.GitHubAPIURL)}
	var client *ghclient.Client
	if cfg.GitHubAppEnabled() {
		var err error
		client, err = ghclient.NewAppClient(
			cfg.GitHubAppID,
			cfg.GitHubInstallationID,
			cfg.GitHubPrivateKeyPath,
			tokenstore.NewMemoryStore(),
			logger,
			opts...,
		)
		if err != nil {
			return nil, err
		}
		logger.Info().Msg("GitHub App client initialized")
	} else {
		client = ghclient.NewTokenClient(cfg.GitHubToken, logger, opts...)
		logger.Info().Msg("GitHub token client initialized")
	}

	storeOpts := []ghclient.StoreOption{ghclient.WithBranch(cfg.GitHubBranch)}
	if cfg.GitHubOrg {
		storeOpts = append(storeOpts, ghclient.AsOrganization())
	}
	store := ghclient.NewStore(client, cfg.GitHubUsername, logger, storeOpts...)
	checker.Register("github", health.PingCheck(store.Ping))
	return store, nil
}
