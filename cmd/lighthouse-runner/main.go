package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/shyim/lighthouse-runner/internal/auth"
	"github.com/shyim/lighthouse-runner/internal/browser"
	"github.com/shyim/lighthouse-runner/internal/cleanup"
	"github.com/shyim/lighthouse-runner/internal/config"
	"github.com/shyim/lighthouse-runner/internal/lighthouse"
	"github.com/shyim/lighthouse-runner/internal/pagetest"
	"github.com/shyim/lighthouse-runner/internal/runner"
	"github.com/shyim/lighthouse-runner/internal/storage"
	"github.com/shyim/lighthouse-runner/internal/telemetry"
)

// set with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, logger)
	stop()

	if err != nil {
		logger.WithError(err).Fatal("Run failed")
	}
}

func run(ctx context.Context, logger *logrus.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	if err := configureLogger(logger, cfg); err != nil {
		return err
	}

	reporter, err := telemetry.NewReporter(cfg.Telemetry.SentryDSN, cfg.Telemetry.SentryEnvironment, version)
	if err != nil {
		logger.WithError(err).Warn("Failed to initialize Sentry")
	}

	tp, err := telemetry.NewTracerProvider(ctx, cfg.Telemetry.OTLPEndpoint)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Warn("Failed to flush traces")
		}
	}()

	deps := runner.Deps{
		Launch: func(ctx context.Context) (runner.Session, error) {
			session, err := browser.Launch(ctx, browser.Options{
				Headless:       cfg.Headless,
				ExecPath:       cfg.ChromePath,
				DebugPort:      cfg.DebugPort,
				ViewportWidth:  cfg.ViewportWidth,
				ViewportHeight: cfg.ViewportHeight,
				Logger:         logger.WithField("component", "browser"),
			})
			if err != nil {
				return nil, err
			}
			return session, nil
		},
		Tester: pagetest.NewTester(lighthouse.NewRunner(lighthouse.Options{
			Bin:                 cfg.LighthouseBin,
			Preset:              cfg.Preset,
			DisableStorageReset: cfg.DisableStorageReset,
			ReportsDir:          cfg.ReportsDir,
			Logger:              logger.WithField("component", "lighthouse"),
		}), tp.Tracer()),
		Authenticator: auth.NewAuthenticator(auth.DefaultSelectors, logger.WithField("component", "auth")),
		Sweep: func() {
			cleanup.Sweep(os.TempDir(), cleanup.TempDirPrefixes, 30*time.Minute, logger.WithField("component", "cleanup"))
		},
		Out:    os.Stdout,
		Logger: logger,
		Tracer: tp.Tracer(),
	}

	if cfg.Storage.Enabled() {
		storageService, err := storage.NewService(ctx, cfg.Storage)
		if err != nil {
			return err
		}
		deps.Publisher = storageService
	}

	if err := runner.New(cfg, deps).Run(ctx); err != nil {
		reporter.Capture(err, 2*time.Second)
		return err
	}

	return nil
}

func configureLogger(logger *logrus.Logger, cfg *config.Config) error {
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logger.SetLevel(level)

	if cfg.LogFormat == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	return nil
}
