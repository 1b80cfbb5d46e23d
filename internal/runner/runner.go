// Package runner drives a complete measurement run: launch the browser,
// audit every configured page a fixed number of times, log in before the
// first page that needs it, and write the collected samples to disk.
package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/shyim/lighthouse-runner/internal/auth"
	"github.com/shyim/lighthouse-runner/internal/config"
	"github.com/shyim/lighthouse-runner/internal/lighthouse"
	"github.com/shyim/lighthouse-runner/internal/metrics"
	"github.com/shyim/lighthouse-runner/internal/models"
	"github.com/shyim/lighthouse-runner/internal/utils"
)

// ErrWriteFailed is returned when the results document cannot be written.
var ErrWriteFailed = errors.New("writing results failed")

// Session is the browser owned by a run. Phases borrow it for one call.
type Session interface {
	auth.Page
	lighthouse.Target
	Close() error
}

// Launcher starts the browser for a run.
type Launcher func(ctx context.Context) (Session, error)

type PageTester interface {
	TestPage(ctx context.Context, session lighthouse.Target, url string) (models.MetricSet, error)
}

type Authenticator interface {
	Authenticate(ctx context.Context, page auth.Page, loginURL string, creds auth.Credentials) error
}

// Publisher uploads finished result files.
type Publisher interface {
	UploadFile(ctx context.Context, key, filePath string) error
}

type Deps struct {
	Launch        Launcher
	Tester        PageTester
	Authenticator Authenticator
	// Publisher is optional; nil skips the upload.
	Publisher Publisher
	// Sweep is optional and runs once the browser is closed.
	Sweep func()

	Out    io.Writer
	Logger logrus.FieldLogger
	Tracer trace.Tracer
}

type Runner struct {
	cfg  *config.Config
	deps Deps
}

func New(cfg *config.Config, deps Deps) *Runner {
	if deps.Out == nil {
		deps.Out = os.Stdout
	}
	if deps.Logger == nil {
		deps.Logger = logrus.StandardLogger()
	}
	if deps.Tracer == nil {
		deps.Tracer = noop.NewTracerProvider().Tracer("")
	}
	return &Runner{cfg: cfg, deps: deps}
}

// Run performs one measurement run. Missing credentials are reported on the
// output and end the run without error and without launching a browser.
func (r *Runner) Run(ctx context.Context) error {
	if !r.cfg.HasCredentials() {
		fmt.Fprintln(r.deps.Out, "Error: please set PERF_USERNAME and PERF_PASSWORD before running the script.")
		fmt.Fprintln(r.deps.Out, "More info can be found in the README")
		return nil
	}

	ctx, span := r.deps.Tracer.Start(ctx, "run")
	defer span.End()

	if err := r.measure(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	if r.deps.Sweep != nil {
		r.deps.Sweep()
	}

	if r.deps.Publisher != nil {
		if err := r.publish(ctx); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}
	}

	return nil
}

// measure owns the browser session. The session is closed after the results
// are written, whether or not the write succeeded.
func (r *Runner) measure(ctx context.Context) error {
	session, err := r.deps.Launch(ctx)
	if err != nil {
		return fmt.Errorf("launching browser: %w", err)
	}
	defer func() {
		if err := session.Close(); err != nil {
			r.deps.Logger.WithError(err).Warn("closing browser")
		}
	}()

	results := make(models.Results, 0, len(r.cfg.Pages))
	for _, page := range r.cfg.Pages {
		results = append(results, models.PageResults{Key: page.Key, Samples: make([]models.MetricSet, 0, r.cfg.Iterations)})
	}

	loggedIn := false
	for _, page := range r.cfg.Pages {
		if page.Authenticated && !loggedIn {
			if err := r.login(ctx, session); err != nil {
				return err
			}
			loggedIn = true
		}

		samples, err := r.testPage(ctx, session, page)
		if err != nil {
			return err
		}
		for _, s := range samples {
			results.Append(page.Key, s)
		}
	}

	if err := writeJSON(r.cfg.OutputFile, results); err != nil {
		return err
	}

	if r.cfg.SummaryFile != "" {
		if err := writeJSON(r.cfg.SummaryFile, metrics.Summarize(results)); err != nil {
			return err
		}
	}

	fmt.Fprintln(r.deps.Out, "complete")
	return nil
}

func (r *Runner) testPage(ctx context.Context, session Session, page config.Page) ([]models.MetricSet, error) {
	ctx, span := r.deps.Tracer.Start(ctx, "page "+page.Name, trace.WithAttributes(
		attribute.String("page.key", page.Key),
		attribute.String("url.full", page.URL),
		attribute.Int("iterations", r.cfg.Iterations),
	))
	defer span.End()

	logger := r.deps.Logger.WithFields(logrus.Fields{"page": page.Key, "url": page.URL})

	fmt.Fprintf(r.deps.Out, "%s page tests...\r", page.Name)

	samples := make([]models.MetricSet, 0, r.cfg.Iterations)
	for i := 0; i < r.cfg.Iterations; i++ {
		start := time.Now()

		sample, err := r.deps.Tester.TestPage(ctx, session, page.URL)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("%s page test %d/%d: %w", page.Name, i+1, r.cfg.Iterations, err)
		}

		logger.WithFields(logrus.Fields{"iteration": i + 1, "took": time.Since(start).Round(time.Millisecond)}).Debug("audit finished")
		samples = append(samples, sample)
	}

	fmt.Fprintf(r.deps.Out, "%s page tests... Completed\n", page.Name)
	return samples, nil
}

func (r *Runner) login(ctx context.Context, session Session) error {
	ctx, span := r.deps.Tracer.Start(ctx, "login")
	defer span.End()

	err := r.deps.Authenticator.Authenticate(ctx, session, r.cfg.LoginURL, auth.Credentials{
		Username: r.cfg.Username,
		Password: r.cfg.Password,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("logging in: %w", err)
	}

	if r.cfg.LoginSettle <= 0 {
		return nil
	}

	select {
	case <-time.After(r.cfg.LoginSettle):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// publish uploads the written files under results/<run id>/.
func (r *Runner) publish(ctx context.Context) error {
	runID := uuid.NewString()
	prefix := "results/" + runID + "/"
	logger := r.deps.Logger.WithField("run", runID)

	if err := r.deps.Publisher.UploadFile(ctx, prefix+"results.json", r.cfg.OutputFile); err != nil {
		return err
	}

	if r.cfg.SummaryFile != "" {
		if err := r.deps.Publisher.UploadFile(ctx, prefix+"summary.json", r.cfg.SummaryFile); err != nil {
			return err
		}
	}

	if r.cfg.ReportsDir != "" {
		zipPath := filepath.Join(os.TempDir(), fmt.Sprintf("lighthouse-reports-%s.zip", runID))
		defer os.Remove(zipPath)

		if err := utils.ZipDirectory(r.cfg.ReportsDir, zipPath); err != nil {
			return fmt.Errorf("archiving reports: %w", err)
		}
		if err := r.deps.Publisher.UploadFile(ctx, prefix+"reports.zip", zipPath); err != nil {
			return err
		}
	}

	logger.Infof("Uploaded results to %s", prefix)
	return nil
}

func writeJSON(path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: encoding %s: %v", ErrWriteFailed, path, err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	return nil
}
