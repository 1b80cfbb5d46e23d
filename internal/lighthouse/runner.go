// Package lighthouse runs the Lighthouse CLI against a Chrome instance that
// is already running, so audits share the cookies of the browser session.
package lighthouse

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/shyim/lighthouse-runner/internal/models"
)

// ErrAuditFailed wraps every failure of a Lighthouse invocation.
var ErrAuditFailed = errors.New("lighthouse audit failed")

// Target is the running browser Lighthouse attaches to.
type Target interface {
	DebugPort() int
}

type Options struct {
	// Bin is the lighthouse executable, or a path to its cli .js entry point
	// which is then started with node.
	Bin string
	// Preset selects the emulation profile, e.g. "desktop". Empty keeps the
	// Lighthouse default (mobile).
	Preset              string
	DisableStorageReset bool
	// ReportsDir, when set, receives a copy of every raw report.
	ReportsDir string
	Logger     logrus.FieldLogger
}

type Runner struct {
	opts Options
	seq  int
}

func NewRunner(opts Options) *Runner {
	if opts.Bin == "" {
		opts.Bin = "lighthouse"
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	return &Runner{opts: opts}
}

// Args returns the command line used to audit url in the browser listening
// on debugPort.
func (r *Runner) Args(debugPort int, url string) []string {
	args := []string{
		url,
		"--port=" + strconv.Itoa(debugPort),
		"--output=json",
		"--output-path=stdout",
		"--only-categories=performance",
		"--quiet",
	}
	if r.opts.DisableStorageReset {
		args = append(args, "--disable-storage-reset")
	}
	if r.opts.Preset != "" {
		args = append(args, "--preset="+r.opts.Preset)
	}
	return args
}

// Audit runs Lighthouse once against url inside target and returns the raw
// report.
func (r *Runner) Audit(ctx context.Context, target Target, url string) (models.Report, error) {
	name, args := r.opts.Bin, r.Args(target.DebugPort(), url)
	if strings.HasSuffix(name, ".js") {
		name, args = "node", append([]string{r.opts.Bin}, args...)
	}

	cmd := exec.CommandContext(ctx, name, args...)

	var stdout bytes.Buffer
	var stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	logger := r.opts.Logger.WithField("url", url)
	logger.Debug("starting lighthouse")

	if err := cmd.Run(); err != nil {
		logger.Debugf("Lighthouse failed: %s", stderr.String())
		return nil, fmt.Errorf("%w: %s: %v: %s", ErrAuditFailed, url, err, strings.TrimSpace(stderr.String()))
	}

	raw := stdout.Bytes()
	if !json.Valid(raw) {
		return nil, fmt.Errorf("%w: %s: output is not valid JSON", ErrAuditFailed, url)
	}

	report := models.Report(raw)
	if report.Audits() == nil {
		return nil, fmt.Errorf("%w: %s: report has no audits", ErrAuditFailed, url)
	}
	if code := report.RuntimeError(); code != "" {
		logger.WithField("code", code).Warn("lighthouse reported a runtime error")
	}

	r.seq++
	if r.opts.ReportsDir != "" {
		if err := r.save(report, url); err != nil {
			return nil, err
		}
	}

	return report, nil
}

func (r *Runner) save(report models.Report, url string) error {
	if err := os.MkdirAll(r.opts.ReportsDir, 0755); err != nil {
		return fmt.Errorf("creating reports dir: %w", err)
	}

	path := filepath.Join(r.opts.ReportsDir, fmt.Sprintf("%03d-%s.json", r.seq, slug(url)))
	if err := os.WriteFile(path, report, 0644); err != nil {
		return fmt.Errorf("saving report: %w", err)
	}
	return nil
}

var nonSlug = regexp.MustCompile(`[^a-zA-Z0-9]+`)

func slug(url string) string {
	url = strings.TrimPrefix(strings.TrimPrefix(url, "https://"), "http://")
	s := strings.Trim(nonSlug.ReplaceAllString(url, "-"), "-")
	if len(s) > 80 {
		s = s[:80]
	}
	return strings.ToLower(s)
}
