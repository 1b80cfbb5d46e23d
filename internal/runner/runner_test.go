package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shyim/lighthouse-runner/internal/auth"
	"github.com/shyim/lighthouse-runner/internal/config"
	"github.com/shyim/lighthouse-runner/internal/lighthouse"
	"github.com/shyim/lighthouse-runner/internal/models"
)

// recorder collects the order of everything the fakes see.
type recorder struct {
	events []string
}

func (r *recorder) add(e string) { r.events = append(r.events, e) }

type fakeSession struct {
	rec        *recorder
	outputFile string
	// fileAtClose records whether the results file existed when Close ran.
	fileAtClose bool
	closed      int
}

func (s *fakeSession) Navigate(context.Context, string) error { return nil }
func (s *fakeSession) WaitReady(context.Context, string) error { return nil }
func (s *fakeSession) Count(context.Context, string) (int, error) { return 1, nil }
func (s *fakeSession) SendKeys(context.Context, string, string) error { return nil }
func (s *fakeSession) Click(context.Context, string) error { return nil }
func (s *fakeSession) DebugPort() int { return 9222 }

func (s *fakeSession) Close() error {
	s.closed++
	s.rec.add("close")
	_, err := os.Stat(s.outputFile)
	s.fileAtClose = err == nil
	return nil
}

type fakeTester struct {
	rec    *recorder
	failOn string
	calls  int
}

func (t *fakeTester) TestPage(_ context.Context, session lighthouse.Target, url string) (models.MetricSet, error) {
	t.calls++
	t.rec.add("test " + url)
	if url == t.failOn {
		return models.MetricSet{}, errors.New("navigation timeout")
	}
	return models.MetricSet{
		FCP: &models.Metric{NumericValue: ptr(float64(100 * t.calls)), NumericUnit: "millisecond", ScoreDisplayMode: "numeric"},
		CLS: &models.Metric{NumericValue: ptr(0.01), NumericUnit: "unitless", ScoreDisplayMode: "numeric"},
	}, nil
}

func ptr(v float64) *float64 { return &v }

type fakeAuthenticator struct {
	rec   *recorder
	err   error
	creds auth.Credentials
	url   string
}

func (a *fakeAuthenticator) Authenticate(_ context.Context, _ auth.Page, loginURL string, creds auth.Credentials) error {
	a.rec.add("login")
	a.url = loginURL
	a.creds = creds
	return a.err
}

type fakePublisher struct {
	keys []string
}

func (p *fakePublisher) UploadFile(_ context.Context, key, filePath string) error {
	if _, err := os.Stat(filePath); err != nil {
		return err
	}
	p.keys = append(p.keys, key)
	return nil
}

type harness struct {
	cfg       *config.Config
	rec       *recorder
	session   *fakeSession
	tester    *fakeTester
	auth      *fakeAuthenticator
	out       *bytes.Buffer
	launched  int
	publisher *fakePublisher
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()

	cfg := &config.Config{
		Username:       "qa@example.com",
		Password:       "secret",
		LoginURL:       "https://app.example.com/login",
		Iterations:     10,
		ViewportWidth:  1080,
		ViewportHeight: 1024,
		OutputFile:     filepath.Join(dir, "results.json"),
		Pages: []config.Page{
			{Name: "Login", Key: "loginResults", URL: "https://app.example.com/login"},
			{Name: "Workscopes", Key: "workscopesResults", URL: "https://app.example.com", Authenticated: true},
			{Name: "Viewer", Key: "viewerResults", URL: "https://app.example.com/workscopes/1/viewer", Authenticated: true},
		},
	}

	rec := &recorder{}
	return &harness{
		cfg:     cfg,
		rec:     rec,
		session: &fakeSession{rec: rec, outputFile: cfg.OutputFile},
		tester:  &fakeTester{rec: rec},
		auth:    &fakeAuthenticator{rec: rec},
		out:     &bytes.Buffer{},
	}
}

func (h *harness) runner() *Runner {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	deps := Deps{
		Launch: func(context.Context) (Session, error) {
			h.launched++
			h.rec.add("launch")
			return h.session, nil
		},
		Tester:        h.tester,
		Authenticator: h.auth,
		Out:           h.out,
		Logger:        logger,
	}
	if h.publisher != nil {
		deps.Publisher = h.publisher
	}
	return New(h.cfg, deps)
}

func TestRunProducesResultsDocument(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.runner().Run(context.Background()))

	data, err := os.ReadFile(h.cfg.OutputFile)
	require.NoError(t, err)

	var doc map[string][]map[string]map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))

	require.Len(t, doc, 3)
	for _, key := range []string{"loginResults", "workscopesResults", "viewerResults"} {
		assert.Len(t, doc[key], 10, key)
	}
	assert.Equal(t, map[string]any{"numericValue": 100.0, "numericUnit": "millisecond"}, doc["loginResults"][0]["fcp"])
	assert.True(t, strings.HasPrefix(string(data), `{"loginResults":[`))

	assert.Equal(t, 30, h.tester.calls)
	assert.Equal(t, 1, h.launched)
	assert.Equal(t, 1, h.session.closed)
}

func TestRunLogsInOnceBeforeFirstAuthenticatedPage(t *testing.T) {
	h := newHarness(t)
	h.cfg.Iterations = 2

	require.NoError(t, h.runner().Run(context.Background()))

	assert.Equal(t, []string{
		"launch",
		"test https://app.example.com/login",
		"test https://app.example.com/login",
		"login",
		"test https://app.example.com",
		"test https://app.example.com",
		"test https://app.example.com/workscopes/1/viewer",
		"test https://app.example.com/workscopes/1/viewer",
		"close",
	}, h.rec.events)

	assert.Equal(t, "https://app.example.com/login", h.auth.url)
	assert.Equal(t, auth.Credentials{Username: "qa@example.com", Password: "secret"}, h.auth.creds)
}

func TestRunProgressOutput(t *testing.T) {
	h := newHarness(t)
	h.cfg.Iterations = 1

	require.NoError(t, h.runner().Run(context.Background()))

	assert.Equal(t,
		"Login page tests...\rLogin page tests... Completed\n"+
			"Workscopes page tests...\rWorkscopes page tests... Completed\n"+
			"Viewer page tests...\rViewer page tests... Completed\n"+
			"complete\n",
		h.out.String())
}

func TestRunClosesBrowserAfterWrite(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.runner().Run(context.Background()))

	assert.True(t, h.session.fileAtClose, "results must be written before the browser closes")
}

func TestRunWithoutCredentials(t *testing.T) {
	for name, mutate := range map[string]func(*config.Config){
		"no username": func(c *config.Config) { c.Username = "" },
		"no password": func(c *config.Config) { c.Password = "" },
		"neither":     func(c *config.Config) { c.Username, c.Password = "", "" },
	} {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t)
			mutate(h.cfg)

			require.NoError(t, h.runner().Run(context.Background()))

			assert.Zero(t, h.launched)
			assert.NoFileExists(t, h.cfg.OutputFile)

			lines := strings.Split(strings.TrimSuffix(h.out.String(), "\n"), "\n")
			require.Len(t, lines, 2)
			assert.True(t, strings.HasPrefix(lines[0], "Error: please set"))
			assert.Equal(t, "More info can be found in the README", lines[1])
		})
	}
}

func TestRunAuditFailureAbortsWithoutPersisting(t *testing.T) {
	h := newHarness(t)
	h.tester.failOn = "https://app.example.com/workscopes/1/viewer"

	err := h.runner().Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "navigation timeout")
	assert.Contains(t, err.Error(), "Viewer page test 1/10")

	assert.NoFileExists(t, h.cfg.OutputFile)
	assert.Equal(t, 1, h.session.closed)
	assert.NotContains(t, h.out.String(), "complete\n")
}

func TestRunLoginFailureAborts(t *testing.T) {
	h := newHarness(t)
	h.auth.err = auth.ErrElementNotFound

	err := h.runner().Run(context.Background())
	require.ErrorIs(t, err, auth.ErrElementNotFound)

	assert.Equal(t, 10, h.tester.calls)
	assert.NoFileExists(t, h.cfg.OutputFile)
	assert.Equal(t, 1, h.session.closed)
}

func TestRunLaunchFailure(t *testing.T) {
	h := newHarness(t)
	launchErr := errors.New("chrome not found")

	r := New(h.cfg, Deps{
		Launch:        func(context.Context) (Session, error) { return nil, launchErr },
		Tester:        h.tester,
		Authenticator: h.auth,
		Out:           h.out,
	})

	require.ErrorIs(t, r.Run(context.Background()), launchErr)
	assert.Zero(t, h.tester.calls)
}

func TestRunWriteFailure(t *testing.T) {
	h := newHarness(t)
	h.cfg.OutputFile = filepath.Join(t.TempDir(), "missing-dir", "results.json")
	h.session.outputFile = h.cfg.OutputFile

	err := h.runner().Run(context.Background())
	require.ErrorIs(t, err, ErrWriteFailed)
	assert.Equal(t, 1, h.session.closed)
}

func TestRunSkipsLoginWithoutAuthenticatedPages(t *testing.T) {
	h := newHarness(t)
	h.cfg.Pages = h.cfg.Pages[:1]
	h.cfg.Iterations = 1

	require.NoError(t, h.runner().Run(context.Background()))

	assert.NotContains(t, h.rec.events, "login")
}

func TestRunWritesSummary(t *testing.T) {
	h := newHarness(t)
	h.cfg.Iterations = 3
	h.cfg.SummaryFile = filepath.Join(t.TempDir(), "summary.json")

	require.NoError(t, h.runner().Run(context.Background()))

	data, err := os.ReadFile(h.cfg.SummaryFile)
	require.NoError(t, err)

	var summary map[string]map[string]map[string]any
	require.NoError(t, json.Unmarshal(data, &summary))

	// fcp values are 100,200,300 for the first page
	assert.Equal(t, 200.0, summary["loginResults"]["fcp"]["averageNumericValue"])
	assert.Equal(t, "millisecond", summary["loginResults"]["fcp"]["numericUnit"])
	assert.Nil(t, summary["loginResults"]["lcp"]["averageNumericValue"])
}

func TestRunPublishesResults(t *testing.T) {
	h := newHarness(t)
	h.cfg.Iterations = 1
	h.cfg.SummaryFile = filepath.Join(t.TempDir(), "summary.json")
	h.cfg.ReportsDir = t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(h.cfg.ReportsDir, "001-login.json"), []byte(`{}`), 0644))
	h.publisher = &fakePublisher{}

	swept := false
	r := h.runner()
	r.deps.Sweep = func() {
		swept = true
		assert.Equal(t, 1, h.session.closed, "sweep runs after the browser is closed")
	}

	require.NoError(t, r.Run(context.Background()))

	assert.True(t, swept)
	require.Len(t, h.publisher.keys, 3)
	prefix := strings.TrimSuffix(h.publisher.keys[0], "results.json")
	assert.Regexp(t, `^results/[0-9a-f-]{36}/$`, prefix)
	assert.Equal(t, []string{prefix + "results.json", prefix + "summary.json", prefix + "reports.zip"}, h.publisher.keys)
}

func TestRunLoginSettleHonoursCancellation(t *testing.T) {
	h := newHarness(t)
	h.cfg.Iterations = 1
	h.cfg.LoginSettle = 1 << 40

	ctx, cancel := context.WithCancel(context.Background())
	r := h.runner()
	r.deps.Authenticator = authFunc(func() { cancel() })

	err := r.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.NoFileExists(t, h.cfg.OutputFile)
}

type authFunc func()

func (f authFunc) Authenticate(context.Context, auth.Page, string, auth.Credentials) error {
	f()
	return nil
}
