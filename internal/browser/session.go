// Package browser owns the single headless Chrome instance of a run. The
// Session is created once by the orchestrator and lent to the authenticator
// and the auditor for the duration of each call.
package browser

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/chromedp"
	"github.com/sirupsen/logrus"
)

type Options struct {
	Headless bool
	// ExecPath overrides the Chrome binary lookup.
	ExecPath string
	// DebugPort is the fixed remote debugging port, so external tools such
	// as Lighthouse can attach to the same browser.
	DebugPort      int
	ViewportWidth  int64
	ViewportHeight int64
	Logger         logrus.FieldLogger
}

type Session struct {
	ctx         context.Context
	cancelTab   context.CancelFunc
	cancelAlloc context.CancelFunc
	debugPort   int
	logger      logrus.FieldLogger
}

// Launch starts Chrome, opens one page and applies the viewport.
func Launch(ctx context.Context, opts Options) (*Session, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("remote-debugging-port", strconv.Itoa(opts.DebugPort)),
		chromedp.WindowSize(int(opts.ViewportWidth), int(opts.ViewportHeight)),
	)
	if opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(opts.ExecPath))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, allocOpts...)
	tabCtx, cancelTab := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(logger.Debugf),
		chromedp.WithErrorf(logger.Errorf),
	)

	s := &Session{
		ctx:         tabCtx,
		cancelTab:   cancelTab,
		cancelAlloc: cancelAlloc,
		debugPort:   opts.DebugPort,
		logger:      logger,
	}

	// the first Run allocates the browser
	if err := chromedp.Run(tabCtx, chromedp.EmulateViewport(opts.ViewportWidth, opts.ViewportHeight)); err != nil {
		cancelTab()
		cancelAlloc()
		return nil, fmt.Errorf("launching browser: %w", err)
	}

	logger.WithFields(logrus.Fields{
		"debugPort": opts.DebugPort,
		"viewport":  fmt.Sprintf("%dx%d", opts.ViewportWidth, opts.ViewportHeight),
	}).Debug("browser started")

	return s, nil
}

// DebugPort returns the remote debugging port the browser listens on.
func (s *Session) DebugPort() int {
	return s.debugPort
}

func (s *Session) Navigate(ctx context.Context, url string) error {
	return s.run(ctx, chromedp.Navigate(url))
}

// WaitReady blocks until an element matching sel is present in the DOM.
func (s *Session) WaitReady(ctx context.Context, sel string) error {
	return s.run(ctx, chromedp.WaitReady(sel, chromedp.ByQuery))
}

// Count returns the number of elements currently matching sel without waiting.
func (s *Session) Count(ctx context.Context, sel string) (int, error) {
	var nodes []*cdp.Node
	if err := s.run(ctx, chromedp.Nodes(sel, &nodes, chromedp.ByQuery, chromedp.AtLeast(0))); err != nil {
		return 0, err
	}
	return len(nodes), nil
}

// SendKeys types text into the element matching sel one key at a time.
func (s *Session) SendKeys(ctx context.Context, sel, text string) error {
	return s.run(ctx, chromedp.SendKeys(sel, text, chromedp.ByQuery))
}

func (s *Session) Click(ctx context.Context, sel string) error {
	return s.run(ctx, chromedp.Click(sel, chromedp.ByQuery))
}

// Close shuts the browser down. It is safe to call more than once.
func (s *Session) Close() error {
	if s.cancelAlloc == nil {
		return nil
	}

	err := chromedp.Cancel(s.ctx)
	s.cancelTab()
	s.cancelAlloc()
	s.cancelAlloc = nil

	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("closing browser: %w", err)
	}
	s.logger.Debug("browser closed")
	return nil
}

// run executes actions on the session's page while honouring the caller's ctx.
func (s *Session) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(s.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	return chromedp.Run(runCtx, actions...)
}
