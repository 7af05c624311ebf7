package driver

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/MichaelGodsHand/suggestions/internal/automation"
	"github.com/MichaelGodsHand/suggestions/internal/config"
	"github.com/MichaelGodsHand/suggestions/internal/dom"
)

// Session is one exclusive browser automation session. Implementations must
// tolerate Close being called more than once and concurrently with nothing
// else: the pool guarantees a session is never executing for two callers.
type Session interface {
	ID() string
	Execute(ctx context.Context, task *automation.Task) (*automation.Result, error)
	Healthy(ctx context.Context) bool
	Reset(ctx context.Context) error
	Close()
}

// Factory creates a fresh Session. The pool calls it lazily, below capacity.
type Factory func(ctx context.Context) (Session, error)

// Chrome owns the shared exec allocator all sessions are spawned from.
type Chrome struct {
	allocCtx    context.Context
	allocCancel context.CancelFunc
	cfg         config.BrowserConfig
	logger      *zap.Logger
}

// Chrome binaries to probe when no executable path is configured. Mirrors
// what the container images ship.
var chromeCandidates = []string{
	"/usr/bin/google-chrome",
	"/usr/bin/chromium-browser",
	"/usr/bin/chromium",
	"/usr/local/bin/chrome",
}

func findExecutable(configured string) string {
	if configured != "" {
		return configured
	}
	for _, p := range chromeCandidates {
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p
		}
	}
	// Let chromedp's own lookup have a go.
	return ""
}

// NewChrome builds the allocator. Close it after the pool has shut down.
func NewChrome(cfg config.BrowserConfig, logger *zap.Logger) *Chrome {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-setuid-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-software-rasterizer", true),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("mute-audio", true),
		chromedp.IgnoreCertErrors,
	)
	if cfg.WindowWidth > 0 && cfg.WindowHeight > 0 {
		opts = append(opts, chromedp.WindowSize(cfg.WindowWidth, cfg.WindowHeight))
	}
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	if exec := findExecutable(cfg.ExecutablePath); exec != "" {
		logger.Info("using chrome binary", zap.String("path", exec))
		opts = append(opts, chromedp.ExecPath(exec))
	}
	if cfg.UserDataDir != "" {
		opts = append(opts, chromedp.UserDataDir(cfg.UserDataDir))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	return &Chrome{
		allocCtx:    allocCtx,
		allocCancel: allocCancel,
		cfg:         cfg,
		logger:      logger,
	}
}

// NewSession opens a fresh tab and warms it up. Satisfies Factory.
func (c *Chrome) NewSession(ctx context.Context) (Session, error) {
	tabCtx, cancel := chromedp.NewContext(c.allocCtx,
		chromedp.WithLogf(c.logger.Sugar().Debugf),
	)

	id := uuid.NewString()
	s := &chromeSession{
		id:     id,
		ctx:    tabCtx,
		cancel: cancel,
		logger: c.logger.With(zap.String("session_id", id)),
	}

	if _, ok := ctx.Deadline(); !ok {
		var timeoutCancel context.CancelFunc
		ctx, timeoutCancel = context.WithTimeout(ctx, sessionStartTimeout)
		defer timeoutCancel()
	}

	// First Run starts the browser process/tab.
	warmCtx, warmCancel := s.boundedCtx(ctx)
	defer warmCancel()
	if err := chromedp.Run(warmCtx, chromedp.Navigate("about:blank")); err != nil {
		cancel()
		return nil, fmt.Errorf("start browser session: %w", err)
	}
	s.logger.Debug("browser session started")
	return s, nil
}

// Close tears down the allocator and any browser processes still attached.
func (c *Chrome) Close() {
	c.allocCancel()
}

type chromeSession struct {
	id        string
	ctx       context.Context
	cancel    context.CancelFunc
	logger    *zap.Logger
	closeOnce sync.Once
}

func (s *chromeSession) ID() string { return s.id }

// boundedCtx derives a run context from the session's tab context, carrying
// over the caller's deadline and cancellation. chromedp requires the tab
// context as the parent, so the caller's ctx cannot be used directly.
func (s *chromeSession) boundedCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	var (
		runCtx context.Context
		cancel context.CancelFunc
	)
	if dl, ok := ctx.Deadline(); ok {
		runCtx, cancel = context.WithDeadline(s.ctx, dl)
	} else {
		runCtx, cancel = context.WithCancel(s.ctx)
	}
	stop := context.AfterFunc(ctx, cancel)
	return runCtx, func() { stop(); cancel() }
}

// Execute runs the task's script and extraction against this session's tab.
// Errors are classified into the crash/timeout/action taxonomy so the
// executor can decide on retry and lease disposition.
func (s *chromeSession) Execute(ctx context.Context, task *automation.Task) (*automation.Result, error) {
	if s.ctx.Err() != nil {
		return nil, fmt.Errorf("%w: session context dead: %v", automation.ErrCrashed, s.ctx.Err())
	}

	runCtx, cancel := s.boundedCtx(ctx)
	defer cancel()

	if task.URL != "" {
		if err := chromedp.Run(runCtx, dom.NavigateAction(task.URL)); err != nil {
			return nil, s.classify(ctx, err, 0, automation.ActionNavigate)
		}
	}

	for i, a := range task.Actions {
		act, err := compileAction(a, task.Credentials)
		if err != nil {
			return nil, &automation.ActionError{Step: i, Type: a.Type, Err: err}
		}
		if err := chromedp.Run(runCtx, act); err != nil {
			return nil, s.classify(ctx, err, i, a.Type)
		}
	}

	var data any
	if task.Extract != nil {
		var err error
		data, err = s.extract(runCtx, task.Extract)
		if err != nil {
			return nil, s.classify(ctx, err, len(task.Actions), "extract")
		}
	}

	var finalURL string
	if err := chromedp.Run(runCtx, dom.LocationAction(&finalURL)); err != nil {
		s.logger.Debug("final url lookup failed", zap.Error(err))
	}

	return &automation.Result{
		Data: data,
		Meta: automation.Metadata{HandleID: s.id, FinalURL: finalURL},
	}, nil
}

// classify maps a chromedp failure onto the error taxonomy. Order matters: a
// dead tab context means crash even when the surface error looks like a
// cancellation, and a deadline on the caller's context means timeout.
func (s *chromeSession) classify(ctx context.Context, err error, step int, typ automation.ActionType) error {
	if s.ctx.Err() != nil {
		return fmt.Errorf("%w: %v", automation.ErrCrashed, err)
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: step %d (%s): %v", automation.ErrTimeout, step, typ, err)
	}
	if errors.Is(err, context.Canceled) && ctx.Err() == nil {
		// Cancellation that did not come from the caller: the browser went away.
		return fmt.Errorf("%w: %v", automation.ErrCrashed, err)
	}
	return &automation.ActionError{Step: step, Type: typ, Err: err}
}

func (s *chromeSession) extract(runCtx context.Context, spec *automation.ExtractSpec) (any, error) {
	mode := spec.Mode
	if mode == "" {
		mode = automation.ExtractText
	}

	switch mode {
	case automation.ExtractScreenshot:
		var shot []byte
		if err := chromedp.Run(runCtx, dom.ScreenshotAction(90, &shot)); err != nil {
			return nil, err
		}
		return shot, nil

	case automation.ExtractHTML:
		for _, sel := range spec.Selectors {
			present, err := s.countMatches(runCtx, sel)
			if err != nil {
				return nil, err
			}
			if present == 0 {
				continue
			}
			var raw string
			if err := chromedp.Run(runCtx, dom.GetOuterHTMLAction(sel, &raw)); err != nil {
				return nil, err
			}
			return dom.Simplify(raw)
		}
		return "", nil

	case automation.ExtractText:
		// No selectors means the whole page's visible text.
		if len(spec.Selectors) == 0 {
			var raw string
			if err := chromedp.Run(runCtx, dom.GetOuterHTMLAction("html", &raw)); err != nil {
				return nil, err
			}
			return dom.TextContent(raw)
		}
		for _, sel := range spec.Selectors {
			var items []string
			if err := chromedp.Run(runCtx, dom.TextsAction(sel, &items)); err != nil {
				return nil, err
			}
			if filtered := spec.FilterTexts(items); len(filtered) > 0 {
				return filtered, nil
			}
		}
		return []string{}, nil

	default:
		return nil, fmt.Errorf("unknown extract mode: %s", mode)
	}
}

func (s *chromeSession) countMatches(runCtx context.Context, selector string) (int, error) {
	var n int
	script := fmt.Sprintf(`document.querySelectorAll(%q).length`, selector)
	if err := chromedp.Run(runCtx, chromedp.Evaluate(script, &n)); err != nil {
		return 0, err
	}
	return n, nil
}

// Healthy does a no-op script round trip. Side-effect free.
func (s *chromeSession) Healthy(ctx context.Context) bool {
	if s.ctx.Err() != nil {
		return false
	}
	runCtx, cancel := s.boundedCtx(ctx)
	defer cancel()
	var one int
	if err := chromedp.Run(runCtx, chromedp.Evaluate(`1`, &one)); err != nil {
		s.logger.Debug("health probe failed", zap.Error(err))
		return false
	}
	return one == 1
}

// Reset clears cookies and parks the tab on about:blank so a later task does
// not inherit auth or navigation state.
func (s *chromeSession) Reset(ctx context.Context) error {
	if s.ctx.Err() != nil {
		return fmt.Errorf("%w: session context dead", automation.ErrCrashed)
	}
	runCtx, cancel := s.boundedCtx(ctx)
	defer cancel()
	return chromedp.Run(runCtx,
		network.ClearBrowserCookies(),
		chromedp.Navigate("about:blank"),
	)
}

// Close terminates the tab. Idempotent, never fails.
func (s *chromeSession) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
		s.logger.Debug("browser session closed")
	})
}

// sessionStartTimeout bounds the warm-up Run when the caller supplied no
// deadline.
const sessionStartTimeout = 30 * time.Second
