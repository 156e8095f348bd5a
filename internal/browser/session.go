// File: internal/browser/session.go
// Description: The one live Chrome session for a run, driven over CDP. It is
// the only component that issues browser commands; the executor owns it
// exclusively through the schemas.Browser interface.

package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/pilot-cli/api/schemas"
	"github.com/xkilldash9x/pilot-cli/internal/config"
)

// Session wraps a chromedp browser context.
type Session struct {
	ctx    context.Context
	cancel context.CancelFunc
	// allocCancel tears down the exec allocator after the browser context.
	allocCancel context.CancelFunc
	cfg         config.BrowserConfig
	shots       *screenshotStore
	logger      *zap.Logger
}

// NewSession launches Chrome and verifies the session is usable.
func NewSession(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (*Session, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),
		chromedp.WindowSize(cfg.ViewportWidth, cfg.ViewportHeight),
		chromedp.Flag("disable-gpu", true),
	)
	if cfg.IgnoreTLSErrors {
		opts = append(opts, chromedp.Flag("ignore-certificate-errors", true))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	browserCtx, cancel := chromedp.NewContext(allocCtx)

	// The first Run starts the browser process.
	if err := chromedp.Run(browserCtx); err != nil {
		cancel()
		allocCancel()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}

	shots, err := newScreenshotStore(cfg.ScreenshotDir)
	if err != nil {
		cancel()
		allocCancel()
		return nil, err
	}

	logger.Info("Browser session started",
		zap.Bool("headless", cfg.Headless),
		zap.Int("viewport_width", cfg.ViewportWidth),
		zap.Int("viewport_height", cfg.ViewportHeight),
	)
	return &Session{
		ctx:         browserCtx,
		cancel:      cancel,
		allocCancel: allocCancel,
		cfg:         cfg,
		shots:       shots,
		logger:      logger.Named("browser"),
	}, nil
}

// Execute dispatches one validated, non-terminal proposal to the page.
// Terminal proposals never reach this method; the executor resolves them.
func (s *Session) Execute(ctx context.Context, p schemas.ActionProposal) error {
	opCtx, opCancel := combineContext(s.ctx, ctx)
	defer opCancel()

	switch p.Kind {
	case schemas.ActionClick:
		s.logger.Debug("Clicking", zap.Int("x", p.Click.X), zap.Int("y", p.Click.Y))
		if err := chromedp.Run(opCtx, chromedp.MouseClickXY(float64(p.Click.X), float64(p.Click.Y))); err != nil {
			return fmt.Errorf("click at (%d, %d) failed: %w", p.Click.X, p.Click.Y, err)
		}
		return nil

	case schemas.ActionTypeText:
		// The model establishes focus with a prior click; InsertText writes
		// into whatever holds focus, same as pasting.
		s.logger.Debug("Typing", zap.String("field", p.TypeText.Field), zap.Int("length", len(p.TypeText.Value)))
		typeAction := chromedp.ActionFunc(func(ctx context.Context) error {
			return input.InsertText(p.TypeText.Value).Do(ctx)
		})
		if err := chromedp.Run(opCtx, typeAction); err != nil {
			return fmt.Errorf("type into %q failed: %w", p.TypeText.Field, err)
		}
		return nil

	case schemas.ActionScroll:
		delta := p.Scroll.Amount
		if p.Scroll.Direction == schemas.ScrollUp {
			delta = -delta
		}
		s.logger.Debug("Scrolling", zap.Int("delta", delta))
		if err := chromedp.Run(opCtx, chromedp.Evaluate(fmt.Sprintf("window.scrollBy(0, %d);", delta), nil)); err != nil {
			return fmt.Errorf("scroll by %d failed: %w", delta, err)
		}
		return nil

	case schemas.ActionNavigate:
		return s.navigate(opCtx, p.Navigate.URL)

	case schemas.ActionWait:
		s.logger.Debug("Waiting", zap.Int("ms", p.Wait.Ms))
		if err := chromedp.Run(opCtx, chromedp.Sleep(time.Duration(p.Wait.Ms)*time.Millisecond)); err != nil {
			return fmt.Errorf("wait failed: %w", err)
		}
		return nil

	default:
		return fmt.Errorf("action %q is not dispatchable", p.Kind)
	}
}

func (s *Session) navigate(ctx context.Context, url string) error {
	s.logger.Debug("Navigating", zap.String("url", url))

	navTimeout := s.cfg.NavigationTimeout
	if navTimeout <= 0 {
		navTimeout = 45 * time.Second
	}
	navCtx, navCancel := context.WithTimeout(ctx, navTimeout)
	defer navCancel()

	if err := chromedp.Run(navCtx, chromedp.Navigate(url)); err != nil {
		if navCtx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("navigation timed out after %s: %w", navTimeout, err)
		}
		return fmt.Errorf("navigation failed: %w", err)
	}
	return nil
}

// Close tears the session down. Safe to call once the run is over; it does
// not interrupt an in-flight action because the executor is sequential.
func (s *Session) Close() {
	s.logger.Debug("Closing browser session")
	s.cancel()
	s.allocCancel()
}

// combineContext derives a context that is canceled when either the session
// context or the operation context is done, while keeping the chromedp
// session values from the former.
func combineContext(sessionCtx, opCtx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(sessionCtx)
	stop := context.AfterFunc(opCtx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}
