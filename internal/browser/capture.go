// File: internal/browser/capture.go

package browser

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/pilot-cli/api/schemas"
)

// CaptureScreen takes a fresh screenshot and reads the current viewport
// dimensions from CDP layout metrics. Nothing is cached: a stale capture
// would let the model act on a screen that no longer exists.
func (s *Session) CaptureScreen(ctx context.Context) (schemas.ScreenState, error) {
	opCtx, opCancel := combineContext(s.ctx, ctx)
	defer opCancel()

	var (
		shot   []byte
		width  int
		height int
	)
	tasks := chromedp.Tasks{
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, _, _, _, cssVisualViewport, _, err := page.GetLayoutMetrics().Do(ctx)
			if err != nil {
				return fmt.Errorf("failed to read layout metrics: %w", err)
			}
			if cssVisualViewport == nil {
				return fmt.Errorf("layout metrics returned no visual viewport")
			}
			width = int(cssVisualViewport.ClientWidth)
			height = int(cssVisualViewport.ClientHeight)
			return nil
		}),
		chromedp.CaptureScreenshot(&shot),
	}
	if err := chromedp.Run(opCtx, tasks); err != nil {
		return schemas.ScreenState{}, fmt.Errorf("screen capture failed: %w", err)
	}

	ref, err := s.shots.save(shot)
	if err != nil {
		return schemas.ScreenState{}, err
	}

	s.logger.Debug("Screen captured",
		zap.String("ref", ref),
		zap.Int("width", width),
		zap.Int("height", height),
	)
	return schemas.ScreenState{
		Ref:        ref,
		Image:      shot,
		Width:      width,
		Height:     height,
		CapturedAt: time.Now().UTC(),
	}, nil
}

// screenshotStore writes captures to disk so trace records can reference
// them by path after the run.
type screenshotStore struct {
	dir string
}

func newScreenshotStore(dir string) (*screenshotStore, error) {
	if dir == "" {
		dir = "screenshots"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create screenshot directory: %w", err)
	}
	return &screenshotStore{dir: dir}, nil
}

func (st *screenshotStore) save(png []byte) (string, error) {
	path := filepath.Join(st.dir, uuid.NewString()+".png")
	if err := os.WriteFile(path, png, 0o644); err != nil {
		return "", fmt.Errorf("failed to write screenshot: %w", err)
	}
	return path, nil
}
