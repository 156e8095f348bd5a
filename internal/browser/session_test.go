// File: internal/browser/session_test.go
package browser

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScreenshotStore(t *testing.T) {
	t.Run("should write each capture to its own file", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "shots")
		store, err := newScreenshotStore(dir)
		require.NoError(t, err)

		first, err := store.save([]byte("png-one"))
		require.NoError(t, err)
		second, err := store.save([]byte("png-two"))
		require.NoError(t, err)

		assert.NotEqual(t, first, second)
		assert.True(t, strings.HasSuffix(first, ".png"))

		data, err := os.ReadFile(first)
		require.NoError(t, err)
		assert.Equal(t, []byte("png-one"), data)
	})

	t.Run("should create the directory on demand", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "a", "b", "c")
		_, err := newScreenshotStore(dir)
		require.NoError(t, err)

		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	})
}

func TestCombineContext(t *testing.T) {
	t.Run("should cancel when the operation context is done", func(t *testing.T) {
		sessionCtx := context.Background()
		opCtx, opCancel := context.WithCancel(context.Background())

		combined, cancel := combineContext(sessionCtx, opCtx)
		defer cancel()

		opCancel()
		select {
		case <-combined.Done():
		case <-time.After(time.Second):
			t.Fatal("combined context did not observe operation cancellation")
		}
	})

	t.Run("should cancel when the session context is done", func(t *testing.T) {
		sessionCtx, sessionCancel := context.WithCancel(context.Background())
		combined, cancel := combineContext(sessionCtx, context.Background())
		defer cancel()

		sessionCancel()
		select {
		case <-combined.Done():
		case <-time.After(time.Second):
			t.Fatal("combined context did not observe session cancellation")
		}
	})

	t.Run("should keep session values visible", func(t *testing.T) {
		type key struct{}
		sessionCtx := context.WithValue(context.Background(), key{}, "chromedp-session")
		combined, cancel := combineContext(sessionCtx, context.Background())
		defer cancel()

		assert.Equal(t, "chromedp-session", combined.Value(key{}))
	})
}
