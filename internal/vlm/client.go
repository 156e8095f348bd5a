// File: internal/vlm/client.go
// Description: Vision-model client. Sends the fresh screenshot inline as a
// base64 data URL together with the step prompt and parses the response
// through the closed action schema -- the model's output is untrusted input.

package vlm

import (
	"context"
	"encoding/base64"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/pilot-cli/api/schemas"
	"github.com/xkilldash9x/pilot-cli/internal/llmclient"
)

// Completer is the slice of the LLM client the vision caller needs.
type Completer interface {
	Complete(ctx context.Context, messages []llmclient.Message, opts llmclient.Options) (string, error)
}

// Client proposes exactly one action per call.
type Client struct {
	client        Completer
	limiter       *rate.Limiter
	historyWindow int
	logger        *zap.Logger
}

// New creates a vision client. requestsPerMinute of zero disables rate
// limiting; historyWindow of zero serializes the full step history.
func New(client Completer, requestsPerMinute, historyWindow int, logger *zap.Logger) *Client {
	limiter := rate.NewLimiter(rate.Inf, 1)
	if requestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(requestsPerMinute)/60.0), 1)
	}
	return &Client{
		client:        client,
		limiter:       limiter,
		historyWindow: historyWindow,
		logger:        logger.Named("vlm"),
	}
}

// ProposeAction requests one action for the current attempt. A response that
// does not decode into exactly one schema variant comes back as a
// SchemaViolation; the executor treats that as a validation failure.
func (c *Client) ProposeAction(ctx context.Context, screen schemas.ScreenState, step schemas.Step, history []schemas.ActionProposal) (schemas.ActionProposal, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return schemas.ActionProposal{}, fmt.Errorf("rate limiter wait: %w", err)
	}
	if len(screen.Image) == 0 {
		return schemas.ActionProposal{}, fmt.Errorf("screen state carries no image data")
	}

	dataURL := "data:image/png;base64," + base64.StdEncoding.EncodeToString(screen.Image)
	messages := []llmclient.Message{
		{
			Role: "user",
			Content: []llmclient.ContentPart{
				{Type: "text", Text: buildPrompt(step, history, c.historyWindow)},
				{Type: "image_url", ImageURL: &llmclient.ImageURL{URL: dataURL}},
			},
		},
	}

	content, err := c.client.Complete(ctx, messages, llmclient.Options{ForceJSON: true})
	if err != nil {
		return schemas.ActionProposal{}, fmt.Errorf("vision call failed: %w", err)
	}

	proposal, err := schemas.ParseProposal([]byte(content))
	if err != nil {
		c.logger.Warn("Vision model produced an unparseable proposal", zap.Error(err))
		return schemas.ActionProposal{}, err
	}

	c.logger.Debug("Proposal received",
		zap.String("proposal", proposal.String()),
		zap.Int("history", len(history)),
		zap.String("screen_ref", screen.Ref),
	)
	return proposal, nil
}
