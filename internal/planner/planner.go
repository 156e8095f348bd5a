// File: internal/planner/planner.go
// Description: Turns a natural-language intent into an ordered execution
// plan by asking a text model for strict JSON. The plan is immutable once
// returned; locked values enter here and are never altered downstream.

package planner

import (
	"context"
	"fmt"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/pilot-cli/api/schemas"
	"github.com/xkilldash9x/pilot-cli/internal/llmclient"
)

var strictJSON = jsoniter.Config{DisallowUnknownFields: true}.Froze()

const planPrompt = `Convert the following user intent into a structured execution plan for browser automation.

Intent: %s

Output a JSON object with this structure:
{
  "steps": [
    {
      "description": "Step description",
      "locked_values": {"field": "value"},
      "irreversible": false
    }
  ]
}

Rules:
- The plan is ordered and deterministic.
- Lock sensitive values (amounts, recipients, account numbers, URLs) in locked_values; downstream guardrails enforce them byte-for-byte.
- Mark steps that submit a transaction or otherwise cannot be undone with "irreversible": true.
- Return ONLY valid JSON. No markdown. No explanation. No code fences.`

// Completer is the slice of the LLM client the planner needs.
type Completer interface {
	Complete(ctx context.Context, messages []llmclient.Message, opts llmclient.Options) (string, error)
}

// Planner produces plans via a chat-completions model.
type Planner struct {
	client      Completer
	temperature float64
	logger      *zap.Logger
}

// New creates a planner.
func New(client Completer, temperature float64, logger *zap.Logger) *Planner {
	return &Planner{
		client:      client,
		temperature: temperature,
		logger:      logger.Named("planner"),
	}
}

// ProducePlan asks the model for a plan and parses it strictly. Any decode
// failure, empty plan, or step without a description is a planning failure;
// the controller treats those as fatal before any step runs.
func (p *Planner) ProducePlan(ctx context.Context, intent string) (*schemas.Plan, error) {
	messages := []llmclient.Message{
		{Role: "user", Content: fmt.Sprintf(planPrompt, intent)},
	}
	content, err := p.client.Complete(ctx, messages, llmclient.Options{
		Temperature: p.temperature,
		ForceJSON:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("plan generation failed: %w", err)
	}

	var parsed struct {
		Steps []schemas.Step `json:"steps"`
	}
	if err := strictJSON.Unmarshal([]byte(stripFences(content)), &parsed); err != nil {
		return nil, fmt.Errorf("model produced an invalid plan: %w", err)
	}
	if len(parsed.Steps) == 0 {
		return nil, fmt.Errorf("model produced a plan with no steps")
	}
	for i, step := range parsed.Steps {
		if strings.TrimSpace(step.Description) == "" {
			return nil, fmt.Errorf("plan step %d has no description", i)
		}
	}

	p.logger.Info("Plan generated", zap.String("intent", intent), zap.Int("steps", len(parsed.Steps)))
	return &schemas.Plan{Intent: intent, Steps: parsed.Steps}, nil
}

// stripFences removes a markdown code fence if the model ignored the
// no-fences instruction.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
