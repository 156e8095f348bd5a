// File: api/schemas/actions.go
// Description: The closed set of browser actions a vision model may propose.
// Parsing is strict: a raw model response yields exactly one valid proposal or
// a SchemaViolation. Nothing outside this set is representable.

package schemas

import (
	"fmt"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

// strictJSON rejects unknown fields so the model cannot smuggle parameters
// past validation.
var strictJSON = jsoniter.Config{DisallowUnknownFields: true}.Froze()

// ActionKind identifies one variant of the action union.
type ActionKind string

const (
	ActionClick    ActionKind = "click"
	ActionTypeText ActionKind = "type_text"
	ActionScroll   ActionKind = "scroll"
	ActionNavigate ActionKind = "navigate"
	ActionWait     ActionKind = "wait"
	ActionDone     ActionKind = "done"
	ActionFail     ActionKind = "fail"
)

// ScrollDirection enumerates the permitted scroll directions.
type ScrollDirection string

const (
	ScrollUp   ScrollDirection = "up"
	ScrollDown ScrollDirection = "down"
)

// Parameter bounds for proposal fields. Anything outside these is a
// SchemaViolation, not a truncation.
const (
	MaxTextLen     = 4096
	MaxReasonLen   = 1024
	MaxURLLen      = 2048
	MaxWaitMs      = 30000
	MaxScrollDelta = 10000
)

// ClickParams targets a viewport coordinate.
type ClickParams struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// TypeTextParams types a value into the named field. Field is the label the
// model saw on screen and is what locked-value enforcement keys on.
type TypeTextParams struct {
	Field string `json:"field"`
	Value string `json:"value"`
}

// ScrollParams scrolls the viewport by Amount CSS pixels.
type ScrollParams struct {
	Direction ScrollDirection `json:"direction"`
	Amount    int             `json:"amount"`
}

// NavigateParams loads a new URL.
type NavigateParams struct {
	URL string `json:"url"`
}

// WaitParams pauses for Ms milliseconds.
type WaitParams struct {
	Ms int `json:"ms"`
}

// FailParams carries the model's stated reason for giving up on the step.
type FailParams struct {
	Reason string `json:"reason"`
}

// ActionProposal is the tagged union over the closed action set. Exactly one
// parameter struct is non-nil, matching Kind; done carries none.
type ActionProposal struct {
	Kind     ActionKind      `json:"kind"`
	Click    *ClickParams    `json:"click,omitempty"`
	TypeText *TypeTextParams `json:"type_text,omitempty"`
	Scroll   *ScrollParams   `json:"scroll,omitempty"`
	Navigate *NavigateParams `json:"navigate,omitempty"`
	Wait     *WaitParams     `json:"wait,omitempty"`
	Fail     *FailParams     `json:"fail,omitempty"`
}

// IsTerminal reports whether the proposal ends the step rather than driving
// the browser.
func (p ActionProposal) IsTerminal() bool {
	return p.Kind == ActionDone || p.Kind == ActionFail
}

// String renders the proposal in the compact form used for action history and
// trace lines. A variant missing its parameter struct renders as the bare
// kind; shape-invalid proposals still get logged on their way to rejection.
func (p ActionProposal) String() string {
	switch {
	case p.Kind == ActionClick && p.Click != nil:
		return fmt.Sprintf("click(%d, %d)", p.Click.X, p.Click.Y)
	case p.Kind == ActionTypeText && p.TypeText != nil:
		return fmt.Sprintf("type_text(%s, %q)", p.TypeText.Field, p.TypeText.Value)
	case p.Kind == ActionScroll && p.Scroll != nil:
		return fmt.Sprintf("scroll(%s, %d)", p.Scroll.Direction, p.Scroll.Amount)
	case p.Kind == ActionNavigate && p.Navigate != nil:
		return fmt.Sprintf("navigate(%s)", p.Navigate.URL)
	case p.Kind == ActionWait && p.Wait != nil:
		return fmt.Sprintf("wait(%dms)", p.Wait.Ms)
	case p.Kind == ActionDone:
		return "done()"
	case p.Kind == ActionFail && p.Fail != nil:
		return fmt.Sprintf("fail(%q)", p.Fail.Reason)
	}
	return string(p.Kind)
}

// rawProposal is the wire envelope the model is instructed to emit.
type rawProposal struct {
	Name      string              `json:"name"`
	Arguments jsoniter.RawMessage `json:"arguments,omitempty"`
}

// ParseProposal decodes an untrusted model response into exactly one valid
// ActionProposal. Arrays (multi-action responses), unknown action names,
// unknown or missing arguments, and out-of-range values all fail with a
// SchemaViolation naming the offending field.
func ParseProposal(data []byte) (ActionProposal, error) {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return ActionProposal{}, &SchemaViolationError{Field: "response", Reason: "empty response"}
	}
	if strings.HasPrefix(trimmed, "[") {
		// The schema permits exactly one action per response. A single-element
		// array is still unwrapped rather than rejected, since some models
		// insist on array framing.
		var envelopes []jsoniter.RawMessage
		if err := strictJSON.Unmarshal([]byte(trimmed), &envelopes); err != nil {
			return ActionProposal{}, &SchemaViolationError{Field: "response", Reason: "malformed JSON array: " + err.Error()}
		}
		if len(envelopes) != 1 {
			return ActionProposal{}, &SchemaViolationError{
				Field:  "response",
				Reason: fmt.Sprintf("expected exactly one action, got %d", len(envelopes)),
			}
		}
		trimmed = string(envelopes[0])
	}

	var raw rawProposal
	if err := strictJSON.Unmarshal([]byte(trimmed), &raw); err != nil {
		return ActionProposal{}, &SchemaViolationError{Field: "response", Reason: "malformed JSON object: " + err.Error()}
	}
	return buildProposal(raw)
}

func buildProposal(raw rawProposal) (ActionProposal, error) {
	args := raw.Arguments
	if len(args) == 0 {
		args = jsoniter.RawMessage("{}")
	}

	switch ActionKind(raw.Name) {
	case ActionClick:
		var p ClickParams
		if err := strictJSON.Unmarshal(args, &p); err != nil {
			return ActionProposal{}, &SchemaViolationError{Field: "click.arguments", Reason: err.Error()}
		}
		return ActionProposal{Kind: ActionClick, Click: &p}, nil

	case ActionTypeText:
		var p TypeTextParams
		if err := strictJSON.Unmarshal(args, &p); err != nil {
			return ActionProposal{}, &SchemaViolationError{Field: "type_text.arguments", Reason: err.Error()}
		}
		if p.Field == "" {
			return ActionProposal{}, &SchemaViolationError{Field: "type_text.field", Reason: "must not be empty"}
		}
		if len(p.Value) > MaxTextLen {
			return ActionProposal{}, &SchemaViolationError{
				Field:  "type_text.value",
				Reason: fmt.Sprintf("exceeds %d bytes", MaxTextLen),
			}
		}
		return ActionProposal{Kind: ActionTypeText, TypeText: &p}, nil

	case ActionScroll:
		var p ScrollParams
		if err := strictJSON.Unmarshal(args, &p); err != nil {
			return ActionProposal{}, &SchemaViolationError{Field: "scroll.arguments", Reason: err.Error()}
		}
		if p.Direction != ScrollUp && p.Direction != ScrollDown {
			return ActionProposal{}, &SchemaViolationError{
				Field:  "scroll.direction",
				Reason: fmt.Sprintf("must be %q or %q", ScrollUp, ScrollDown),
			}
		}
		if p.Amount < 1 || p.Amount > MaxScrollDelta {
			return ActionProposal{}, &SchemaViolationError{
				Field:  "scroll.amount",
				Reason: fmt.Sprintf("must be in [1, %d]", MaxScrollDelta),
			}
		}
		return ActionProposal{Kind: ActionScroll, Scroll: &p}, nil

	case ActionNavigate:
		var p NavigateParams
		if err := strictJSON.Unmarshal(args, &p); err != nil {
			return ActionProposal{}, &SchemaViolationError{Field: "navigate.arguments", Reason: err.Error()}
		}
		if p.URL == "" || len(p.URL) > MaxURLLen {
			return ActionProposal{}, &SchemaViolationError{
				Field:  "navigate.url",
				Reason: fmt.Sprintf("must be non-empty and at most %d bytes", MaxURLLen),
			}
		}
		return ActionProposal{Kind: ActionNavigate, Navigate: &p}, nil

	case ActionWait:
		var p WaitParams
		if err := strictJSON.Unmarshal(args, &p); err != nil {
			return ActionProposal{}, &SchemaViolationError{Field: "wait.arguments", Reason: err.Error()}
		}
		if p.Ms < 1 || p.Ms > MaxWaitMs {
			return ActionProposal{}, &SchemaViolationError{
				Field:  "wait.ms",
				Reason: fmt.Sprintf("must be in [1, %d]", MaxWaitMs),
			}
		}
		return ActionProposal{Kind: ActionWait, Wait: &p}, nil

	case ActionDone:
		if string(args) != "{}" {
			return ActionProposal{}, &SchemaViolationError{Field: "done.arguments", Reason: "takes no arguments"}
		}
		return ActionProposal{Kind: ActionDone}, nil

	case ActionFail:
		var p FailParams
		if err := strictJSON.Unmarshal(args, &p); err != nil {
			return ActionProposal{}, &SchemaViolationError{Field: "fail.arguments", Reason: err.Error()}
		}
		if len(p.Reason) > MaxReasonLen {
			p.Reason = p.Reason[:MaxReasonLen]
		}
		return ActionProposal{Kind: ActionFail, Fail: &p}, nil

	default:
		return ActionProposal{}, &SchemaViolationError{
			Field:  "name",
			Reason: fmt.Sprintf("unknown action %q", raw.Name),
		}
	}
}
