// File: internal/guardrails/guardrails.go
// Description: Pure validation of a proposed action against the action
// schema, the current viewport, and the step's locked values. No function
// here has side effects, so every verdict is reproducible from its inputs.

package guardrails

import (
	"fmt"
	"strings"

	"github.com/xkilldash9x/pilot-cli/api/schemas"
)

// Check validates one proposal against the current screen and the step's
// locked values. A nil return means accepted; a non-nil return is the
// rejection reason, one of the taxonomy types in api/schemas. Checks run in
// order and short-circuit on the first failure:
//
//  1. the variant is schema-valid,
//  2. any coordinates lie inside [0,width) x [0,height),
//  3. any locked field keeps its exact plan-time value,
//  4. done and fail are always accepted as terminal signals.
func Check(p schemas.ActionProposal, screen schemas.ScreenState, locked map[string]string) error {
	if err := checkShape(p); err != nil {
		return err
	}
	if p.IsTerminal() {
		return nil
	}

	if p.Kind == schemas.ActionClick {
		x, y := p.Click.X, p.Click.Y
		if x < 0 || y < 0 || x >= screen.Width || y >= screen.Height {
			return &schemas.OutOfBoundsError{X: x, Y: y, Width: screen.Width, Height: screen.Height}
		}
	}

	if p.Kind == schemas.ActionNavigate {
		u := p.Navigate.URL
		if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
			return &schemas.SchemaViolationError{Field: "navigate.url", Reason: "scheme must be http or https"}
		}
	}

	return checkLockedValues(p, locked)
}

// checkShape verifies the tagged union is internally consistent: the kind is
// part of the closed set and carries exactly the parameter struct it
// declares. Proposals built by ParseProposal always pass; this guards
// hand-constructed ones reaching the validator through other paths.
func checkShape(p schemas.ActionProposal) error {
	params := map[schemas.ActionKind]bool{
		schemas.ActionClick:    p.Click != nil,
		schemas.ActionTypeText: p.TypeText != nil,
		schemas.ActionScroll:   p.Scroll != nil,
		schemas.ActionNavigate: p.Navigate != nil,
		schemas.ActionWait:     p.Wait != nil,
		schemas.ActionFail:     p.Fail != nil,
	}

	want, known := params[p.Kind]
	if !known && p.Kind != schemas.ActionDone {
		return &schemas.SchemaViolationError{Field: "kind", Reason: fmt.Sprintf("unknown action %q", p.Kind)}
	}
	if p.Kind != schemas.ActionDone && !want {
		return &schemas.SchemaViolationError{Field: string(p.Kind), Reason: "missing parameters for variant"}
	}
	for kind, set := range params {
		if set && kind != p.Kind {
			return &schemas.SchemaViolationError{
				Field:  string(kind),
				Reason: fmt.Sprintf("parameters present for %q on a %q proposal", kind, p.Kind),
			}
		}
	}
	return nil
}

// checkLockedValues rejects any attempt to set a locked field to a value
// other than its plan-time one. This is the defense against the model
// altering a transaction amount or recipient. Setting the field to the exact
// locked value is accepted.
func checkLockedValues(p schemas.ActionProposal, locked map[string]string) error {
	if len(locked) == 0 {
		return nil
	}

	switch p.Kind {
	case schemas.ActionTypeText:
		for field, value := range locked {
			if strings.EqualFold(field, p.TypeText.Field) && p.TypeText.Value != value {
				return &schemas.LockViolationError{Field: field, Locked: value, Proposed: p.TypeText.Value}
			}
		}
	case schemas.ActionNavigate:
		if value, ok := locked["url"]; ok && p.Navigate.URL != value {
			return &schemas.LockViolationError{Field: "url", Locked: value, Proposed: p.Navigate.URL}
		}
	}
	return nil
}
