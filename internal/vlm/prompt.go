// File: internal/vlm/prompt.go

package vlm

import (
	"fmt"
	"sort"
	"strings"

	"github.com/xkilldash9x/pilot-cli/api/schemas"
)

const systemPrompt = `You are a vision-based browser automation agent. Analyze the screenshot and decide the single next action for the current step.

STEP VERIFICATION RULES:
- Never assume a step succeeded just because an action was performed.
- A step is complete only when the visual evidence of the expected next screen is clearly visible.
- If the expected elements are NOT visible (an error message, the same form still present), the previous action did not finish the step; keep working on it.
- Only return done when no further required inputs or confirmations are visible.

Current step: %s

Executed actions for this step: %s
%s
Allowed actions:
  click(x, y)                  - click at viewport coordinates
  type_text(field, value)      - type value into the named field (focus it first by clicking)
  scroll(direction, amount)    - direction is "up" or "down", amount in pixels
  navigate(url)                - load a URL
  wait(ms)                     - pause up to %d ms
  done()                       - the step is visibly complete
  fail(reason)                 - the step cannot be completed

Return ONLY one JSON object, no markdown, no code fences:
{"name": "click", "arguments": {"x": 120, "y": 340}}
or {"name": "done"}`

// buildPrompt renders the system prompt for one attempt. History is limited
// to the most recent window entries; older actions add tokens without adding
// signal.
func buildPrompt(step schemas.Step, history []schemas.ActionProposal, window int) string {
	return fmt.Sprintf(systemPrompt,
		step.Description,
		formatHistory(history, window),
		lockedValuesInstruction(step.LockedValues),
		schemas.MaxWaitMs,
	)
}

func formatHistory(history []schemas.ActionProposal, window int) string {
	if len(history) == 0 {
		return "(none)"
	}
	if window > 0 && len(history) > window {
		history = history[len(history)-window:]
	}
	parts := make([]string, len(history))
	for i, p := range history {
		parts[i] = p.String()
	}
	return strings.Join(parts, "; ")
}

func lockedValuesInstruction(locked map[string]string) string {
	if len(locked) == 0 {
		return ""
	}
	keys := make([]string, 0, len(locked))
	for k := range locked {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, len(keys))
	for i, k := range keys {
		pairs[i] = fmt.Sprintf("%s: %s", k, locked[k])
	}
	return fmt.Sprintf("\nCRITICAL - You MUST use these exact values (DO NOT CHANGE): %s\n", strings.Join(pairs, ", "))
}
