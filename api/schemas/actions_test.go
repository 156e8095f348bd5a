// File: api/schemas/actions_test.go
package schemas

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	fuzz "github.com/AdaLogics/go-fuzz-headers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseProposal(t *testing.T) {
	t.Run("should parse a click proposal", func(t *testing.T) {
		p, err := ParseProposal([]byte(`{"name": "click", "arguments": {"x": 120, "y": 340}}`))
		require.NoError(t, err)
		assert.Equal(t, ActionClick, p.Kind)
		require.NotNil(t, p.Click)
		assert.Equal(t, 120, p.Click.X)
		assert.Equal(t, 340, p.Click.Y)
	})

	t.Run("should parse a type_text proposal", func(t *testing.T) {
		p, err := ParseProposal([]byte(`{"name": "type_text", "arguments": {"field": "amount", "value": "500"}}`))
		require.NoError(t, err)
		assert.Equal(t, ActionTypeText, p.Kind)
		require.NotNil(t, p.TypeText)
		assert.Equal(t, "amount", p.TypeText.Field)
		assert.Equal(t, "500", p.TypeText.Value)
	})

	t.Run("should parse done with no arguments", func(t *testing.T) {
		p, err := ParseProposal([]byte(`{"name": "done"}`))
		require.NoError(t, err)
		assert.Equal(t, ActionDone, p.Kind)
		assert.True(t, p.IsTerminal())
	})

	t.Run("should unwrap a single-element array", func(t *testing.T) {
		p, err := ParseProposal([]byte(`[{"name": "done"}]`))
		require.NoError(t, err)
		assert.Equal(t, ActionDone, p.Kind)
	})

	t.Run("should reject a multi-action array", func(t *testing.T) {
		_, err := ParseProposal([]byte(`[{"name": "done"}, {"name": "click", "arguments": {"x": 1, "y": 2}}]`))
		var sv *SchemaViolationError
		require.ErrorAs(t, err, &sv)
		assert.Equal(t, "response", sv.Field)
		assert.Contains(t, sv.Reason, "exactly one action")
	})

	t.Run("should reject an unknown action name", func(t *testing.T) {
		_, err := ParseProposal([]byte(`{"name": "rm_rf", "arguments": {}}`))
		var sv *SchemaViolationError
		require.ErrorAs(t, err, &sv)
		assert.Equal(t, "name", sv.Field)
	})

	t.Run("should reject unknown argument fields", func(t *testing.T) {
		_, err := ParseProposal([]byte(`{"name": "click", "arguments": {"x": 1, "y": 2, "button": "right"}}`))
		var sv *SchemaViolationError
		require.ErrorAs(t, err, &sv)
		assert.Equal(t, "click.arguments", sv.Field)
	})

	t.Run("should reject done with arguments", func(t *testing.T) {
		_, err := ParseProposal([]byte(`{"name": "done", "arguments": {"force": true}}`))
		var sv *SchemaViolationError
		require.ErrorAs(t, err, &sv)
	})

	t.Run("should reject empty and malformed responses", func(t *testing.T) {
		for _, raw := range []string{"", "   ", "not json", "{", "[]", "null"} {
			_, err := ParseProposal([]byte(raw))
			var sv *SchemaViolationError
			assert.True(t, errors.As(err, &sv), "input %q should be a schema violation, got %v", raw, err)
		}
	})

	t.Run("should reject an over-length text value", func(t *testing.T) {
		long := strings.Repeat("a", MaxTextLen+1)
		_, err := ParseProposal([]byte(fmt.Sprintf(`{"name": "type_text", "arguments": {"field": "notes", "value": %q}}`, long)))
		var sv *SchemaViolationError
		require.ErrorAs(t, err, &sv)
		assert.Equal(t, "type_text.value", sv.Field)
	})

	t.Run("should reject type_text without a field", func(t *testing.T) {
		_, err := ParseProposal([]byte(`{"name": "type_text", "arguments": {"field": "", "value": "x"}}`))
		var sv *SchemaViolationError
		require.ErrorAs(t, err, &sv)
		assert.Equal(t, "type_text.field", sv.Field)
	})

	t.Run("should reject invalid scroll parameters", func(t *testing.T) {
		cases := map[string]string{
			"bad direction": `{"name": "scroll", "arguments": {"direction": "left", "amount": 100}}`,
			"zero amount":   `{"name": "scroll", "arguments": {"direction": "down", "amount": 0}}`,
			"huge amount":   `{"name": "scroll", "arguments": {"direction": "down", "amount": 99999}}`,
		}
		for name, raw := range cases {
			_, err := ParseProposal([]byte(raw))
			var sv *SchemaViolationError
			assert.True(t, errors.As(err, &sv), "%s should fail schema validation", name)
		}
	})

	t.Run("should reject wait outside its bounds", func(t *testing.T) {
		_, err := ParseProposal([]byte(fmt.Sprintf(`{"name": "wait", "arguments": {"ms": %d}}`, MaxWaitMs+1)))
		var sv *SchemaViolationError
		require.ErrorAs(t, err, &sv)
		assert.Equal(t, "wait.ms", sv.Field)
	})

	t.Run("should parse fail with its reason", func(t *testing.T) {
		p, err := ParseProposal([]byte(`{"name": "fail", "arguments": {"reason": "captcha on screen"}}`))
		require.NoError(t, err)
		assert.Equal(t, ActionFail, p.Kind)
		assert.Equal(t, "captcha on screen", p.Fail.Reason)
		assert.True(t, p.IsTerminal())
	})

	t.Run("should truncate an over-length fail reason instead of rejecting", func(t *testing.T) {
		// fail is a terminal signal; a verbose reason must not bounce the model
		// back into the retry loop.
		long := strings.Repeat("r", MaxReasonLen+100)
		p, err := ParseProposal([]byte(fmt.Sprintf(`{"name": "fail", "arguments": {"reason": %q}}`, long)))
		require.NoError(t, err)
		assert.Equal(t, ActionFail, p.Kind)
		assert.Len(t, p.Fail.Reason, MaxReasonLen)
	})

	t.Run("should reject a navigate proposal with an empty url", func(t *testing.T) {
		_, err := ParseProposal([]byte(`{"name": "navigate", "arguments": {"url": ""}}`))
		var sv *SchemaViolationError
		require.ErrorAs(t, err, &sv)
		assert.Equal(t, "navigate.url", sv.Field)
	})
}

func TestActionProposalString(t *testing.T) {
	t.Run("should render every parsed variant", func(t *testing.T) {
		cases := []struct {
			raw  string
			want string
		}{
			{`{"name": "click", "arguments": {"x": 120, "y": 340}}`, "click(120, 340)"},
			{`{"name": "type_text", "arguments": {"field": "q", "value": "dogs"}}`, `type_text(q, "dogs")`},
			{`{"name": "scroll", "arguments": {"direction": "down", "amount": 400}}`, "scroll(down, 400)"},
			{`{"name": "navigate", "arguments": {"url": "https://example.com"}}`, "navigate(https://example.com)"},
			{`{"name": "wait", "arguments": {"ms": 250}}`, "wait(250ms)"},
			{`{"name": "done"}`, "done()"},
			{`{"name": "fail", "arguments": {"reason": "stuck"}}`, `fail("stuck")`},
		}
		for _, tc := range cases {
			p, err := ParseProposal([]byte(tc.raw))
			require.NoError(t, err)
			assert.Equal(t, tc.want, p.String())
		}
	})

	t.Run("should not panic on a variant missing its parameters", func(t *testing.T) {
		// Hand-constructed proposals can arrive shape-invalid; rendering them
		// for a rejection log must stay safe.
		for _, kind := range []ActionKind{ActionClick, ActionTypeText, ActionScroll, ActionNavigate, ActionWait, ActionFail} {
			p := ActionProposal{Kind: kind}
			assert.Equal(t, string(kind), p.String())
		}
	})
}

// FuzzParseProposal asserts the parser never panics on arbitrary bytes and
// only ever returns a valid variant or a SchemaViolation.
func FuzzParseProposal(f *testing.F) {
	f.Add([]byte(`{"name": "click", "arguments": {"x": 1, "y": 2}}`))
	f.Add([]byte(`[{"name": "done"}]`))
	f.Add([]byte(`{"name": "`))
	f.Fuzz(func(t *testing.T, data []byte) {
		p, err := ParseProposal(data)
		if err != nil {
			var sv *SchemaViolationError
			if !errors.As(err, &sv) {
				t.Fatalf("non-schema error from parser: %v", err)
			}
			return
		}
		if p.Kind == "" {
			t.Fatal("parser accepted a proposal with no kind")
		}
	})
}

// FuzzParseProposal_Structured drives the parser with structured envelopes so
// the per-variant argument decoding gets deeper coverage.
func FuzzParseProposal_Structured(f *testing.F) {
	f.Fuzz(func(t *testing.T, data []byte) {
		fuzzConsumer := fuzz.NewConsumer(data)

		name, err := fuzzConsumer.GetString()
		if err != nil {
			return
		}
		args, err := fuzzConsumer.GetBytes()
		if err != nil {
			return
		}

		raw := fmt.Sprintf(`{"name": %q, "arguments": %s}`, name, string(args))
		// Must not panic; errors are expected for most generated inputs.
		_, _ = ParseProposal([]byte(raw))
	})
}
