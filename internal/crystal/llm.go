package crystal

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"crucible/internal/xerrors"
)

// Provider is the narrow capability interface consumed by the
// crystallizer, per §6: one operation, may fail, caller supplies the
// fallback.
type Provider interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// llmResponse is the JSON shape §4.2 step 2 asks the LLM to return.
type llmResponse struct {
	Insight      string   `json:"insight"`
	Significance string   `json:"significance"`
	Topics       []string `json:"topics"`
	Principles   []string `json:"principles"`
	Mood         struct {
		Valence   float64 `json:"valence"`
		Arousal   float64 `json:"arousal"`
		Curiosity float64 `json:"curiosity"`
	} `json:"mood"`
	Confidence float64 `json:"confidence"`
}

// assemblePrompt builds the structured prompt of §4.2 step 2: it lists
// every source's text and explicitly asks for honesty about what was
// summarized away.
func assemblePrompt(level Level, sources []Source) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are compressing %d sources into a level-%d crystal.\n", len(sources), level)
	b.WriteString("Respond with a single JSON object with fields: insight, significance, topics, principles, mood {valence, arousal, curiosity}, confidence.\n")
	b.WriteString("Be honest about what nuance is lost in this compression.\n\nSOURCES:\n")
	for _, s := range sources {
		fmt.Fprintf(&b, "- [%s] %s\n", s.ID, s.Text)
	}
	return b.String()
}

// repairPrompt is sent once, per §4.2 step 4, if the first response
// fails schema validation.
func repairPrompt(original, badResponse, reason string) string {
	return fmt.Sprintf("Your previous response failed validation (%s). Original request:\n%s\nYour response was:\n%s\nReturn ONLY the corrected JSON object.",
		reason, original, badResponse)
}

// parseLLMResponse takes the span from the first '{' to the last '}'
// (so a response wrapped in prose or a code fence is still accepted),
// checks it is valid JSON with gjson, then strictly validates via
// encoding/json against the schema. Returns xerrors.ErrInvariantViolation with a
// reason on schema failure so the caller can decide to repair-retry.
func parseLLMResponse(raw string) (*llmResponse, error) {
	jsonStart := strings.IndexByte(raw, '{')
	jsonEnd := strings.LastIndexByte(raw, '}')
	if jsonStart == -1 || jsonEnd == -1 || jsonEnd < jsonStart {
		return nil, fmt.Errorf("no JSON object found in response: %w", xerrors.ErrInvariantViolation)
	}
	candidate := raw[jsonStart : jsonEnd+1]

	if !gjson.Valid(candidate) {
		return nil, fmt.Errorf("response is not valid JSON: %w", xerrors.ErrInvariantViolation)
	}

	var resp llmResponse
	if err := json.Unmarshal([]byte(candidate), &resp); err != nil {
		return nil, fmt.Errorf("response does not match crystal schema: %w", xerrors.ErrInvariantViolation)
	}

	if strings.TrimSpace(resp.Insight) == "" {
		return nil, fmt.Errorf("insight is required: %w", xerrors.ErrInvariantViolation)
	}
	if strings.TrimSpace(resp.Significance) == "" {
		return nil, fmt.Errorf("significance is required: %w", xerrors.ErrInvariantViolation)
	}
	if resp.Confidence < 0 || resp.Confidence > 1 {
		return nil, fmt.Errorf("confidence %f out of [0,1]: %w", resp.Confidence, xerrors.ErrInvariantViolation)
	}

	return &resp, nil
}
