package panel

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ErrUnparseablePayload's text is one of the fatal patterns: a
// payload that survives the whole fallback chain unparsed fails the
// model's verdict.
var errUnparseablePayload = fmt.Errorf("could not parse provider payload")

// argumentPayload is one side of a parsed provider response.
type argumentPayload struct {
	Argument    string
	EvidenceIDs []string
	Confidence  float64
}

// providerPayload is the typed form of a provider's JSON response.
type providerPayload struct {
	ProviderID string
	Approval   argumentPayload
	Refusal    argumentPayload
}

// EnsurePayloadDict turns raw provider output into a JSON object,
// tolerating fences, prose wrappers, and common malformations. The
// fallback chain: direct parse, repaired parse, outermost-brace
// extraction plus repair.
func EnsurePayloadDict(raw string) (map[string]any, error) {
	text := StripCodeFences(raw)

	var payload map[string]any
	if err := json.Unmarshal([]byte(text), &payload); err == nil {
		return payload, nil
	}
	if err := json.Unmarshal([]byte(RepairJSON(text)), &payload); err == nil {
		return payload, nil
	}

	first := strings.Index(text, "{")
	last := strings.LastIndex(text, "}")
	if first >= 0 && last > first {
		block := text[first : last+1]
		if err := json.Unmarshal([]byte(block), &payload); err == nil {
			return payload, nil
		}
		if err := json.Unmarshal([]byte(RepairJSON(block)), &payload); err == nil {
			return payload, nil
		}
	}
	return nil, errUnparseablePayload
}

// ParseProviderPayload parses and types a provider response.
func ParseProviderPayload(raw string) (*providerPayload, error) {
	dict, err := EnsurePayloadDict(raw)
	if err != nil {
		return nil, err
	}

	payload := &providerPayload{
		ProviderID: stringField(dict, "provider_id"),
		Approval:   extractArgument(dict, "approval_argument"),
		Refusal:    extractArgument(dict, "refusal_argument"),
	}
	return payload, nil
}

func extractArgument(dict map[string]any, key string) argumentPayload {
	sub, ok := dict[key].(map[string]any)
	if !ok {
		return argumentPayload{Confidence: 0.5}
	}
	arg := argumentPayload{
		Argument:   stringField(sub, "argument"),
		Confidence: numberField(sub, "confidence", 0.5),
	}
	if ids, ok := sub["evidence_ids"].([]any); ok {
		for _, id := range ids {
			if s, ok := id.(string); ok {
				arg.EvidenceIDs = append(arg.EvidenceIDs, s)
			}
		}
	}
	return arg
}

func stringField(dict map[string]any, key string) string {
	if s, ok := dict[key].(string); ok {
		return strings.TrimSpace(s)
	}
	return ""
}

// numberField reads a numeric field, tolerating string-encoded
// numbers.
func numberField(dict map[string]any, key string, fallback float64) float64 {
	switch v := dict[key].(type) {
	case float64:
		return v
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return f
		}
	case json.Number:
		if f, err := v.Float64(); err == nil {
			return f
		}
	}
	return fallback
}
