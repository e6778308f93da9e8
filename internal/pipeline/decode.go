package pipeline

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"pinstrategy/internal/domain"
)

const (
	FallbackTitle          = "Optimized Pin"
	FallbackDescription    = "Verified for product identity and discovery."
	FallbackAltText        = "Product photo for accessibility"
	FallbackProductContext = "Product Content"
)

// FallbackKeywords is copied on use; never hand out this slice.
var FallbackKeywords = []string{"product", "pinterest", "trending"}

var errNotArray = errors.New("prompt payload is not a JSON array")

// looseString accepts any JSON scalar and keeps strings as-is. Objects and
// arrays are rejected so a malformed element still fails decoding.
type looseString string

func (s *looseString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*s = ""
		return nil
	}
	switch data[0] {
	case '"':
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*s = looseString(v)
	case '{', '[':
		return fmt.Errorf("expected scalar, got %s", string(data[:1]))
	default:
		*s = looseString(data)
	}
	return nil
}

type draftPayload struct {
	Prompt     looseString `json:"prompt"`
	LayoutType looseString `json:"layoutType"`
}

type metadataPayload struct {
	Title       looseString     `json:"title"`
	Description looseString     `json:"description"`
	AltText     looseString     `json:"altText"`
	AltTextAlt  looseString     `json:"alt_text"`
	Keywords    json.RawMessage `json:"keywords"`
}

// DecodePrompts parses the drafting response. A blank response is an empty
// draft; anything that is not a JSON array of objects is reported as an error
// together with an empty (non-nil) slice so callers can degrade. The result is
// truncated to MaxPromptsPerRun and its aspect ratios rewritten by
// EnforceLayout; the client's own ratios are ignored.
func DecodePrompts(raw string, verticalCount int) ([]domain.PromptSpec, error) {
	fragment := extractJSONFragment(raw)
	if fragment == "" {
		return []domain.PromptSpec{}, nil
	}
	if !strings.HasPrefix(fragment, "[") {
		return []domain.PromptSpec{}, errNotArray
	}
	var payload []draftPayload
	if err := json.Unmarshal([]byte(fragment), &payload); err != nil {
		return []domain.PromptSpec{}, fmt.Errorf("decode prompt draft: %w", err)
	}
	specs := make([]domain.PromptSpec, len(payload))
	for i, p := range payload {
		specs[i] = domain.PromptSpec{
			Prompt:     strings.TrimSpace(string(p.Prompt)),
			LayoutType: strings.TrimSpace(string(p.LayoutType)),
		}
	}
	return EnforceLayout(specs, verticalCount), nil
}

// EnforceLayout keeps the first MaxPromptsPerRun specs and forces the first
// verticalCount of them to 9:16 and the rest to 1:1.
func EnforceLayout(specs []domain.PromptSpec, verticalCount int) []domain.PromptSpec {
	n := min(len(specs), domain.MaxPromptsPerRun)
	out := make([]domain.PromptSpec, n)
	for i := 0; i < n; i++ {
		spec := specs[i]
		if i < verticalCount {
			spec.AspectRatio = domain.AspectVertical
		} else {
			spec.AspectRatio = domain.AspectSquare
		}
		out[i] = spec
	}
	return out
}

// DecodeMetadata parses the metadata response and fills every missing field
// with its fallback. It never fails; a malformed payload yields all fallbacks.
func DecodeMetadata(raw string) (domain.Metadata, error) {
	var payload metadataPayload
	var decodeErr error
	if fragment := extractJSONFragment(raw); fragment != "" {
		if err := json.Unmarshal([]byte(fragment), &payload); err != nil {
			payload = metadataPayload{}
			decodeErr = fmt.Errorf("decode metadata: %w", err)
		}
	}
	var keywords []looseString
	if len(payload.Keywords) > 0 {
		if err := json.Unmarshal(payload.Keywords, &keywords); err != nil {
			keywords = nil
		}
	}
	kw := make([]string, 0, len(keywords))
	for _, k := range keywords {
		kw = append(kw, string(k))
	}
	meta := domain.Metadata{
		Title:       coalesce(string(payload.Title), FallbackTitle),
		Description: coalesce(string(payload.Description), FallbackDescription),
		AltText:     coalesce(string(payload.AltText), string(payload.AltTextAlt), FallbackAltText),
		Keywords:    normalizeKeywords(kw),
	}
	if len(meta.Keywords) == 0 {
		meta.Keywords = append([]string(nil), FallbackKeywords...)
	}
	return meta, decodeErr
}

// metadataContext is the product context passed to metadata generation.
func metadataContext(description string) string {
	return coalesce(description, FallbackProductContext)
}

func normalizeKeywords(keywords []string) []string {
	seen := make(map[string]struct{}, len(keywords))
	var result []string
	for _, kw := range keywords {
		kw = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(kw), "#"))
		if kw == "" {
			continue
		}
		key := strings.ToLower(kw)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		result = append(result, kw)
	}
	return result
}

func coalesce(values ...string) string {
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v != "" {
			return v
		}
	}
	return ""
}

func extractJSONFragment(raw string) string {
	text := trimCodeFence(strings.TrimSpace(raw))
	if text == "" {
		return ""
	}
	// Grounded replies may carry citations like "[1]" ahead of the payload;
	// only an object or an array of objects counts as a candidate.
	for i := 0; i < len(text); i++ {
		if text[i] != '{' && text[i] != '[' {
			continue
		}
		if text[i] == '[' && !opensObjectArray(text[i+1:]) {
			continue
		}
		var value json.RawMessage
		if err := json.NewDecoder(strings.NewReader(text[i:])).Decode(&value); err == nil {
			return string(value)
		}
	}
	start := strings.IndexAny(text, "{[")
	end := strings.LastIndexAny(text, "]}")
	if start >= 0 && end >= start {
		text = text[start : end+1]
	}
	return strings.TrimSpace(text)
}

func opensObjectArray(rest string) bool {
	rest = strings.TrimSpace(rest)
	return strings.HasPrefix(rest, "{") || strings.HasPrefix(rest, "]")
}

func trimCodeFence(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```JSON")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSpace(trimmed)
	if idx := strings.LastIndex(trimmed, "```"); idx >= 0 {
		trimmed = trimmed[:idx]
	}
	return strings.TrimSpace(trimmed)
}
