package domain

import (
	"fmt"
	"strings"
)

// SEOIntensity controls how aggressively metadata targets search terms.
type SEOIntensity string

const (
	SEOMinimal    SEOIntensity = "minimal"
	SEOBalanced   SEOIntensity = "balanced"
	SEOAggressive SEOIntensity = "aggressive"
)

// VisualStyle selects the art direction for drafted prompts.
type VisualStyle string

const (
	StyleMinimal       VisualStyle = "minimal"
	StyleLifestyle     VisualStyle = "lifestyle"
	StyleLuxury        VisualStyle = "luxury"
	StyleInformational VisualStyle = "informational"
)

// AudienceFocus names who the pins are written for.
type AudienceFocus string

const (
	AudienceBuyers        AudienceFocus = "buyers"
	AudienceBrowsers      AudienceFocus = "browsers"
	AudienceDIYUsers      AudienceFocus = "diy_users"
	AudienceProfessionals AudienceFocus = "professionals"
)

const (
	// MinVerticalCount and MaxVerticalCount bound how many pins are forced to 9:16.
	MinVerticalCount = 0
	MaxVerticalCount = 3
	// DefaultVerticalCount matches the two-tall-one-square layout users start with.
	DefaultVerticalCount = 2
)

var seoLabels = map[SEOIntensity]string{
	SEOMinimal:    "Minimal",
	SEOBalanced:   "Balanced",
	SEOAggressive: "Aggressive SEO",
}

var styleLabels = map[VisualStyle]string{
	StyleMinimal:       "Minimal",
	StyleLifestyle:     "Lifestyle",
	StyleLuxury:        "Luxury",
	StyleInformational: "Informational",
}

var audienceLabels = map[AudienceFocus]string{
	AudienceBuyers:        "Buyers",
	AudienceBrowsers:      "Browsers",
	AudienceDIYUsers:      "DIY Users",
	AudienceProfessionals: "Professionals",
}

// Settings parameterises prompt drafting and metadata generation for one run.
// It is passed by value so a run keeps its own copy.
type Settings struct {
	EnableWebResearch bool          `json:"enable_web_research"`
	VerticalCount     int           `json:"vertical_count"`
	SEOIntensity      SEOIntensity  `json:"seo_intensity"`
	VisualStyle       VisualStyle   `json:"visual_style"`
	AudienceFocus     AudienceFocus `json:"audience_focus"`
}

// DefaultSettings returns the settings a fresh session starts with.
func DefaultSettings() Settings {
	return Settings{
		EnableWebResearch: true,
		VerticalCount:     DefaultVerticalCount,
		SEOIntensity:      SEOBalanced,
		VisualStyle:       StyleLifestyle,
		AudienceFocus:     AudienceBuyers,
	}
}

// NewSettings parses free-form enum values (identifiers or display labels) and
// returns normalized, validated settings.
func NewSettings(webResearch bool, verticalCount int, seo, style, audience string) (Settings, error) {
	s := Settings{EnableWebResearch: webResearch, VerticalCount: verticalCount}
	var err error
	if s.SEOIntensity, err = ParseSEOIntensity(seo); err != nil {
		return Settings{}, err
	}
	if s.VisualStyle, err = ParseVisualStyle(style); err != nil {
		return Settings{}, err
	}
	if s.AudienceFocus, err = ParseAudienceFocus(audience); err != nil {
		return Settings{}, err
	}
	s = s.Normalize()
	return s, s.Validate()
}

// Normalize clamps VerticalCount and fills empty enums with defaults. Unknown
// enum values are left untouched so Validate can report them.
func (s Settings) Normalize() Settings {
	def := DefaultSettings()
	if s.VerticalCount < MinVerticalCount {
		s.VerticalCount = MinVerticalCount
	}
	if s.VerticalCount > MaxVerticalCount {
		s.VerticalCount = MaxVerticalCount
	}
	if s.SEOIntensity == "" {
		s.SEOIntensity = def.SEOIntensity
	}
	if s.VisualStyle == "" {
		s.VisualStyle = def.VisualStyle
	}
	if s.AudienceFocus == "" {
		s.AudienceFocus = def.AudienceFocus
	}
	return s
}

// Validate reports values outside the closed enum sets or the vertical range.
func (s Settings) Validate() error {
	if s.VerticalCount < MinVerticalCount || s.VerticalCount > MaxVerticalCount {
		return fmt.Errorf("%w: vertical_count must be between %d and %d", ErrValidation, MinVerticalCount, MaxVerticalCount)
	}
	if _, ok := seoLabels[s.SEOIntensity]; !ok {
		return fmt.Errorf("%w: unknown seo_intensity %q", ErrValidation, s.SEOIntensity)
	}
	if _, ok := styleLabels[s.VisualStyle]; !ok {
		return fmt.Errorf("%w: unknown visual_style %q", ErrValidation, s.VisualStyle)
	}
	if _, ok := audienceLabels[s.AudienceFocus]; !ok {
		return fmt.Errorf("%w: unknown audience_focus %q", ErrValidation, s.AudienceFocus)
	}
	return nil
}

// Label returns the display name used in prompts.
func (v SEOIntensity) Label() string { return labelOr(seoLabels, v) }

// Label returns the display name used in prompts.
func (v VisualStyle) Label() string { return labelOr(styleLabels, v) }

// Label returns the display name used in prompts.
func (v AudienceFocus) Label() string { return labelOr(audienceLabels, v) }

// AllowsTextOverlay reports whether drafted images may carry text labels.
func (v VisualStyle) AllowsTextOverlay() bool { return v == StyleInformational }

func ParseSEOIntensity(raw string) (SEOIntensity, error) {
	return parseEnum(raw, seoLabels, "seo_intensity")
}

func ParseVisualStyle(raw string) (VisualStyle, error) {
	return parseEnum(raw, styleLabels, "visual_style")
}

func ParseAudienceFocus(raw string) (AudienceFocus, error) {
	return parseEnum(raw, audienceLabels, "audience_focus")
}

func parseEnum[T ~string](raw string, labels map[T]string, field string) (T, error) {
	var zero T
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return zero, nil
	}
	key := enumKey(raw)
	for value, label := range labels {
		if key == enumKey(string(value)) || key == enumKey(label) {
			return value, nil
		}
	}
	return zero, fmt.Errorf("%w: unknown %s %q", ErrValidation, field, raw)
}

func enumKey(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	replacer := strings.NewReplacer(" ", "", "_", "", "-", "")
	return replacer.Replace(s)
}

func labelOr[T ~string](labels map[T]string, v T) string {
	if label, ok := labels[v]; ok {
		return label
	}
	return string(v)
}
