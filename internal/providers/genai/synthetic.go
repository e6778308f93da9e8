package genai

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"pinstrategy/internal/domain"
)

var syntheticLayouts = []struct {
	layout string
	scene  string
}{
	{"hero", "centered on a clean seamless backdrop with soft studio light"},
	{"lifestyle", "in everyday use on a sunlit wooden table"},
	{"detail", "in a close-up that shows materials and finish"},
}

func syntheticLock(images []domain.Image, description string) string {
	subject := strings.TrimSpace(description)
	if subject == "" {
		subject = "the pictured product"
	}
	seed := deterministicSeed(subject, len(images))
	return fmt.Sprintf("%s; shape, colour, materials and all attached parts as photographed (ref %s).", subject, seed[:8])
}

func syntheticDraft(description string, settings domain.Settings) string {
	subject := strings.TrimSpace(description)
	if subject == "" {
		subject = "the product"
	}
	type draft struct {
		Prompt      string `json:"prompt"`
		AspectRatio string `json:"aspectRatio"`
		LayoutType  string `json:"layoutType"`
	}
	drafts := make([]draft, 0, len(syntheticLayouts))
	for i, l := range syntheticLayouts {
		ratio := domain.AspectSquare
		if i < settings.VerticalCount {
			ratio = domain.AspectVertical
		}
		drafts = append(drafts, draft{
			Prompt:      fmt.Sprintf("%s %s, %s style, for %s", subject, l.scene, strings.ToLower(settings.VisualStyle.Label()), strings.ToLower(settings.AudienceFocus.Label())),
			AspectRatio: string(ratio),
			LayoutType:  l.layout,
		})
	}
	data, err := json.Marshal(drafts)
	if err != nil {
		return "[]"
	}
	return string(data)
}

func syntheticMetadata(prompt, productContext string, settings domain.Settings) string {
	subject := strings.TrimSpace(productContext)
	title := cases.Title(language.English).String(subject)
	if r := []rune(title); len(r) > 80 {
		title = strings.TrimSpace(string(r[:80]))
	}
	keywords := []string{strings.ToLower(subject)}
	for _, word := range strings.Fields(strings.ToLower(prompt)) {
		word = strings.Trim(word, ",.;:")
		if len(word) < 5 || len(keywords) >= 8 {
			continue
		}
		keywords = append(keywords, word)
	}
	keywords = append(keywords, strings.ToLower(settings.VisualStyle.Label())+" decor")
	payload := map[string]any{
		"title":       title,
		"description": fmt.Sprintf("%s. %s", subject, strings.TrimSpace(prompt)),
		"altText":     fmt.Sprintf("Photo of %s", strings.ToLower(subject)),
		"keywords":    keywords,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "{}"
	}
	return string(data)
}

func renderSyntheticImage(width, height int, seed string) []byte {
	if width <= 0 {
		width = 1024
	}
	if height <= 0 {
		height = 1024
	}
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), &image.Uniform{colorFromSeed(seed, 0)}, image.Point{}, draw.Src)

	accent := colorFromSeed(seed, 1)
	stripe := max(32, height/12)
	for y := 0; y < height; y += stripe * 2 {
		draw.Draw(img, image.Rect(0, y, width, min(height, y+stripe)), &image.Uniform{accent}, image.Point{}, draw.Over)
	}

	diagonal := colorFromSeed(seed, 2)
	for x := 0; x < max(width, height); x += max(16, width/32) {
		for y := 0; y < height && x+y < width; y++ {
			img.Set(x+y, y, diagonal)
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil
	}
	return buf.Bytes()
}

func colorFromSeed(seed string, shift int) color.RGBA {
	if len(seed) < 6 {
		seed = "000000"
	}
	doubled := seed + seed
	start := (shift * 6) % len(seed)
	segment := doubled[start : start+6]
	return color.RGBA{R: hexByte(segment[0:2]), G: hexByte(segment[2:4]), B: hexByte(segment[4:6]), A: 255}
}

func hexByte(s string) uint8 {
	v, err := strconv.ParseUint(s, 16, 8)
	if err != nil {
		return 0
	}
	return uint8(v)
}

func deterministicSeed(parts ...any) string {
	hasher := sha256.New()
	for _, part := range parts {
		fmt.Fprintf(hasher, "%v|", part)
	}
	return hex.EncodeToString(hasher.Sum(nil))[:16]
}

// normalizeAspect maps an aspect ratio to synthetic pixel dimensions.
func normalizeAspect(aspect string) (int, int) {
	switch strings.TrimSpace(aspect) {
	case string(domain.AspectVertical):
		return 576, 1024
	default:
		return 768, 768
	}
}
