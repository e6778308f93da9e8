package domain

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// AspectRatio is the layout a pin image is synthesized at.
type AspectRatio string

const (
	AspectSquare   AspectRatio = "1:1"
	AspectVertical AspectRatio = "9:16"
)

// MaxPromptsPerRun caps how many drafted prompts become content packs.
const MaxPromptsPerRun = 3

// Image is an opaque image payload.
type Image struct {
	MIME string `json:"mime"`
	Data []byte `json:"-"`
}

// DataURL renders the image as a data: URL.
func (img Image) DataURL() string {
	if len(img.Data) == 0 {
		return ""
	}
	return fmt.Sprintf("data:%s;base64,%s", img.MimeType(), base64.StdEncoding.EncodeToString(img.Data))
}

// MimeType returns the declared MIME type, sniffing the payload when absent.
func (img Image) MimeType() string {
	if mime := strings.TrimSpace(img.MIME); mime != "" {
		return mime
	}
	if len(img.Data) == 0 {
		return "application/octet-stream"
	}
	return http.DetectContentType(img.Data)
}

// ParseImage accepts either a data: URL or bare base64 and returns the payload.
func ParseImage(raw, mime string) (Image, error) {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "data:") {
		header, payload, ok := strings.Cut(raw, ",")
		if !ok {
			return Image{}, fmt.Errorf("%w: malformed data url", ErrValidation)
		}
		header = strings.TrimPrefix(header, "data:")
		header = strings.TrimSuffix(header, ";base64")
		if mime == "" {
			mime = header
		}
		raw = payload
	}
	data, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return Image{}, fmt.Errorf("%w: decode image: %v", ErrValidation, err)
	}
	return Image{MIME: strings.TrimSpace(mime), Data: data}, nil
}

// RawInputs is what the user supplies for one run.
type RawInputs struct {
	Images      []Image
	Description string
}

// Normalize drops empty image payloads and trims the description.
func (in RawInputs) Normalize() RawInputs {
	out := RawInputs{Description: strings.TrimSpace(in.Description)}
	for _, img := range in.Images {
		if len(img.Data) == 0 {
			continue
		}
		out.Images = append(out.Images, img)
	}
	return out
}

// Validate requires at least one image or a non-blank description.
func (in RawInputs) Validate() error {
	n := in.Normalize()
	if len(n.Images) == 0 && n.Description == "" {
		return fmt.Errorf("%w: provide at least an image or a product description", ErrValidation)
	}
	return nil
}

// ProductLock is the immutable identity description shared by every later stage.
type ProductLock string

func (l ProductLock) String() string { return string(l) }

// PromptSpec is one drafted image prompt.
type PromptSpec struct {
	Prompt      string      `json:"prompt"`
	AspectRatio AspectRatio `json:"aspectRatio"`
	LayoutType  string      `json:"layoutType"`
}

// Metadata is the SEO copy attached to a pin.
type Metadata struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	AltText     string   `json:"altText"`
	Keywords    []string `json:"keywords"`
}

// ContentPack is one finished pin. It is never modified after creation.
type ContentPack struct {
	ID           string      `json:"id"`
	Image        Image       `json:"-"`
	ImageURL     string      `json:"image_url"`
	Title        string      `json:"title"`
	Description  string      `json:"description"`
	AltText      string      `json:"alt_text"`
	Keywords     []string    `json:"keywords"`
	SourcePrompt string      `json:"source_prompt"`
	AspectRatio  AspectRatio `json:"aspect_ratio"`
	LayoutType   string      `json:"layout_type,omitempty"`
	Verified     bool        `json:"verified"`
	Attempts     int         `json:"attempts"`
}

// PackID builds the per-run identifier for the pack at index.
func PackID(index int, at time.Time) string {
	return fmt.Sprintf("pack-%d-%d", index, at.UnixMilli())
}

// ClonePacks returns a deep copy so callers never share slices with the producer.
func ClonePacks(packs []ContentPack) []ContentPack {
	if packs == nil {
		return nil
	}
	out := make([]ContentPack, len(packs))
	for i, p := range packs {
		p.Keywords = append([]string(nil), p.Keywords...)
		p.Image.Data = bytes.Clone(p.Image.Data)
		out[i] = p
	}
	return out
}
