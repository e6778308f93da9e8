package genai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"pinstrategy/internal/domain"
	"pinstrategy/internal/infra"
)

const (
	DefaultBaseURL    = "https://generativelanguage.googleapis.com/v1beta"
	DefaultTextModel  = "gemini-3-pro-preview"
	DefaultImageModel = "gemini-2.5-flash-image"
)

var errNoImage = errors.New("image generation failed: no image returned")

// Options controls how the Gemini client is configured.
type Options struct {
	APIKey     string
	BaseURL    string
	TextModel  string
	ImageModel string
	HTTPClient *http.Client
	Logger     *infra.Logger
}

// Client implements the five generation capabilities against the Gemini
// generateContent endpoint. Without an API key it answers every call with
// deterministic synthetic output so local runs and CI stay fully offline.
type Client struct {
	apiKey     string
	baseURL    string
	textModel  string
	imageModel string
	httpClient *http.Client
	logger     *infra.Logger
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts,omitempty"`
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inlineData,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mimeType,omitempty"`
	Data     string `json:"data,omitempty"`
}

type geminiTool struct {
	GoogleSearch *struct{} `json:"googleSearch,omitempty"`
}

type geminiImageConfig struct {
	AspectRatio string `json:"aspectRatio,omitempty"`
}

type geminiGenerationConfig struct {
	ResponseMimeType   string             `json:"responseMimeType,omitempty"`
	ResponseModalities []string           `json:"responseModalities,omitempty"`
	ImageConfig        *geminiImageConfig `json:"imageConfig,omitempty"`
}

type geminiGenerateContentRequest struct {
	Contents          []geminiContent         `json:"contents"`
	SystemInstruction *geminiContent          `json:"systemInstruction,omitempty"`
	Tools             []geminiTool            `json:"tools,omitempty"`
	GenerationConfig  *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiCandidate struct {
	Content      geminiContent `json:"content"`
	FinishReason string        `json:"finishReason,omitempty"`
}

type geminiGenerateContentResponse struct {
	Candidates []geminiCandidate `json:"candidates"`
}

type geminiErrorResponse struct {
	Error struct {
		Code    int    `json:"code,omitempty"`
		Message string `json:"message,omitempty"`
	} `json:"error"`
}

// NewClient constructs a Gemini client with sane defaults. Callers may provide
// a nil HTTP client; a reusable one with sensible timeouts will be created.
func NewClient(opts Options) (*Client, error) {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 120 * time.Second}
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("parse gemini base url: %w", err)
	}

	var logger *infra.Logger
	if opts.Logger != nil {
		logger = opts.Logger
	} else {
		discard := zerolog.New(io.Discard)
		logger = &discard
	}

	return &Client{
		apiKey:     strings.TrimSpace(opts.APIKey),
		baseURL:    baseURL,
		textModel:  firstNonEmpty(opts.TextModel, DefaultTextModel),
		imageModel: firstNonEmpty(opts.ImageModel, DefaultImageModel),
		httpClient: client,
		logger:     logger,
	}, nil
}

// Synthetic reports whether the client answers locally instead of calling Gemini.
func (c *Client) Synthetic() bool {
	return c.apiKey == ""
}

// Models returns the configured text and image model identifiers.
func (c *Client) Models() (string, string) {
	return c.textModel, c.imageModel
}

// LockIdentity returns a short description of the product's fixed physical traits.
func (c *Client) LockIdentity(ctx context.Context, images []domain.Image, description string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if c.Synthetic() {
		return syntheticLock(images, description), nil
	}

	parts := append(imageParts(images), geminiPart{Text: lockPrompt(description)})
	return c.generateText(ctx, "lock identity", geminiGenerateContentRequest{
		Contents:          []geminiContent{{Role: "user", Parts: parts}},
		SystemInstruction: systemText(lockInstruction),
	})
}

// DraftPrompts asks for a JSON array of image prompts. The raw text is
// returned undecoded.
func (c *Client) DraftPrompts(ctx context.Context, images []domain.Image, description string, settings domain.Settings, lock domain.ProductLock) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if c.Synthetic() {
		return syntheticDraft(description, settings), nil
	}

	req := geminiGenerateContentRequest{
		Contents: []geminiContent{{
			Role:  "user",
			Parts: append(imageParts(images), geminiPart{Text: draftPrompt(description, settings)}),
		}},
		SystemInstruction: systemText(draftInstruction(settings, lock)),
		GenerationConfig:  &geminiGenerationConfig{ResponseMimeType: "application/json"},
	}
	if settings.EnableWebResearch {
		// Search grounding cannot be combined with a JSON response type.
		req.Tools = []geminiTool{{GoogleSearch: &struct{}{}}}
		req.GenerationConfig = nil
	}
	return c.generateText(ctx, "draft prompts", req)
}

// SynthesizeImage renders one pin image at the requested aspect ratio.
func (c *Client) SynthesizeImage(ctx context.Context, prompt string, ratio domain.AspectRatio) (domain.Image, error) {
	if err := ctx.Err(); err != nil {
		return domain.Image{}, err
	}
	if c.Synthetic() {
		width, height := normalizeAspect(string(ratio))
		seed := deterministicSeed(prompt, ratio, c.imageModel)
		data := renderSyntheticImage(width, height, seed)
		if len(data) == 0 {
			return domain.Image{}, errNoImage
		}
		c.logger.Debug().
			Str("model", c.imageModel).
			Str("aspect_ratio", string(ratio)).
			Msg("genai: generated synthetic image")
		return domain.Image{MIME: "image/png", Data: data}, nil
	}

	payload := geminiGenerateContentRequest{
		Contents: []geminiContent{{
			Role:  "user",
			Parts: []geminiPart{{Text: imagePrompt(prompt)}},
		}},
		GenerationConfig: &geminiGenerationConfig{
			ResponseModalities: []string{"IMAGE"},
			ImageConfig:        &geminiImageConfig{AspectRatio: string(ratio)},
		},
	}

	var response geminiGenerateContentResponse
	if err := c.invokeGemini(ctx, c.imageModel, payload, &response); err != nil {
		return domain.Image{}, err
	}
	for _, candidate := range response.Candidates {
		for _, part := range candidate.Content.Parts {
			if part.InlineData == nil || part.InlineData.Data == "" {
				continue
			}
			data, err := base64.StdEncoding.DecodeString(part.InlineData.Data)
			if err != nil {
				return domain.Image{}, fmt.Errorf("decode inline image: %w", err)
			}
			c.logger.Debug().
				Str("model", c.imageModel).
				Str("aspect_ratio", string(ratio)).
				Int("bytes", len(data)).
				Msg("genai: generated remote image")
			return domain.Image{MIME: firstNonEmpty(part.InlineData.MimeType, "image/png"), Data: data}, nil
		}
	}
	return domain.Image{}, errNoImage
}

// VerifyFidelity compares candidate with the originals. Anything other than
// a reply starting with PASS counts as a failed check.
func (c *Client) VerifyFidelity(ctx context.Context, originals []domain.Image, candidate domain.Image, lock domain.ProductLock) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if c.Synthetic() {
		return len(candidate.Data) > 0, nil
	}

	parts := imageParts(originals)
	parts = append(parts, imageParts([]domain.Image{candidate})...)
	parts = append(parts, geminiPart{Text: verifyPrompt(lock)})
	text, err := c.generateText(ctx, "verify fidelity", geminiGenerateContentRequest{
		Contents:          []geminiContent{{Role: "user", Parts: parts}},
		SystemInstruction: systemText(verifyInstruction),
	})
	if err != nil {
		return false, err
	}
	return IsPass(text), nil
}

// GenerateMetadata asks for pin title, description, alt text and keywords as JSON.
func (c *Client) GenerateMetadata(ctx context.Context, prompt, productContext string, settings domain.Settings) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if c.Synthetic() {
		return syntheticMetadata(prompt, productContext, settings), nil
	}

	return c.generateText(ctx, "generate metadata", geminiGenerateContentRequest{
		Contents: []geminiContent{{
			Role:  "user",
			Parts: []geminiPart{{Text: metadataPrompt(prompt, productContext)}},
		}},
		SystemInstruction: systemText(metadataInstruction(settings)),
		GenerationConfig:  &geminiGenerationConfig{ResponseMimeType: "application/json"},
	})
}

// IsPass reports whether a verification reply approves the image.
func IsPass(reply string) bool {
	return strings.HasPrefix(strings.ToUpper(strings.TrimSpace(reply)), "PASS")
}

func (c *Client) generateText(ctx context.Context, op string, payload geminiGenerateContentRequest) (string, error) {
	var response geminiGenerateContentResponse
	if err := c.invokeGemini(ctx, c.textModel, payload, &response); err != nil {
		return "", err
	}
	text := responseText(response)
	c.logger.Debug().
		Str("model", c.textModel).
		Str("operation", op).
		Int("chars", len(text)).
		Msg("genai: text response received")
	return text, nil
}

func (c *Client) invokeGemini(ctx context.Context, model string, payload any, out any) error {
	endpoint := fmt.Sprintf("%s/models/%s:generateContent", c.baseURL, url.PathEscape(model))
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	q := req.URL.Query()
	q.Set("key", c.apiKey)
	req.URL.RawQuery = q.Encode()
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.Wrap(domain.ErrProviderFailure, "", "invoke gemini", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		var apiErr geminiErrorResponse
		op := fmt.Sprintf("gemini status %d", resp.StatusCode)
		if err := json.Unmarshal(data, &apiErr); err == nil && apiErr.Error.Message != "" {
			return domain.Wrap(domain.ErrProviderFailure, "", op, errors.New(apiErr.Error.Message))
		}
		if msg := strings.TrimSpace(string(data)); msg != "" {
			return domain.Wrap(domain.ErrProviderFailure, "", op, errors.New(msg))
		}
		return domain.Wrap(domain.ErrProviderFailure, "", op, nil)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return domain.Wrap(domain.ErrProviderFailure, "", "decode gemini response", err)
	}
	return nil
}

func responseText(resp geminiGenerateContentResponse) string {
	if len(resp.Candidates) == 0 {
		return ""
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		b.WriteString(part.Text)
	}
	return strings.TrimSpace(b.String())
}

func imageParts(images []domain.Image) []geminiPart {
	parts := make([]geminiPart, 0, len(images)+1)
	for _, img := range images {
		if len(img.Data) == 0 {
			continue
		}
		parts = append(parts, geminiPart{InlineData: &geminiInlineData{
			MimeType: img.MimeType(),
			Data:     base64.StdEncoding.EncodeToString(img.Data),
		}})
	}
	return parts
}

func systemText(text string) *geminiContent {
	return &geminiContent{Parts: []geminiPart{{Text: text}}}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
