package pipeline

import (
	"context"

	"pinstrategy/internal/domain"
)

// Client is the generative backend the controller drives. Every call is a
// single request/response; none of them return partial results.
type Client interface {
	// LockIdentity describes the physical traits that must not change.
	LockIdentity(ctx context.Context, images []domain.Image, description string) (string, error)
	// DraftPrompts returns raw JSON text expected to hold an array of prompt specs.
	DraftPrompts(ctx context.Context, images []domain.Image, description string, settings domain.Settings, lock domain.ProductLock) (string, error)
	// SynthesizeImage renders one image for the prompt.
	SynthesizeImage(ctx context.Context, prompt string, ratio domain.AspectRatio) (domain.Image, error)
	// VerifyFidelity reports whether candidate still shows the locked product.
	VerifyFidelity(ctx context.Context, originals []domain.Image, candidate domain.Image, lock domain.ProductLock) (bool, error)
	// GenerateMetadata returns raw JSON text expected to hold pin metadata.
	GenerateMetadata(ctx context.Context, prompt, productContext string, settings domain.Settings) (string, error)
}
