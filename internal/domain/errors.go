package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrValidation      = errors.New("validation error")
	ErrStageFailure    = errors.New("stage failure")
	ErrProviderFailure = errors.New("provider failure")
	ErrRunInProgress   = errors.New("run in progress")
)

// Wrap tags err with marker so callers can classify it with errors.Is while
// keeping the stage and operation in the message.
func Wrap(marker error, stage Stage, operation string, err error) error {
	if marker == nil {
		marker = ErrStageFailure
	}
	parts := make([]string, 0, 2)
	if s := strings.TrimSpace(string(stage)); s != "" {
		parts = append(parts, s)
	}
	if op := strings.TrimSpace(operation); op != "" {
		parts = append(parts, op)
	}
	detail := strings.Join(parts, ": ")
	if detail == "" {
		detail = "pipeline"
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}
