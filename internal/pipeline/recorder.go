package pipeline

import (
	"time"

	"pinstrategy/internal/domain"
)

// Recorder receives run telemetry. Implementations must not block.
type Recorder interface {
	RunStarted()
	RunFinished(stage domain.Stage, elapsed time.Duration)
	// RunDiscarded ends a run that Reset detached; it is not a failure.
	RunDiscarded(elapsed time.Duration)
	StageFinished(stage domain.Stage, elapsed time.Duration)
	VerificationAttempt(passed bool)
	PackAccepted(verified bool)
	DraftDegraded()
}

type nopRecorder struct{}

func (nopRecorder) RunStarted() {}
func (nopRecorder) RunFinished(domain.Stage, time.Duration) {}
func (nopRecorder) RunDiscarded(time.Duration) {}
func (nopRecorder) StageFinished(domain.Stage, time.Duration) {}
func (nopRecorder) VerificationAttempt(bool) {}
func (nopRecorder) PackAccepted(bool) {}
func (nopRecorder) DraftDegraded() {}
