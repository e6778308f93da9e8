package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"pinstrategy/internal/domain"
	"pinstrategy/internal/infra"
)

const (
	// maxSynthesisAttempts bounds synthesize+verify rounds per pin.
	maxSynthesisAttempts = 2

	progressLocking  = 5
	progressDrafting = 15
	progressPerPin   = 25
	progressComplete = 100
)

var (
	// ErrRunReset is returned by Run.Wait when Reset discarded the run.
	ErrRunReset = errors.New("run discarded by reset")

	errEmptyLock  = errors.New("identity lock returned an empty description")
	errEmptyImage = errors.New("image generation returned no image")
)

// StageError is a hard failure raised by a client call. Its Err is the
// message surfaced in the error state.
type StageError struct {
	Stage domain.Stage
	Op    string
	Err   error
}

func (e *StageError) Error() string {
	return domain.Wrap(domain.ErrStageFailure, e.Stage, e.Op, e.Err).Error()
}

func (e *StageError) Unwrap() []error {
	return []error{domain.ErrStageFailure, e.Err}
}

// Option customizes a Controller.
type Option func(*Controller)

// WithLogger sets the logger; the default discards output.
func WithLogger(l infra.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// WithRecorder sets the telemetry sink.
func WithRecorder(r Recorder) Option {
	return func(c *Controller) {
		if r != nil {
			c.recorder = r
		}
	}
}

// WithClock overrides the time source used for pack ids and durations.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		if now != nil {
			c.now = now
		}
	}
}

// Controller runs the lock → draft → synthesize/verify → metadata pipeline.
// It owns one run at a time; its state is only observable through snapshots.
type Controller struct {
	client   Client
	logger   infra.Logger
	recorder Recorder
	now      func() time.Time

	mu      sync.Mutex
	state   domain.ProcessState
	packs   []domain.ContentPack
	current *Run
	running bool
}

// NewController wires a controller around client.
func NewController(client Client, opts ...Option) *Controller {
	c := &Controller{
		client:   client,
		logger:   zerolog.Nop(),
		recorder: nopRecorder{},
		now:      time.Now,
		state:    domain.IdleState(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run is the handle for one pipeline execution.
type Run struct {
	id     string
	stream *stateStream
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once

	lastProgress int

	packs []domain.ContentPack
	lock  domain.ProductLock
	err   error
}

func newRun(cancel context.CancelFunc) *Run {
	return &Run{
		id:     uuid.NewString(),
		stream: newStateStream(),
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// ID identifies the run.
func (r *Run) ID() string { return r.id }

// States yields every snapshot of the run in order and is closed after the
// terminal one. It has a single consumer.
func (r *Run) States() <-chan domain.ProcessState { return r.stream.channel() }

// Done is closed once the run has finished or been discarded.
func (r *Run) Done() <-chan struct{} { return r.done }

// Wait blocks until the run ends and returns its packs, or the hard failure.
func (r *Run) Wait() ([]domain.ContentPack, error) {
	<-r.done
	return domain.ClonePacks(r.packs), r.err
}

// ProductLock returns the identity lock once the run has finished.
func (r *Run) ProductLock() domain.ProductLock {
	<-r.done
	return r.lock
}

func (r *Run) finish(packs []domain.ContentPack, lock domain.ProductLock, err error) {
	r.once.Do(func() {
		r.packs = packs
		r.lock = lock
		r.err = err
		close(r.done)
		if errors.Is(err, ErrRunReset) {
			r.stream.discard()
		} else {
			r.stream.close()
		}
		r.cancel()
	})
}

// State returns the current snapshot.
func (c *Controller) State() domain.ProcessState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Snapshot returns the current state and the published packs together.
func (c *Controller) Snapshot() (domain.ProcessState, []domain.ContentPack) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state, domain.ClonePacks(c.packs)
}

// Start validates the inputs and launches a run. Invalid inputs return an
// error wrapping domain.ErrValidation before any client call; the state is
// left untouched.
func (c *Controller) Start(ctx context.Context, inputs domain.RawInputs, settings domain.Settings) (*Run, error) {
	inputs = inputs.Normalize()
	if err := inputs.Validate(); err != nil {
		return nil, err
	}
	settings = settings.Normalize()
	if err := settings.Validate(); err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	run := newRun(cancel)

	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		cancel()
		return nil, domain.ErrRunInProgress
	}
	c.running = true
	c.current = run
	c.packs = nil
	c.publishLocked(run, domain.ProcessState{
		Stage:           domain.StageLockingIdentity,
		ProgressPercent: progressLocking,
		SubStatus:       "Locking Identity",
	})
	c.mu.Unlock()

	go c.execute(runCtx, run, inputs, settings)
	return run, nil
}

// Reset returns the controller to idle from any state. An in-flight run is
// detached and its context canceled; its later transitions are dropped.
func (c *Controller) Reset() domain.ProcessState {
	c.mu.Lock()
	run := c.current
	c.current = nil
	c.running = false
	c.packs = nil
	c.state = domain.IdleState()
	c.mu.Unlock()

	if run != nil {
		run.finish(nil, "", ErrRunReset)
	}
	return domain.IdleState()
}

func (c *Controller) publish(run *Run, st domain.ProcessState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.publishLocked(run, st)
}

func (c *Controller) publishLocked(run *Run, st domain.ProcessState) {
	if c.current != run {
		return
	}
	if st.ProgressPercent < run.lastProgress {
		st.ProgressPercent = run.lastProgress
	}
	run.lastProgress = st.ProgressPercent
	c.state = st
	run.stream.push(st)
}

func (c *Controller) execute(ctx context.Context, run *Run, inputs domain.RawInputs, settings domain.Settings) {
	started := c.now()
	logger := c.logger.With().Str("run_id", run.id).Logger()
	c.recorder.RunStarted()
	logger.Info().
		Int("images", len(inputs.Images)).
		Int("vertical_count", settings.VerticalCount).
		Str("visual_style", string(settings.VisualStyle)).
		Msg("pipeline: run started")

	packs, lock, err := c.runStages(ctx, run, logger, inputs, settings)
	elapsed := c.now().Sub(started)
	if c.discarded(run) {
		logger.Info().Err(err).Dur("elapsed", elapsed).Msg("pipeline: run discarded by reset")
		c.recorder.RunDiscarded(elapsed)
		run.finish(nil, lock, ErrRunReset)
		return
	}
	if err != nil {
		message := err.Error()
		var stageErr *StageError
		if errors.As(err, &stageErr) {
			message = stageErr.Err.Error()
		}
		logger.Error().Err(err).Dur("elapsed", elapsed).Msg("pipeline: run failed")
		c.publish(run, domain.ProcessState{Stage: domain.StageError, Error: message})
		c.release(run)
		c.recorder.RunFinished(domain.StageError, elapsed)
		run.finish(nil, lock, err)
		return
	}

	c.mu.Lock()
	if c.current == run {
		c.packs = domain.ClonePacks(packs)
	}
	c.publishLocked(run, domain.ProcessState{Stage: domain.StageComplete, ProgressPercent: progressComplete})
	c.mu.Unlock()
	c.release(run)

	logger.Info().Int("packs", len(packs)).Dur("elapsed", elapsed).Msg("pipeline: run complete")
	c.recorder.RunFinished(domain.StageComplete, elapsed)
	run.finish(packs, lock, nil)
}

// discarded reports whether Reset detached run.
func (c *Controller) discarded(run *Run) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current != run
}

func (c *Controller) release(run *Run) {
	c.mu.Lock()
	if c.current == run {
		c.running = false
	}
	c.mu.Unlock()
}

func (c *Controller) runStages(ctx context.Context, run *Run, logger zerolog.Logger, inputs domain.RawInputs, settings domain.Settings) ([]domain.ContentPack, domain.ProductLock, error) {
	stageStart := c.now()
	lockText, err := c.client.LockIdentity(ctx, inputs.Images, inputs.Description)
	if err != nil {
		return nil, "", &StageError{Stage: domain.StageLockingIdentity, Op: "lock identity", Err: err}
	}
	lock := domain.ProductLock(strings.TrimSpace(lockText))
	if lock == "" {
		return nil, "", &StageError{Stage: domain.StageLockingIdentity, Op: "lock identity", Err: errEmptyLock}
	}
	c.recorder.StageFinished(domain.StageLockingIdentity, c.now().Sub(stageStart))
	logger.Debug().Int("lock_chars", len(lock)).Msg("pipeline: product identity locked")

	c.publish(run, domain.ProcessState{
		Stage:           domain.StageAnalyzing,
		ProgressPercent: progressDrafting,
		SubStatus:       "Drafting Strategy",
	})
	stageStart = c.now()
	raw, err := c.client.DraftPrompts(ctx, inputs.Images, inputs.Description, settings, lock)
	if err != nil {
		return nil, lock, &StageError{Stage: domain.StageAnalyzing, Op: "draft prompts", Err: err}
	}
	prompts, err := DecodePrompts(raw, settings.VerticalCount)
	if err != nil {
		c.recorder.DraftDegraded()
		logger.Warn().Err(err).Msg("pipeline: prompt draft unreadable, continuing without prompts")
	}
	c.recorder.StageFinished(domain.StageAnalyzing, c.now().Sub(stageStart))
	logger.Debug().Int("prompts", len(prompts)).Msg("pipeline: prompts drafted")

	packs := make([]domain.ContentPack, 0, len(prompts))
	for i, spec := range prompts {
		pack, err := c.processItem(ctx, run, logger, i, spec, inputs, settings, lock)
		if err != nil {
			return nil, lock, err
		}
		packs = append(packs, pack)
	}
	return packs, lock, nil
}

func (c *Controller) processItem(
	ctx context.Context,
	run *Run,
	logger zerolog.Logger,
	index int,
	spec domain.PromptSpec,
	inputs domain.RawInputs,
	settings domain.Settings,
	lock domain.ProductLock,
) (domain.ContentPack, error) {
	pin := index + 1
	progress := progressDrafting + index*progressPerPin
	pinLogger := logger.With().Int("pin", pin).Str("aspect_ratio", string(spec.AspectRatio)).Logger()

	attempts := 0
	stageStart := c.now()
	image, verified, err := WithRetry(ctx, maxSynthesisAttempts,
		func(ctx context.Context, attempt int) (domain.Image, error) {
			attempts = attempt
			c.publish(run, domain.ProcessState{
				Stage:           domain.StageCreatingImages,
				ProgressPercent: progress,
				SubStatus:       fmt.Sprintf("Synthesis Pin %d", pin),
			})
			img, err := c.client.SynthesizeImage(ctx, spec.Prompt, spec.AspectRatio)
			if err != nil {
				return domain.Image{}, &StageError{Stage: domain.StageCreatingImages, Op: "synthesize image", Err: err}
			}
			if len(img.Data) == 0 {
				return domain.Image{}, &StageError{Stage: domain.StageCreatingImages, Op: "synthesize image", Err: errEmptyImage}
			}
			return img, nil
		},
		func(ctx context.Context, attempt int, img domain.Image) (bool, error) {
			c.publish(run, domain.ProcessState{
				Stage:           domain.StageVerifyingFidelity,
				ProgressPercent: progress,
				SubStatus:       fmt.Sprintf("Verifying Pin %d", pin),
			})
			ok, err := c.client.VerifyFidelity(ctx, inputs.Images, img, lock)
			if err != nil {
				return false, &StageError{Stage: domain.StageVerifyingFidelity, Op: "verify fidelity", Err: err}
			}
			c.recorder.VerificationAttempt(ok)
			if !ok && attempt < maxSynthesisAttempts {
				pinLogger.Warn().Int("attempt", attempt).Msg("pipeline: pin failed verification, retrying synthesis")
			}
			return ok, nil
		},
	)
	if err != nil {
		return domain.ContentPack{}, err
	}
	c.recorder.StageFinished(domain.StageCreatingImages, c.now().Sub(stageStart))
	if !verified {
		pinLogger.Warn().Int("attempts", attempts).Msg("pipeline: pin accepted without passing verification")
	}

	c.publish(run, domain.ProcessState{
		Stage:           domain.StageGeneratingMetadata,
		ProgressPercent: progress,
		SubStatus:       fmt.Sprintf("Finalizing Pin %d", pin),
	})
	stageStart = c.now()
	raw, err := c.client.GenerateMetadata(ctx, spec.Prompt, metadataContext(inputs.Description), settings)
	if err != nil {
		return domain.ContentPack{}, &StageError{Stage: domain.StageGeneratingMetadata, Op: "generate metadata", Err: err}
	}
	meta, err := DecodeMetadata(raw)
	if err != nil {
		pinLogger.Warn().Err(err).Msg("pipeline: metadata unreadable, using fallbacks")
	}
	c.recorder.StageFinished(domain.StageGeneratingMetadata, c.now().Sub(stageStart))
	c.recorder.PackAccepted(verified)

	return domain.ContentPack{
		ID:           domain.PackID(index, c.now()),
		Image:        image,
		ImageURL:     image.DataURL(),
		Title:        meta.Title,
		Description:  meta.Description,
		AltText:      meta.AltText,
		Keywords:     meta.Keywords,
		SourcePrompt: spec.Prompt,
		AspectRatio:  spec.AspectRatio,
		LayoutType:   spec.LayoutType,
		Verified:     verified,
		Attempts:     attempts,
	}, nil
}
