package runs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"pinstrategy/internal/domain"
	"pinstrategy/internal/infra"
	"pinstrategy/internal/pipeline"
)

const (
	EventState = "state"
	EventRun   = "run"
)

// ErrHistoryDisabled is returned by history lookups when no repository is configured.
var ErrHistoryDisabled = errors.New("run history is not configured")

// ImageStore persists accepted pack images and returns their public URL.
type ImageStore interface {
	SavePackImage(ctx context.Context, runID string, index int, img domain.Image) (string, error)
}

// PersistObserver is told when writing history fails.
type PersistObserver interface {
	PersistFailed(step string)
}

// Options wires the service's collaborators. Only Client is required.
type Options struct {
	Client      pipeline.Client
	Hub         *Hub
	Images      ImageStore
	Repo        domain.RunRepository
	Recorder    pipeline.Recorder
	Observer    PersistObserver
	Logger      *infra.Logger
	RunTimeout  time.Duration
	SessionTTL  time.Duration
	PersistWait time.Duration
}

// SessionView is the JSON shape of a session.
type SessionView struct {
	ID        string               `json:"id"`
	State     domain.ProcessState  `json:"state"`
	Packs     []domain.ContentPack `json:"packs"`
	LastRunID string               `json:"last_run_id,omitempty"`
	CreatedAt time.Time            `json:"created_at"`
}

// RunEvent is published on the session topic when a run ends.
type RunEvent struct {
	RunID     string           `json:"run_id"`
	Status    domain.RunStatus `json:"status"`
	PackCount int              `json:"pack_count"`
	Error     string           `json:"error,omitempty"`
	Persisted bool             `json:"persisted"`
}

type stateEvent struct {
	RunID string              `json:"run_id"`
	State domain.ProcessState `json:"state"`
}

type session struct {
	id         string
	controller *pipeline.Controller
	createdAt  time.Time

	mu        sync.Mutex
	lastRunID string
	imageURLs map[string]string
	touched   time.Time
}

// Service owns the per-session controllers and relays their snapshots to the hub.
type Service struct {
	opts   Options
	hub    *Hub
	logger infra.Logger
	now    func() time.Time

	mu       sync.RWMutex
	sessions map[string]*session

	wg sync.WaitGroup
}

// NewService validates opts and builds a Service.
func NewService(opts Options) (*Service, error) {
	if opts.Client == nil {
		return nil, errors.New("runs: generation client is required")
	}
	hub := opts.Hub
	if hub == nil {
		hub = NewHub()
	}
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	if opts.RunTimeout <= 0 {
		opts.RunTimeout = 15 * time.Minute
	}
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = 2 * time.Hour
	}
	if opts.PersistWait <= 0 {
		opts.PersistWait = time.Minute
	}
	return &Service{
		opts:     opts,
		hub:      hub,
		logger:   logger,
		now:      time.Now,
		sessions: make(map[string]*session),
	}, nil
}

// Hub exposes the event hub for streaming handlers.
func (s *Service) Hub() *Hub { return s.hub }

// HistoryEnabled reports whether runs are persisted.
func (s *Service) HistoryEnabled() bool { return s.opts.Repo != nil }

// Run drives the hub and expires idle sessions until ctx is done.
func (s *Service) Run(ctx context.Context) error {
	go s.hub.Run(ctx)
	ticker := time.NewTicker(max(s.opts.SessionTTL/4, time.Minute))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := s.Prune(s.opts.SessionTTL); n > 0 {
				s.logger.Info().Int("sessions", n).Msg("runs: pruned idle sessions")
			}
		}
	}
}

// CreateSession registers a new idle session.
func (s *Service) CreateSession() SessionView {
	now := s.now()
	sess := &session{
		id:        uuid.NewString(),
		createdAt: now,
		touched:   now,
		controller: pipeline.NewController(s.opts.Client,
			pipeline.WithLogger(s.logger),
			pipeline.WithRecorder(s.opts.Recorder),
		),
	}
	s.mu.Lock()
	s.sessions[sess.id] = sess
	s.mu.Unlock()
	s.logger.Debug().Str("session_id", sess.id).Msg("runs: session created")
	return s.view(sess)
}

// Session returns the current snapshot of a session.
func (s *Service) Session(id string) (SessionView, error) {
	sess, err := s.lookup(id)
	if err != nil {
		return SessionView{}, err
	}
	return s.view(sess), nil
}

// StartRun launches a run on the session. The run outlives the caller's
// request; ctx only contributes its values.
func (s *Service) StartRun(ctx context.Context, sessionID string, inputs domain.RawInputs, settings domain.Settings) (string, domain.ProcessState, error) {
	sess, err := s.lookup(sessionID)
	if err != nil {
		return "", domain.ProcessState{}, err
	}

	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.RunTimeout)
	run, err := sess.controller.Start(runCtx, inputs, settings)
	if err != nil {
		cancel()
		return "", sess.controller.State(), err
	}

	normalized := inputs.Normalize()
	started := s.now()
	sess.mu.Lock()
	sess.lastRunID = run.ID()
	sess.imageURLs = nil
	sess.touched = started
	sess.mu.Unlock()

	logger := s.logger.With().Str("session_id", sess.id).Str("run_id", run.ID()).Logger()
	logger.Info().Int("images", len(normalized.Images)).Msg("runs: run accepted")

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		s.relay(sess, run)
		s.finish(logger, sess, run, normalized, settings.Normalize(), started)
	}()

	return run.ID(), sess.controller.State(), nil
}

// SessionPacks returns the session's current packs including image payloads.
func (s *Service) SessionPacks(sessionID string) ([]domain.ContentPack, error) {
	sess, err := s.lookup(sessionID)
	if err != nil {
		return nil, err
	}
	_, packs := sess.controller.Snapshot()
	return packs, nil
}

// Reset returns the session to idle, abandoning any in-flight run.
func (s *Service) Reset(sessionID string) (domain.ProcessState, error) {
	sess, err := s.lookup(sessionID)
	if err != nil {
		return domain.ProcessState{}, err
	}
	st := sess.controller.Reset()
	sess.mu.Lock()
	sess.imageURLs = nil
	sess.touched = s.now()
	sess.mu.Unlock()
	s.publishState(sess.id, "", st)
	return st, nil
}

// Subscribe returns the session's event stream and its current state.
func (s *Service) Subscribe(sessionID string) (<-chan Message, func(), domain.ProcessState, error) {
	sess, err := s.lookup(sessionID)
	if err != nil {
		return nil, nil, domain.ProcessState{}, err
	}
	ch, cancel := s.hub.Subscribe(sess.id, 64)
	return ch, cancel, sess.controller.State(), nil
}

// RunRecord returns a persisted run.
func (s *Service) RunRecord(ctx context.Context, runID string) (*domain.RunRecord, error) {
	if s.opts.Repo == nil {
		return nil, ErrHistoryDisabled
	}
	return s.opts.Repo.GetByID(ctx, runID)
}

// SessionRuns lists persisted runs of a session, newest first.
func (s *Service) SessionRuns(ctx context.Context, sessionID string, limit int) ([]domain.RunRecord, error) {
	if s.opts.Repo == nil {
		return nil, ErrHistoryDisabled
	}
	return s.opts.Repo.ListBySession(ctx, sessionID, limit)
}

// Prune drops idle sessions untouched for longer than maxAge.
func (s *Service) Prune(maxAge time.Duration) int {
	cutoff := s.now().Add(-maxAge)
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, sess := range s.sessions {
		if sess.controller.State().Stage.Active() {
			continue
		}
		sess.mu.Lock()
		stale := sess.touched.Before(cutoff)
		sess.mu.Unlock()
		if stale {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed
}

// Shutdown resets every session and waits for relays to drain.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.RLock()
	for _, sess := range s.sessions {
		sess.controller.Reset()
	}
	s.mu.RUnlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) relay(sess *session, run *pipeline.Run) {
	for st := range run.States() {
		s.publishState(sess.id, run.ID(), st)
	}
}

func (s *Service) finish(logger zerolog.Logger, sess *session, run *pipeline.Run, inputs domain.RawInputs, settings domain.Settings, started time.Time) {
	packs, runErr := run.Wait()
	if errors.Is(runErr, pipeline.ErrRunReset) {
		logger.Info().Msg("runs: run discarded by reset")
		return
	}

	record := &domain.RunRecord{
		ID:          run.ID(),
		SessionID:   sess.id,
		Description: inputs.Description,
		ImageCount:  len(inputs.Images),
		Settings:    settings,
		ProductLock: run.ProductLock(),
		Status:      domain.RunStatusComplete,
		Packs:       packs,
		StartedAt:   started,
		FinishedAt:  s.now(),
	}
	if runErr != nil {
		record.Status = domain.RunStatusFailed
		record.Error = runErr.Error()
		var stageErr *pipeline.StageError
		if errors.As(runErr, &stageErr) {
			record.Error = stageErr.Err.Error()
		}
		record.Packs = nil
	}

	persisted := s.persist(logger, sess, record)
	s.publish(sess.id, EventRun, RunEvent{
		RunID:     record.ID,
		Status:    record.Status,
		PackCount: len(record.Packs),
		Error:     record.Error,
		Persisted: persisted,
	})
}

// persist stores images and the history row. Failures are logged and never
// change the run's outcome.
func (s *Service) persist(logger zerolog.Logger, sess *session, record *domain.RunRecord) bool {
	if s.opts.Images == nil && s.opts.Repo == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.PersistWait)
	defer cancel()

	if s.opts.Images != nil && len(record.Packs) > 0 {
		urls := make(map[string]string, len(record.Packs))
		for i := range record.Packs {
			pack := &record.Packs[i]
			url, err := s.opts.Images.SavePackImage(ctx, record.ID, i, pack.Image)
			if err != nil {
				s.persistFailed("image")
				logger.Warn().Err(err).Int("pin", i+1).Msg("runs: store pack image failed")
				continue
			}
			pack.ImageURL = url
			urls[pack.ID] = url
		}
		sess.mu.Lock()
		if sess.lastRunID == record.ID {
			sess.imageURLs = urls
		}
		sess.mu.Unlock()
	}

	if s.opts.Repo == nil {
		return false
	}
	if err := s.opts.Repo.Save(ctx, record); err != nil {
		s.persistFailed("record")
		logger.Error().Err(err).Msg("runs: save run history failed")
		return false
	}
	logger.Info().Str("status", string(record.Status)).Int("packs", len(record.Packs)).Msg("runs: run persisted")
	return true
}

func (s *Service) persistFailed(step string) {
	if s.opts.Observer != nil {
		s.opts.Observer.PersistFailed(step)
	}
}

func (s *Service) publishState(sessionID, runID string, st domain.ProcessState) {
	s.publish(sessionID, EventState, stateEvent{RunID: runID, State: st})
}

func (s *Service) publish(topic, event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error().Err(err).Str("event", event).Msg("runs: encode event failed")
		return
	}
	s.hub.Publish(topic, Message{Event: event, Data: data})
}

func (s *Service) lookup(id string) (*session, error) {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: session %s", domain.ErrNotFound, id)
	}
	sess.mu.Lock()
	sess.touched = s.now()
	sess.mu.Unlock()
	return sess, nil
}

func (s *Service) view(sess *session) SessionView {
	st, packs := sess.controller.Snapshot()
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if packs == nil {
		packs = []domain.ContentPack{}
	}
	for i := range packs {
		if url, ok := sess.imageURLs[packs[i].ID]; ok {
			packs[i].ImageURL = url
		}
	}
	return SessionView{
		ID:        sess.id,
		State:     st,
		Packs:     packs,
		LastRunID: sess.lastRunID,
		CreatedAt: sess.createdAt,
	}
}
