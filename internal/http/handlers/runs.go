package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"pinstrategy/internal/domain"
)

type imagePayload struct {
	MIME string `json:"mime"`
	Data string `json:"data"`
}

type settingsPayload struct {
	EnableWebResearch *bool  `json:"enable_web_research"`
	VerticalCount     *int   `json:"vertical_count"`
	SEOIntensity      string `json:"seo_intensity"`
	VisualStyle       string `json:"visual_style"`
	AudienceFocus     string `json:"audience_focus"`
}

type startRunRequest struct {
	Description string          `json:"description"`
	Images      []imagePayload  `json:"images"`
	Settings    settingsPayload `json:"settings"`
}

type startRunResponse struct {
	RunID     string              `json:"run_id"`
	SessionID string              `json:"session_id"`
	State     domain.ProcessState `json:"state"`
}

func (p settingsPayload) toSettings() (domain.Settings, error) {
	def := domain.DefaultSettings()
	research := def.EnableWebResearch
	if p.EnableWebResearch != nil {
		research = *p.EnableWebResearch
	}
	vertical := def.VerticalCount
	if p.VerticalCount != nil {
		vertical = *p.VerticalCount
	}
	return domain.NewSettings(research, vertical, p.SEOIntensity, p.VisualStyle, p.AudienceFocus)
}

func (a *App) decodeRunRequest(w http.ResponseWriter, r *http.Request) (domain.RawInputs, domain.Settings, error) {
	if a.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, a.MaxUploadBytes)
	}
	var req startRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return domain.RawInputs{}, domain.Settings{}, fmt.Errorf("%w: request body exceeds %d bytes", domain.ErrValidation, tooLarge.Limit)
		}
		return domain.RawInputs{}, domain.Settings{}, fmt.Errorf("%w: invalid payload", domain.ErrValidation)
	}
	if a.MaxUploadImages > 0 && len(req.Images) > a.MaxUploadImages {
		return domain.RawInputs{}, domain.Settings{}, fmt.Errorf("%w: at most %d images per run", domain.ErrValidation, a.MaxUploadImages)
	}

	inputs := domain.RawInputs{Description: req.Description}
	for i, img := range req.Images {
		if strings.TrimSpace(img.Data) == "" {
			continue
		}
		parsed, err := domain.ParseImage(img.Data, img.MIME)
		if err != nil {
			return domain.RawInputs{}, domain.Settings{}, fmt.Errorf("image %d: %w", i+1, err)
		}
		inputs.Images = append(inputs.Images, parsed)
	}

	settings, err := req.Settings.toSettings()
	if err != nil {
		return domain.RawInputs{}, domain.Settings{}, err
	}
	return inputs, settings, nil
}

func (a *App) RunsStart(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	inputs, settings, err := a.decodeRunRequest(w, r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	runID, st, err := a.Runs.StartRun(r.Context(), sessionID, inputs, settings)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/sessions/"+sessionID)
	a.json(w, http.StatusAccepted, startRunResponse{RunID: runID, SessionID: sessionID, State: st})
}

func (a *App) RunGet(w http.ResponseWriter, r *http.Request) {
	rec, err := a.Runs.RunRecord(r.Context(), chi.URLParam(r, "run_id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, rec)
}

func (a *App) SessionRuns(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 100 {
			a.error(w, http.StatusBadRequest, "validation", "limit must be between 1 and 100")
			return
		}
		limit = n
	}
	items, err := a.Runs.SessionRuns(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if items == nil {
		items = []domain.RunRecord{}
	}
	a.json(w, http.StatusOK, map[string]any{"items": items})
}
