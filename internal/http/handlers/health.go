package handlers

import (
	"context"
	"net/http"
	"time"
)

func (a *App) Health(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"status":    "ok",
		"generator": a.Generator,
		"history":   a.Runs.HistoryEnabled(),
	}
	code := http.StatusOK
	if a.DB != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := a.DB.Ping(ctx); err != nil {
			a.logger(r).Warn().Err(err).Msg("health: database ping failed")
			body["status"] = "degraded"
			body["database"] = "unreachable"
			code = http.StatusServiceUnavailable
		} else {
			body["database"] = "ok"
		}
	}
	a.json(w, code, body)
}
