package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (a *App) SessionsCreate(w http.ResponseWriter, r *http.Request) {
	view := a.Runs.CreateSession()
	a.logger(r).Debug().Str("session_id", view.ID).Msg("session created")
	a.json(w, http.StatusCreated, view)
}

func (a *App) SessionGet(w http.ResponseWriter, r *http.Request) {
	view, err := a.Runs.Session(chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, view)
}

func (a *App) SessionReset(w http.ResponseWriter, r *http.Request) {
	st, err := a.Runs.Reset(chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, st)
}
