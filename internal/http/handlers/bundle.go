package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"pinstrategy/internal/storage"
	"pinstrategy/pkg/zip"
)

// SessionBundle downloads the session's current packs as a zip holding every
// pin image plus packs.json.
func (a *App) SessionBundle(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	packs, err := a.Runs.SessionPacks(sessionID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if len(packs) == 0 {
		a.error(w, http.StatusConflict, "no_packs", "session has no finished content packs")
		return
	}

	assets := make([]zip.Asset, 0, len(packs)+1)
	for i := range packs {
		name := storage.PinFilename(i, packs[i].Image.MimeType())
		assets = append(assets, zip.Asset{Filename: name, Data: packs[i].Image.Data})
		packs[i].ImageURL = name
	}
	manifest, err := json.MarshalIndent(map[string]any{"session_id": sessionID, "packs": packs}, "", "  ")
	if err != nil {
		a.fail(w, r, err)
		return
	}
	assets = append(assets, zip.Asset{Filename: "packs.json", Data: manifest})

	var buf bytes.Buffer
	if err := zip.Write(&buf, assets); err != nil {
		a.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="pins-%s.zip"`, sessionID))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}
