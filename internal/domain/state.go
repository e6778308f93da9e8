package domain

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Stage enumerates the pipeline states.
type Stage string

const (
	StageIdle               Stage = "idle"
	StageLockingIdentity    Stage = "locking_identity"
	StageAnalyzing          Stage = "analyzing"
	StageCreatingImages     Stage = "creating_images"
	StageVerifyingFidelity  Stage = "verifying_fidelity"
	StageGeneratingMetadata Stage = "generating_metadata"
	StageComplete           Stage = "complete"
	StageError              Stage = "error"
)

// Terminal reports whether no further transitions follow this stage.
func (s Stage) Terminal() bool {
	return s == StageComplete || s == StageError
}

// Active reports whether a run is executing in this stage.
func (s Stage) Active() bool {
	return s != StageIdle && !s.Terminal()
}

// Label renders the stage as a title-cased phrase, e.g. "Locking Identity".
func (s Stage) Label() string {
	if s == "" {
		return ""
	}
	return cases.Title(language.English).String(strings.ReplaceAll(string(s), "_", " "))
}

// ProcessState is the externally observable snapshot of a run. It is a value;
// every transition produces a new one.
type ProcessState struct {
	Stage           Stage  `json:"stage"`
	ProgressPercent int    `json:"progress_percent"`
	SubStatus       string `json:"sub_status,omitempty"`
	Error           string `json:"error,omitempty"`
}

// IdleState is the reset target.
func IdleState() ProcessState {
	return ProcessState{Stage: StageIdle, ProgressPercent: 0}
}
