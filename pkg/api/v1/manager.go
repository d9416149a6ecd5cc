package v1

import "time"

// ManagerStep is the phase a manager session is currently working through.
type ManagerStep string

const (
	ManagerStepIdle      ManagerStep = "idle"
	ManagerStepExploring ManagerStep = "exploring"
	ManagerStepTriaging  ManagerStep = "triaging"
	ManagerStepPlanning  ManagerStep = "planning"
	ManagerStepReviewing ManagerStep = "reviewing"
	ManagerStepFixing    ManagerStep = "fixing"
	ManagerStepTesting   ManagerStep = "testing"
	ManagerStepMerging   ManagerStep = "merging"
)

// Valid reports whether s is a known manager step.
func (s ManagerStep) Valid() bool {
	switch s {
	case ManagerStepIdle, ManagerStepExploring, ManagerStepTriaging,
		ManagerStepPlanning, ManagerStepReviewing, ManagerStepFixing,
		ManagerStepTesting, ManagerStepMerging:
		return true
	}
	return false
}

// ManagerPreferences tune how a manager session drives its children.
type ManagerPreferences struct {
	Focus               string `json:"focus,omitempty"`
	SkipExploration     bool   `json:"skipExploration,omitempty"`
	RequirePlanApproval bool   `json:"requirePlanApproval,omitempty"`
}

// ManagerState is the orchestration state attached to a manager-mode session.
type ManagerState struct {
	Branch          string             `json:"branch"`
	Step            ManagerStep        `json:"step"`
	ChildSessionIDs []string           `json:"childSessionIds"`
	Preferences     ManagerPreferences `json:"preferences"`
	Paused          bool               `json:"paused"`
	ResumeAt        *time.Time         `json:"resumeAt,omitempty"`
}

// UpdateStepRequest moves a manager session to a new step.
type UpdateStepRequest struct {
	Step ManagerStep `json:"step" binding:"required"`
}

// PauseRequest pauses a manager session, optionally until a given time.
type PauseRequest struct {
	ResumeAt *time.Time `json:"resumeAt,omitempty"`
}
