package coordinator

import (
	"github.com/fyrsmithlabs/specd/internal/docstore"
	"github.com/fyrsmithlabs/specd/internal/gate"
)

// ActionKind is what an Advance call did, or why it did nothing.
type ActionKind string

const (
	// ActionAdvanced means the Specification changed status.
	ActionAdvanced ActionKind = "advanced"
	// ActionApplied means a report was committed without a status change.
	ActionApplied ActionKind = "applied"
	// ActionStopped means the worker halted with findings and nothing moved.
	ActionStopped ActionKind = "stopped"
	// ActionAwaitApproval means review is done and approval is pending.
	ActionAwaitApproval ActionKind = "await_approval"
	// ActionClarify means an operator decision is required.
	ActionClarify ActionKind = "clarify"
	// ActionStalled means the unit of work stopped without a report.
	ActionStalled ActionKind = "stalled"
	// ActionAborted means the session was aborted by an operator.
	ActionAborted ActionKind = "aborted"
	// ActionBusy means another session holds the lease.
	ActionBusy ActionKind = "busy"
	// ActionTerminal means the Specification is locked.
	ActionTerminal ActionKind = "terminal"
)

// NextAction is the result of one Advance call.
type NextAction struct {
	Kind   ActionKind      `json:"action"`
	SpecID string          `json:"spec_id"`
	From   docstore.Status `json:"from,omitempty"`
	Status docstore.Status `json:"status,omitempty"`
	Role   string          `json:"role,omitempty"`

	SessionID string `json:"session_id,omitempty"`
	ReportID  string `json:"report_id,omitempty"`

	Outcome gate.Outcome `json:"outcome,omitempty"`
	// Reason is a machine-readable reason code for clarify and stalled.
	Reason  string   `json:"reason,omitempty"`
	Reasons []string `json:"reasons,omitempty"`
}

// NeedsHuman reports whether the action waits on an operator.
func (a NextAction) NeedsHuman() bool {
	switch a.Kind {
	case ActionClarify, ActionStalled, ActionAwaitApproval:
		return true
	default:
		return false
	}
}
