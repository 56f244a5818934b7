package docstore

import "time"

// ReportStatus is the outcome a worker session reports.
type ReportStatus string

const (
	ReportGo        ReportStatus = "go"
	ReportStop      ReportStatus = "stop"
	ReportClarify   ReportStatus = "clarify"
	ReportCompleted ReportStatus = "completed"
	ReportBlocked   ReportStatus = "blocked"
)

// AllReportStatuses returns every report status.
func AllReportStatuses() []ReportStatus {
	return []ReportStatus{ReportGo, ReportStop, ReportClarify, ReportCompleted, ReportBlocked}
}

// Valid reports whether s is a known report status.
func (s ReportStatus) Valid() bool {
	for _, known := range AllReportStatuses() {
		if s == known {
			return true
		}
	}
	return false
}

// CheckOutcome is the result of one tool check.
type CheckOutcome string

const (
	CheckPass CheckOutcome = "pass"
	CheckFail CheckOutcome = "fail"
	CheckSkip CheckOutcome = "skip"
)

// CheckResult is the {name, pass|fail, detail} record returned by a tool.
type CheckResult struct {
	Name   string       `json:"name"`
	Result CheckOutcome `json:"result"`
	Detail string       `json:"detail,omitempty"`
	// Override marks a skip as explicitly accepted.
	Override bool `json:"override,omitempty"`
}

// Passing reports whether the check counts as passed. A skip passes only
// with an explicit override.
func (c CheckResult) Passing() bool {
	switch c.Result {
	case CheckPass:
		return true
	case CheckSkip:
		return c.Override
	default:
		return false
	}
}

// Mismatch is one documentation fact that no longer matches.
type Mismatch struct {
	Field    string `json:"field"`
	Expected string `json:"expected"`
	Actual   string `json:"actual"`
}

// ArtifactWrite is a staged artifact write proposed by a session.
type ArtifactWrite struct {
	Kind    ArtifactKind `json:"kind"`
	Name    string       `json:"name,omitempty"`
	Content string       `json:"content"`
}

// Report is the immutable outcome of one worker session.
type Report struct {
	ID        string       `json:"id"`
	SessionID string       `json:"session_id"`
	Seq       uint64       `json:"seq"`
	Role      string       `json:"role"`
	SpecID    string       `json:"spec_id"`
	Status    ReportStatus `json:"status"`

	Findings   []string      `json:"findings,omitempty"`
	Checks     []CheckResult `json:"checks,omitempty"`
	Mismatches []Mismatch    `json:"mismatches,omitempty"`
	Violation  string        `json:"violation,omitempty"`

	Writes         []ArtifactWrite `json:"writes,omitempty"`
	Deletes        []ArtifactKind  `json:"deletes,omitempty"`
	CompletedTasks []string        `json:"completed_tasks,omitempty"`

	SnapshotRevision uint64 `json:"snapshot_revision"`
	DocRevision      uint64 `json:"doc_revision"`

	// AppliedRevision is the Specification revision the commit produced.
	AppliedRevision uint64    `json:"applied_revision,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// FailingChecks returns the names of checks that do not pass.
func (r Report) FailingChecks() []string {
	var out []string
	for _, c := range r.Checks {
		if !c.Passing() {
			out = append(out, c.Name)
		}
	}
	return out
}

// Clone returns a deep copy.
func (r Report) Clone() Report {
	c := r
	c.Findings = cloneStrings(r.Findings)
	c.Checks = append([]CheckResult(nil), r.Checks...)
	c.Mismatches = append([]Mismatch(nil), r.Mismatches...)
	c.Writes = append([]ArtifactWrite(nil), r.Writes...)
	c.Deletes = append([]ArtifactKind(nil), r.Deletes...)
	c.CompletedTasks = cloneStrings(r.CompletedTasks)
	return c
}
