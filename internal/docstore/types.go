// Package docstore is the durable store of Specifications, their Tasks,
// Artifacts and Report audit trail.
//
// The Store is the single source of truth. Every mutation goes through an
// explicit API that performs an optimistic check (expected status or
// revision) before applying, so updates are linearizable per Specification.
package docstore

import (
	"sort"
	"time"
)

// Status is the lifecycle status of a Specification.
type Status string

const (
	StatusDraft      Status = "draft"
	StatusInReview   Status = "in_review"
	StatusApproved   Status = "approved"
	StatusInProgress Status = "in_progress"
	StatusVerifying  Status = "verifying"
	StatusCompleted  Status = "completed"
	StatusLocked     Status = "locked"
)

// AllStatuses returns every status in lifecycle order.
func AllStatuses() []Status {
	return []Status{
		StatusDraft, StatusInReview, StatusApproved, StatusInProgress,
		StatusVerifying, StatusCompleted, StatusLocked,
	}
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	for _, known := range AllStatuses() {
		if s == known {
			return true
		}
	}
	return false
}

// Immutable reports whether a Specification in s rejects writes.
func (s Status) Immutable() bool {
	return s == StatusCompleted || s == StatusLocked
}

// ArtifactKind names a persisted document.
type ArtifactKind string

const (
	ArtifactRequirements ArtifactKind = "requirements"
	ArtifactLearnings    ArtifactKind = "learnings"
	ArtifactReport       ArtifactKind = "report"
	ArtifactVerification ArtifactKind = "verification"
	ArtifactFeature      ArtifactKind = "feature"

	// ArtifactProgress is ephemeral and must be gone by completion.
	ArtifactProgress ArtifactKind = "progress"
)

// AllArtifactKinds returns every known artifact kind.
func AllArtifactKinds() []ArtifactKind {
	return []ArtifactKind{
		ArtifactRequirements, ArtifactLearnings, ArtifactReport,
		ArtifactVerification, ArtifactFeature, ArtifactProgress,
	}
}

// Valid reports whether k is a known artifact kind.
func (k ArtifactKind) Valid() bool {
	for _, known := range AllArtifactKinds() {
		if k == known {
			return true
		}
	}
	return false
}

// Permanent reports whether k survives completion.
func (k ArtifactKind) Permanent() bool {
	return k.Valid() && k != ArtifactProgress
}

// documentation reports whether writes to k change the documentation
// revision checked by documentation sessions.
func (k ArtifactKind) documentation() bool {
	return k == ArtifactRequirements || k == ArtifactLearnings
}

// Artifact is a named persisted document.
type Artifact struct {
	Kind      ArtifactKind `json:"kind"`
	Name      string       `json:"name,omitempty"`
	Content   string       `json:"content"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// Task is a child unit of work of a Specification.
type Task struct {
	ID          string   `json:"id"`
	Description string   `json:"description"`
	Done        bool     `json:"done"`
	Index       int      `json:"index"`
	DependsOn   []string `json:"depends_on,omitempty"`
}

// Metadata is the frontmatter metadata of a Specification.
type Metadata struct {
	Tags      []string `json:"tags,omitempty"`
	DependsOn []string `json:"depends_on,omitempty"`
}

// Stall records why a unit of work stopped making progress.
type Stall struct {
	Reason string    `json:"reason"`
	At     time.Time `json:"at"`
}

// Specification is the unit of work.
type Specification struct {
	ID        string                    `json:"id"`
	Index     int                       `json:"index"`
	Title     string                    `json:"title"`
	Status    Status                    `json:"status"`
	Metadata  Metadata                  `json:"metadata"`
	Artifacts map[ArtifactKind]Artifact `json:"artifacts"`
	Features  []Artifact                `json:"features,omitempty"`
	Tasks     []Task                    `json:"tasks,omitempty"`
	Reports   []Report                  `json:"reports,omitempty"`

	// Revision increments on every mutation.
	Revision uint64 `json:"revision"`
	// DocRevision increments when requirements or learnings change.
	DocRevision uint64 `json:"doc_revision"`
	// DocCheckedRevision is the DocRevision last confirmed consistent.
	DocCheckedRevision uint64 `json:"doc_checked_revision"`
	// ConfirmedFacts are the requirements facts as last confirmed by a
	// consistent documentation check, an approval or an operator write.
	// Nil means nothing was confirmed yet.
	ConfirmedFacts map[string]string `json:"confirmed_facts"`
	// SessionSeq is the sequence number of the most recently spawned session.
	SessionSeq uint64 `json:"session_seq"`
	// AppliedSeq is the sequence number of the last applied report.
	AppliedSeq uint64 `json:"applied_seq"`

	Stall     *Stall    `json:"stall,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasArtifact reports whether an artifact of kind k is present. For
// ArtifactFeature it reports whether any feature record exists.
func (s *Specification) HasArtifact(k ArtifactKind) bool {
	if k == ArtifactFeature {
		return len(s.Features) > 0
	}
	_, ok := s.Artifacts[k]
	return ok
}

// Artifact returns the artifact of kind k.
func (s *Specification) Artifact(k ArtifactKind) (Artifact, bool) {
	a, ok := s.Artifacts[k]
	return a, ok
}

// ArtifactKinds returns the set of present artifact kinds, sorted.
func (s *Specification) ArtifactKinds() []ArtifactKind {
	kinds := make([]ArtifactKind, 0, len(s.Artifacts)+1)
	for k := range s.Artifacts {
		kinds = append(kinds, k)
	}
	if len(s.Features) > 0 {
		kinds = append(kinds, ArtifactFeature)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// Task returns the task with id.
func (s *Specification) Task(id string) (Task, bool) {
	for _, t := range s.Tasks {
		if t.ID == id {
			return t, true
		}
	}
	return Task{}, false
}

// IncompleteTasks returns the ids of tasks not yet done, in index order.
func (s *Specification) IncompleteTasks() []string {
	var out []string
	for _, t := range s.Tasks {
		if !t.Done {
			out = append(out, t.ID)
		}
	}
	return out
}

// LatestReport returns the most recent report produced by role, or nil.
func (s *Specification) LatestReport(role string) *Report {
	for i := len(s.Reports) - 1; i >= 0; i-- {
		if s.Reports[i].Role == role {
			r := s.Reports[i].Clone()
			return &r
		}
	}
	return nil
}

// Clone returns a deep copy.
func (s *Specification) Clone() *Specification {
	if s == nil {
		return nil
	}
	c := *s
	c.Metadata = Metadata{
		Tags:      cloneStrings(s.Metadata.Tags),
		DependsOn: cloneStrings(s.Metadata.DependsOn),
	}
	c.Artifacts = make(map[ArtifactKind]Artifact, len(s.Artifacts))
	for k, a := range s.Artifacts {
		c.Artifacts[k] = a
	}
	c.Features = append([]Artifact(nil), s.Features...)
	if s.Tasks != nil {
		c.Tasks = make([]Task, len(s.Tasks))
		for i, t := range s.Tasks {
			t.DependsOn = cloneStrings(t.DependsOn)
			c.Tasks[i] = t
		}
	}
	if s.Reports != nil {
		c.Reports = make([]Report, len(s.Reports))
		for i, r := range s.Reports {
			c.Reports[i] = r.Clone()
		}
	}
	if s.ConfirmedFacts != nil {
		c.ConfirmedFacts = make(map[string]string, len(s.ConfirmedFacts))
		for k, v := range s.ConfirmedFacts {
			c.ConfirmedFacts[k] = v
		}
	}
	if s.Stall != nil {
		stall := *s.Stall
		c.Stall = &stall
	}
	return &c
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	return append([]string(nil), in...)
}
