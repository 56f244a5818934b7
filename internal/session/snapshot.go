package session

import (
	"github.com/fyrsmithlabs/specd/internal/docstore"
	"github.com/fyrsmithlabs/specd/internal/registry"
)

// Snapshot is the read-only view of a Specification taken at spawn time.
// It holds only the artifacts the role declares as required inputs.
type Snapshot struct {
	SpecID      string          `json:"spec_id"`
	Title       string          `json:"title"`
	Status      docstore.Status `json:"status"`
	Role        string          `json:"role"`
	RuleSets    []string        `json:"rule_sets"`
	Seq         uint64          `json:"seq"`
	Revision    uint64          `json:"revision"`
	DocRevision uint64          `json:"doc_revision"`
	// ConfirmedFacts are the requirements facts last confirmed consistent.
	ConfirmedFacts map[string]string                           `json:"confirmed_facts,omitempty"`
	Artifacts      map[docstore.ArtifactKind]docstore.Artifact `json:"artifacts"`
	MissingInputs  []docstore.ArtifactKind                     `json:"missing_inputs,omitempty"`
	Tasks          []docstore.Task                             `json:"tasks,omitempty"`
}

func takeSnapshot(role registry.Role, spec *docstore.Specification, seq uint64) Snapshot {
	copied := spec.Clone()
	snap := Snapshot{
		SpecID:         copied.ID,
		Title:          copied.Title,
		Status:         copied.Status,
		Role:           role.Name(),
		RuleSets:       role.RuleSets(),
		Seq:            seq,
		Revision:       copied.Revision,
		DocRevision:    copied.DocRevision,
		ConfirmedFacts: copied.ConfirmedFacts,
		Artifacts:      make(map[docstore.ArtifactKind]docstore.Artifact),
		Tasks:          copied.Tasks,
	}
	for _, kind := range role.RequiredInputs() {
		if a, ok := copied.Artifact(kind); ok {
			snap.Artifacts[kind] = a
		} else {
			snap.MissingInputs = append(snap.MissingInputs, kind)
		}
	}
	return snap
}

// Artifact returns the snapshot copy of kind.
func (s Snapshot) Artifact(kind docstore.ArtifactKind) (docstore.Artifact, bool) {
	a, ok := s.Artifacts[kind]
	return a, ok
}

func (s Snapshot) clone() Snapshot {
	c := s
	c.RuleSets = append([]string(nil), s.RuleSets...)
	c.Artifacts = make(map[docstore.ArtifactKind]docstore.Artifact, len(s.Artifacts))
	for k, a := range s.Artifacts {
		c.Artifacts[k] = a
	}
	if s.ConfirmedFacts != nil {
		c.ConfirmedFacts = make(map[string]string, len(s.ConfirmedFacts))
		for k, v := range s.ConfirmedFacts {
			c.ConfirmedFacts[k] = v
		}
	}
	c.MissingInputs = append([]docstore.ArtifactKind(nil), s.MissingInputs...)
	if s.Tasks != nil {
		c.Tasks = make([]docstore.Task, len(s.Tasks))
		for i, t := range s.Tasks {
			t.DependsOn = append([]string(nil), t.DependsOn...)
			c.Tasks[i] = t
		}
	}
	return c
}
