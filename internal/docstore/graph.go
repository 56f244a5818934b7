package docstore

// Origin identifies who may trigger a transition edge.
type Origin string

const (
	// OriginWorker edges follow a worker report through the gate.
	OriginWorker Origin = "worker"
	// OriginExternal edges require an explicit external approval.
	OriginExternal Origin = "external"
	// OriginAutomatic edges are taken by the coordinator without a report.
	OriginAutomatic Origin = "automatic"
)

// Edge is one permitted status transition.
type Edge struct {
	From   Status
	To     Status
	Origin Origin
}

var edges = []Edge{
	{StatusDraft, StatusInReview, OriginWorker},
	{StatusInReview, StatusDraft, OriginWorker},
	{StatusDraft, StatusApproved, OriginExternal},
	{StatusInReview, StatusApproved, OriginExternal},
	{StatusApproved, StatusInProgress, OriginAutomatic},
	{StatusInProgress, StatusVerifying, OriginWorker},
	{StatusVerifying, StatusInProgress, OriginWorker},
	{StatusVerifying, StatusCompleted, OriginWorker},
	{StatusCompleted, StatusLocked, OriginAutomatic},
}

// Edges returns the transition graph.
func Edges() []Edge {
	return append([]Edge(nil), edges...)
}

// LookupEdge returns the edge from -> to, if the graph has one.
func LookupEdge(from, to Status) (Edge, bool) {
	for _, e := range edges {
		if e.From == from && e.To == to {
			return e, true
		}
	}
	return Edge{}, false
}

// Successors returns the statuses reachable from s in one step.
func Successors(s Status) []Status {
	var out []Status
	for _, e := range edges {
		if e.From == s {
			out = append(out, e.To)
		}
	}
	return out
}

// checkRequirements verifies the artifact and task requirements of an edge
// against spec. It returns nil when every requirement holds.
func checkRequirements(spec *Specification, e Edge) error {
	missing := &MissingArtifactError{SpecID: spec.ID, From: e.From, To: e.To}
	need := func(kinds ...ArtifactKind) {
		for _, k := range kinds {
			if !spec.HasArtifact(k) {
				missing.Missing = append(missing.Missing, k)
			}
		}
	}
	forbid := func(k ArtifactKind) {
		if spec.HasArtifact(k) {
			missing.Forbidden = append(missing.Forbidden, k)
		}
	}
	tasksDone := func() {
		missing.IncompleteTasks = spec.IncompleteTasks()
	}

	switch {
	case e.From == StatusDraft && e.To == StatusInReview,
		e.To == StatusApproved:
		need(ArtifactRequirements)
	case e.From == StatusInReview && e.To == StatusDraft:
		need(ArtifactLearnings)
	case e.From == StatusInProgress && e.To == StatusVerifying:
		tasksDone()
	case e.From == StatusVerifying && e.To == StatusInProgress:
		need(ArtifactVerification)
	case e.From == StatusVerifying && e.To == StatusCompleted:
		need(ArtifactVerification, ArtifactReport)
		tasksDone()
		forbid(ArtifactProgress)
		if a, ok := spec.Artifact(ArtifactVerification); ok {
			missing.FailingChecks = verificationFailures(a.Content)
		}
	case e.From == StatusCompleted && e.To == StatusLocked:
		need(ArtifactVerification, ArtifactReport)
		forbid(ArtifactProgress)
	}

	if missing.empty() {
		return nil
	}
	return missing
}
