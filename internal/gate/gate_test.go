package gate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/specd/internal/docstore"
	"github.com/fyrsmithlabs/specd/internal/registry"
)

// roleFor returns the role the coordinator would spawn at status.
func roleFor(status docstore.Status) string {
	switch status {
	case docstore.StatusDraft, docstore.StatusInReview:
		return registry.RoleReviewer
	case docstore.StatusVerifying:
		return registry.RoleVerifier
	default:
		return registry.RoleImplementer
	}
}

func specAt(status docstore.Status) *docstore.Specification {
	return &docstore.Specification{
		ID:     "0001-x",
		Status: status,
		Artifacts: map[docstore.ArtifactKind]docstore.Artifact{
			docstore.ArtifactRequirements: {Kind: docstore.ArtifactRequirements},
			docstore.ArtifactReport:       {Kind: docstore.ArtifactReport},
		},
		Tasks: []docstore.Task{{ID: "t1", Done: true}},
	}
}

func passingReport(status docstore.ReportStatus, role string) docstore.Report {
	return docstore.Report{
		ID:     "r",
		SpecID: "0001-x",
		Role:   role,
		Status: status,
		Checks: []docstore.CheckResult{{Name: "unit", Result: docstore.CheckPass}},
	}
}

// The full Report x Status cross product.
func TestEvaluate_Table(t *testing.T) {
	type want struct {
		outcome Outcome
		target  docstore.Status
	}
	const none = docstore.Status("")
	clarify := want{OutcomeClarify, none}

	table := map[docstore.Status]map[docstore.ReportStatus]want{
		docstore.StatusDraft: {
			docstore.ReportGo:        {OutcomeGo, docstore.StatusInReview},
			docstore.ReportCompleted: clarify,
			docstore.ReportStop:      {OutcomeStop, none},
			docstore.ReportClarify:   clarify,
			docstore.ReportBlocked:   clarify,
		},
		docstore.StatusInReview: {
			docstore.ReportGo:        {OutcomeGo, none},
			docstore.ReportCompleted: clarify,
			docstore.ReportStop:      {OutcomeStop, docstore.StatusDraft},
			docstore.ReportClarify:   {OutcomeClarify, docstore.StatusDraft},
			docstore.ReportBlocked:   clarify,
		},
		docstore.StatusApproved: {
			docstore.ReportGo:        {OutcomeGo, none},
			docstore.ReportCompleted: clarify,
			docstore.ReportStop:      {OutcomeStop, none},
			docstore.ReportClarify:   clarify,
			docstore.ReportBlocked:   clarify,
		},
		docstore.StatusInProgress: {
			docstore.ReportGo:        {OutcomeGo, none},
			docstore.ReportCompleted: {OutcomeGo, docstore.StatusVerifying},
			docstore.ReportStop:      {OutcomeStop, none},
			docstore.ReportClarify:   clarify,
			docstore.ReportBlocked:   clarify,
		},
		docstore.StatusVerifying: {
			docstore.ReportGo:        {OutcomeGo, docstore.StatusCompleted},
			docstore.ReportCompleted: {OutcomeGo, docstore.StatusCompleted},
			docstore.ReportStop:      {OutcomeFail, docstore.StatusInProgress},
			docstore.ReportClarify:   clarify,
			docstore.ReportBlocked:   clarify,
		},
		docstore.StatusCompleted: {
			docstore.ReportGo: clarify, docstore.ReportCompleted: clarify, docstore.ReportStop: clarify,
			docstore.ReportClarify: clarify, docstore.ReportBlocked: clarify,
		},
		docstore.StatusLocked: {
			docstore.ReportGo: clarify, docstore.ReportCompleted: clarify, docstore.ReportStop: clarify,
			docstore.ReportClarify: clarify, docstore.ReportBlocked: clarify,
		},
	}

	for _, status := range docstore.AllStatuses() {
		row, ok := table[status]
		require.True(t, ok, "missing row for %s", status)
		for _, rs := range docstore.AllReportStatuses() {
			expected, ok := row[rs]
			require.True(t, ok, "missing cell %s/%s", status, rs)

			t.Run(string(status)+"/"+string(rs), func(t *testing.T) {
				d := Evaluate(passingReport(rs, roleFor(status)), specAt(status))
				assert.Equal(t, expected.outcome, d.Outcome)
				assert.Equal(t, expected.target, d.Target)
				assert.Equal(t, status, d.From)
				assert.NotEmpty(t, d.Reasons)
				assert.NotEqual(t, docstore.StatusApproved, d.Target, "the gate never approves")
				if d.HasTransition() {
					edge, ok := docstore.LookupEdge(status, d.Target)
					require.True(t, ok, "decision edge must be in the graph")
					assert.Equal(t, edge.Origin, d.Origin)
				}
			})
		}
	}
}

func TestEvaluate_InReviewGoAwaitsApproval(t *testing.T) {
	d := Evaluate(passingReport(docstore.ReportGo, registry.RoleReviewer), specAt(docstore.StatusInReview))
	assert.Equal(t, OutcomeGo, d.Outcome)
	assert.True(t, d.AwaitApproval)
	assert.False(t, d.HasTransition())
}

func TestEvaluate_VerificationChecklist(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*docstore.Report, *docstore.Specification)
		outcome Outcome
		reason  string
	}{
		{
			name:    "passes",
			modify:  func(*docstore.Report, *docstore.Specification) {},
			outcome: OutcomeGo,
		},
		{
			name: "no checks",
			modify: func(r *docstore.Report, _ *docstore.Specification) {
				r.Checks = nil
			},
			outcome: OutcomeFail,
			reason:  "no checks run",
		},
		{
			name: "failing check",
			modify: func(r *docstore.Report, _ *docstore.Specification) {
				r.Checks = append(r.Checks, docstore.CheckResult{Name: "lint", Result: docstore.CheckFail})
			},
			outcome: OutcomeFail,
			reason:  "check lint: fail",
		},
		{
			name: "skip without override fails",
			modify: func(r *docstore.Report, _ *docstore.Specification) {
				r.Checks = append(r.Checks, docstore.CheckResult{Name: "e2e", Result: docstore.CheckSkip})
			},
			outcome: OutcomeFail,
			reason:  "check e2e: skip",
		},
		{
			name: "skip with override passes",
			modify: func(r *docstore.Report, _ *docstore.Specification) {
				r.Checks = append(r.Checks, docstore.CheckResult{Name: "e2e", Result: docstore.CheckSkip, Override: true})
			},
			outcome: OutcomeGo,
		},
		{
			name: "open task",
			modify: func(_ *docstore.Report, s *docstore.Specification) {
				s.Tasks = append(s.Tasks, docstore.Task{ID: "t2", Index: 1})
			},
			outcome: OutcomeFail,
			reason:  "incomplete tasks: [t2]",
		},
		{
			name: "open task completed by the report",
			modify: func(r *docstore.Report, s *docstore.Specification) {
				s.Tasks = append(s.Tasks, docstore.Task{ID: "t2", Index: 1})
				r.CompletedTasks = []string{"t2"}
			},
			outcome: OutcomeGo,
		},
		{
			name: "progress lingers",
			modify: func(_ *docstore.Report, s *docstore.Specification) {
				s.Artifacts[docstore.ArtifactProgress] = docstore.Artifact{Kind: docstore.ArtifactProgress}
			},
			outcome: OutcomeFail,
			reason:  "progress artifact still present",
		},
		{
			name: "progress removed by staged delete",
			modify: func(r *docstore.Report, s *docstore.Specification) {
				s.Artifacts[docstore.ArtifactProgress] = docstore.Artifact{Kind: docstore.ArtifactProgress}
				r.Deletes = []docstore.ArtifactKind{docstore.ArtifactProgress}
			},
			outcome: OutcomeGo,
		},
		{
			name: "report artifact missing",
			modify: func(_ *docstore.Report, s *docstore.Specification) {
				delete(s.Artifacts, docstore.ArtifactReport)
			},
			outcome: OutcomeFail,
			reason:  "report artifact missing",
		},
		{
			name: "report artifact staged",
			modify: func(r *docstore.Report, s *docstore.Specification) {
				delete(s.Artifacts, docstore.ArtifactReport)
				r.Writes = []docstore.ArtifactWrite{{Kind: docstore.ArtifactReport, Content: "summary"}}
			},
			outcome: OutcomeGo,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report := passingReport(docstore.ReportGo, registry.RoleVerifier)
			spec := specAt(docstore.StatusVerifying)
			tt.modify(&report, spec)

			d := Evaluate(report, spec)
			assert.Equal(t, tt.outcome, d.Outcome)
			if tt.outcome == OutcomeFail {
				assert.Equal(t, docstore.StatusInProgress, d.Target)
				assert.Contains(t, d.Reasons, tt.reason)
			} else {
				assert.Equal(t, docstore.StatusCompleted, d.Target)
			}
		})
	}
}

func TestEvaluate_WrongRoleOrSpec(t *testing.T) {
	d := Evaluate(passingReport(docstore.ReportGo, registry.RoleReviewer), specAt(docstore.StatusVerifying))
	assert.Equal(t, OutcomeClarify, d.Outcome)
	assert.False(t, d.HasTransition())

	report := passingReport(docstore.ReportGo, registry.RoleReviewer)
	report.SpecID = "0002-other"
	d = Evaluate(report, specAt(docstore.StatusDraft))
	assert.Equal(t, OutcomeClarify, d.Outcome)

	report = passingReport("bogus", registry.RoleReviewer)
	d = Evaluate(report, specAt(docstore.StatusDraft))
	assert.Equal(t, OutcomeClarify, d.Outcome)
}

func TestEvaluate_DocumentationReports(t *testing.T) {
	d := Evaluate(passingReport(docstore.ReportCompleted, registry.RoleDocumentation), specAt(docstore.StatusInProgress))
	assert.Equal(t, OutcomeGo, d.Outcome)
	assert.False(t, d.HasTransition(), "documentation never moves the specification")

	d = Evaluate(passingReport(docstore.ReportStop, registry.RoleDocumentation), specAt(docstore.StatusApproved))
	assert.Equal(t, OutcomeStop, d.Outcome)
}

func TestEvaluate_BlockedCarriesViolation(t *testing.T) {
	report := passingReport(docstore.ReportBlocked, registry.RoleImplementer)
	report.Violation = "role implementer lacks spawn for spawn verifier"
	d := Evaluate(report, specAt(docstore.StatusInProgress))
	assert.Equal(t, OutcomeClarify, d.Outcome)
	assert.Contains(t, d.Reasons[0], "lacks spawn")
}

func TestEvaluate_IsDeterministic(t *testing.T) {
	report := passingReport(docstore.ReportGo, registry.RoleVerifier)
	spec := specAt(docstore.StatusVerifying)
	assert.Equal(t, Evaluate(report, spec), Evaluate(report, spec))
}
