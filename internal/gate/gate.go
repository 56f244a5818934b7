// Package gate maps a worker Report and the current Specification to a
// Decision. Evaluation is pure and deterministic: the same inputs always
// give the same Decision, and nothing is read from or written to the store.
//
// The gate never targets StatusApproved. Approval is an external signal
// applied by the coordinator, not something a worker report can earn.
package gate

import (
	"fmt"

	"github.com/fyrsmithlabs/specd/internal/docstore"
	"github.com/fyrsmithlabs/specd/internal/registry"
)

// Outcome is the gate verdict.
type Outcome string

const (
	OutcomeGo      Outcome = "GO"
	OutcomeStop    Outcome = "STOP"
	OutcomeClarify Outcome = "CLARIFY"
	OutcomeFail    Outcome = "FAIL"
)

// Decision is the result of evaluating one Report.
type Decision struct {
	Outcome Outcome
	From    docstore.Status
	// Target is empty when the decision moves nothing.
	Target            docstore.Status
	Origin            docstore.Origin
	RequiredArtifacts []docstore.ArtifactKind
	Reasons           []string
	// AwaitApproval is set when the unit of work is ready and waits for the
	// external approval signal.
	AwaitApproval bool
}

// HasTransition reports whether the decision moves the Specification.
func (d Decision) HasTransition() bool { return d.Target != "" }

// Evaluate decides what a Report means for spec.
func Evaluate(report docstore.Report, spec *docstore.Specification) Decision {
	d := Decision{From: spec.Status}

	if report.SpecID != "" && report.SpecID != spec.ID {
		return d.clarify(fmt.Sprintf("report for %s evaluated against %s", report.SpecID, spec.ID))
	}
	if !report.Status.Valid() {
		return d.clarify(fmt.Sprintf("unknown report status %q", report.Status))
	}
	if report.Status == docstore.ReportBlocked {
		reason := "session blocked"
		if report.Violation != "" {
			reason = "session blocked: " + report.Violation
		}
		return d.clarify(reason)
	}
	if spec.Status.Immutable() {
		return d.clarify(fmt.Sprintf("%s is %s", spec.ID, spec.Status))
	}
	if !roleMayAdvance(report.Role, spec.Status) {
		return d.clarify(fmt.Sprintf("role %q cannot advance %s", report.Role, spec.Status))
	}

	switch spec.Status {
	case docstore.StatusDraft:
		return evalDraft(d, report)
	case docstore.StatusInReview:
		return evalInReview(d, report)
	case docstore.StatusApproved, docstore.StatusInProgress:
		return evalImplementation(d, report, spec)
	case docstore.StatusVerifying:
		return evalVerifying(d, report, spec)
	default:
		return d.clarify(fmt.Sprintf("unknown status %q", spec.Status))
	}
}

func evalDraft(d Decision, report docstore.Report) Decision {
	switch report.Status {
	case docstore.ReportGo:
		return d.move(OutcomeGo, docstore.StatusInReview, "requirements ready for review", docstore.ArtifactRequirements)
	case docstore.ReportStop:
		return d.with(OutcomeStop, findingsOr(report, "reviewer stopped the draft"))
	default:
		return d.clarify(findingsOr(report, "reviewer needs clarification"))
	}
}

func evalInReview(d Decision, report docstore.Report) Decision {
	switch report.Status {
	case docstore.ReportGo:
		d = d.with(OutcomeGo, "review passed; awaiting external approval")
		d.AwaitApproval = true
		return d
	case docstore.ReportStop:
		return d.move(OutcomeStop, docstore.StatusDraft, findingsOr(report, "review found issues"), docstore.ArtifactLearnings)
	case docstore.ReportClarify:
		return d.move(OutcomeClarify, docstore.StatusDraft, findingsOr(report, "review needs clarification"), docstore.ArtifactLearnings)
	default:
		return d.clarify(fmt.Sprintf("report status %s is not meaningful in review", report.Status))
	}
}

func evalImplementation(d Decision, report docstore.Report, spec *docstore.Specification) Decision {
	switch report.Status {
	case docstore.ReportGo:
		return d.with(OutcomeGo, findingsOr(report, "work continues"))
	case docstore.ReportCompleted:
		if report.Role != registry.RoleImplementer {
			return d.with(OutcomeGo, findingsOr(report, "documentation confirmed"))
		}
		if spec.Status != docstore.StatusInProgress {
			return d.clarify(fmt.Sprintf("completion reported while %s", spec.Status))
		}
		// Open tasks are left to the store's transition check, which names
		// them in its MissingArtifactError.
		return d.move(OutcomeGo, docstore.StatusVerifying, "implementation reported complete")
	case docstore.ReportStop:
		return d.with(OutcomeStop, findingsOr(report, "work stopped"))
	default:
		return d.clarify(findingsOr(report, "worker needs clarification"))
	}
}

func evalVerifying(d Decision, report docstore.Report, spec *docstore.Specification) Decision {
	switch report.Status {
	case docstore.ReportGo, docstore.ReportCompleted:
		if failures := Checklist(report, spec); len(failures) > 0 {
			d = d.move(OutcomeFail, docstore.StatusInProgress, failures[0], docstore.ArtifactVerification)
			d.Reasons = failures
			return d
		}
		return d.move(OutcomeGo, docstore.StatusCompleted, "verification passed",
			docstore.ArtifactVerification, docstore.ArtifactReport)
	case docstore.ReportStop:
		return d.move(OutcomeFail, docstore.StatusInProgress, findingsOr(report, "verification stopped"), docstore.ArtifactVerification)
	default:
		return d.clarify(findingsOr(report, "verifier needs clarification"))
	}
}

// Checklist returns every reason report and spec together fail the
// completion checklist, or nil. Staged writes, deletes and task
// completions count as applied. The verification artifact itself is
// recorded by the coordinator from the report's checks.
func Checklist(report docstore.Report, spec *docstore.Specification) []string {
	var failures []string
	if open := openTasks(report, spec); len(open) > 0 {
		failures = append(failures, fmt.Sprintf("incomplete tasks: %v", open))
	}
	if len(report.Checks) == 0 {
		failures = append(failures, "no checks run")
	}
	for _, c := range report.Checks {
		if !c.Passing() {
			failures = append(failures, fmt.Sprintf("check %s: %s", c.Name, c.Result))
		}
	}
	if !presentAfter(report, spec, docstore.ArtifactReport) {
		failures = append(failures, "report artifact missing")
	}
	if presentAfter(report, spec, docstore.ArtifactProgress) {
		failures = append(failures, "progress artifact still present")
	}
	return failures
}

// roleMayAdvance reports whether role's reports are meaningful at status.
func roleMayAdvance(role string, status docstore.Status) bool {
	switch status {
	case docstore.StatusDraft, docstore.StatusInReview:
		return role == registry.RoleReviewer
	case docstore.StatusApproved, docstore.StatusInProgress:
		return role == registry.RoleImplementer || role == registry.RoleDocumentation
	case docstore.StatusVerifying:
		return role == registry.RoleVerifier
	default:
		return false
	}
}

func openTasks(report docstore.Report, spec *docstore.Specification) []string {
	done := make(map[string]bool, len(report.CompletedTasks))
	for _, id := range report.CompletedTasks {
		done[id] = true
	}
	var open []string
	for _, t := range spec.Tasks {
		if !t.Done && !done[t.ID] {
			open = append(open, t.ID)
		}
	}
	return open
}

func presentAfter(report docstore.Report, spec *docstore.Specification, kind docstore.ArtifactKind) bool {
	for _, w := range report.Writes {
		if w.Kind == kind {
			return true
		}
	}
	for _, k := range report.Deletes {
		if k == kind {
			return false
		}
	}
	return spec.HasArtifact(kind)
}

func findingsOr(report docstore.Report, fallback string) string {
	if len(report.Findings) > 0 && report.Findings[0] != "" {
		return report.Findings[0]
	}
	return fallback
}

func (d Decision) with(o Outcome, reason string) Decision {
	d.Outcome = o
	d.Reasons = []string{reason}
	return d
}

func (d Decision) clarify(reason string) Decision {
	return d.with(OutcomeClarify, reason)
}

func (d Decision) move(o Outcome, to docstore.Status, reason string, required ...docstore.ArtifactKind) Decision {
	d = d.with(o, reason)
	d.Target = to
	if e, ok := docstore.LookupEdge(d.From, to); ok {
		d.Origin = e.Origin
	}
	d.RequiredArtifacts = required
	return d
}
