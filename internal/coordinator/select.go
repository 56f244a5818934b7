package coordinator

import (
	"github.com/fyrsmithlabs/specd/internal/docstore"
	"github.com/fyrsmithlabs/specd/internal/registry"
)

// selectRole returns the one role to spawn for spec. Priority is review,
// then documentation, then implementation, then verification; each status
// admits exactly one of them.
//
// await is set when spec is in review and the reviewer already reported
// go for the current revision: nothing is spawned until approval.
func selectRole(spec *docstore.Specification) (role string, await bool) {
	switch spec.Status {
	case docstore.StatusDraft:
		return registry.RoleReviewer, false
	case docstore.StatusInReview:
		last := spec.LatestReport(registry.RoleReviewer)
		if last != nil && last.Status == docstore.ReportGo && last.AppliedRevision == spec.Revision {
			return registry.RoleReviewer, true
		}
		return registry.RoleReviewer, false
	case docstore.StatusApproved, docstore.StatusInProgress:
		if spec.DocCheckedRevision != spec.DocRevision {
			return registry.RoleDocumentation, false
		}
		return registry.RoleImplementer, false
	case docstore.StatusVerifying:
		return registry.RoleVerifier, false
	default:
		return "", false
	}
}

// blockedAt returns the latest report of role when it is blocked and
// nothing changed since it was committed.
func blockedAt(spec *docstore.Specification, role string) *docstore.Report {
	last := spec.LatestReport(role)
	if last == nil || last.Status != docstore.ReportBlocked || last.AppliedRevision != spec.Revision {
		return nil
	}
	return last
}
