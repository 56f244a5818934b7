package docstore

import (
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/specd/internal/faults"
)

var (
	ErrNotFound         = faults.New("specification not found", faults.CodeNotFound, faults.ClassProtocol)
	ErrTaskNotFound     = faults.New("task not found", faults.CodeNotFound, faults.ClassProtocol)
	ErrImmutable        = faults.New("specification is immutable", faults.CodeImmutable, faults.ClassProtocol)
	ErrRevisionConflict = faults.New("revision conflict", faults.CodeRevisionConflict, faults.ClassConsistency)
	ErrStaleReport      = faults.New("stale report", faults.CodeRevisionConflict, faults.ClassConsistency)
	ErrDuplicateReport  = faults.New("report already recorded", faults.CodeDuplicateID, faults.ClassProtocol)
	ErrInvalidInput     = faults.New("invalid input", faults.CodeInvalidInput, faults.ClassProtocol)
	ErrDependencyOpen   = faults.New("task dependency not completed", faults.CodeInvalidInput, faults.ClassProtocol)
	ErrUnavailable      = faults.New("store unavailable", faults.CodeUnavailable, faults.ClassInfrastructure)
)

// InvalidTransitionError is returned when a requested edge is not in the
// graph or the Specification is not in the expected source status.
type InvalidTransitionError struct {
	SpecID  string
	From    Status
	To      Status
	Current Status
	Reason  string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition %s -> %s for %s (current %s): %s",
		e.From, e.To, e.SpecID, e.Current, e.Reason)
}

func (e *InvalidTransitionError) Code() string        { return faults.CodeInvalidTransition }
func (e *InvalidTransitionError) Class() faults.Class { return faults.ClassProtocol }

// MissingArtifactError is returned when a transition's requirements are not
// met. Each slice lists one kind of unmet requirement.
type MissingArtifactError struct {
	SpecID          string
	From            Status
	To              Status
	Missing         []ArtifactKind
	IncompleteTasks []string
	FailingChecks   []string
	Forbidden       []ArtifactKind
}

func (e *MissingArtifactError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "missing artifacts: "+joinKinds(e.Missing))
	}
	if len(e.IncompleteTasks) > 0 {
		parts = append(parts, "incomplete tasks: "+strings.Join(e.IncompleteTasks, ", "))
	}
	if len(e.FailingChecks) > 0 {
		parts = append(parts, "failing checks: "+strings.Join(e.FailingChecks, ", "))
	}
	if len(e.Forbidden) > 0 {
		parts = append(parts, "forbidden artifacts present: "+joinKinds(e.Forbidden))
	}
	return fmt.Sprintf("cannot transition %s from %s to %s: %s",
		e.SpecID, e.From, e.To, strings.Join(parts, "; "))
}

func (e *MissingArtifactError) Code() string        { return faults.CodeMissingArtifact }
func (e *MissingArtifactError) Class() faults.Class { return faults.ClassProtocol }

func (e *MissingArtifactError) empty() bool {
	return len(e.Missing) == 0 && len(e.IncompleteTasks) == 0 &&
		len(e.FailingChecks) == 0 && len(e.Forbidden) == 0
}

// CyclicDependencyError is returned when a dependency insertion would close
// a cycle. Path starts and ends at the same node.
type CyclicDependencyError struct {
	SpecID string
	Path   []string
}

func (e *CyclicDependencyError) Error() string {
	return fmt.Sprintf("cyclic dependency in %s: %s", e.SpecID, strings.Join(e.Path, " -> "))
}

func (e *CyclicDependencyError) Code() string        { return faults.CodeCyclicDependency }
func (e *CyclicDependencyError) Class() faults.Class { return faults.ClassProtocol }

// DuplicateIDError is returned when an identifier is already taken.
type DuplicateIDError struct {
	ID string
}

func (e *DuplicateIDError) Error() string {
	return fmt.Sprintf("duplicate id %q", e.ID)
}

func (e *DuplicateIDError) Code() string        { return faults.CodeDuplicateID }
func (e *DuplicateIDError) Class() faults.Class { return faults.ClassProtocol }

func joinKinds(kinds []ArtifactKind) string {
	s := make([]string, len(kinds))
	for i, k := range kinds {
		s[i] = string(k)
	}
	return strings.Join(s, ", ")
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrUnavailable, op, err)
}
