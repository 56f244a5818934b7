package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/fyrsmithlabs/specd/internal/docstore"
	"github.com/fyrsmithlabs/specd/internal/faults"
)

// ConsistencyError halts a session whose documentation no longer matches
// the authoritative requirements.
type ConsistencyError struct {
	SpecID     string
	Mismatches []docstore.Mismatch
}

func (e *ConsistencyError) Error() string {
	fields := make([]string, len(e.Mismatches))
	for i, m := range e.Mismatches {
		fields[i] = m.Field
	}
	return fmt.Sprintf("documentation of %s is inconsistent: %s", e.SpecID, strings.Join(fields, ", "))
}

func (e *ConsistencyError) Code() string        { return faults.CodeConsistency }
func (e *ConsistencyError) Class() faults.Class { return faults.ClassConsistency }

// CheckConsistency diffs documentation facts before primary work.
//
// Facts are the `facts:` map of an artifact's YAML frontmatter. The last
// confirmed requirements facts are compared against a fresh read of the
// requirements, then the facts claimed by learnings are compared against
// the same fresh read. Expected is always the fresh requirements value.
// Without a confirmed baseline the snapshot's requirements stand in.
func CheckConsistency(ws *Workspace) ([]docstore.Mismatch, error) {
	current := map[string]string{}
	fresh, err := ws.Read(docstore.ArtifactRequirements)
	switch {
	case err == nil:
		if current, err = docstore.Facts(fresh.Content); err != nil {
			return nil, err
		}
	case errors.Is(err, ErrArtifactAbsent):
	default:
		return nil, err
	}

	var mismatches []docstore.Mismatch
	snap := ws.Snapshot()
	seen, known := snap.ConfirmedFacts, snap.ConfirmedFacts != nil
	if a, ok := snap.Artifact(docstore.ArtifactRequirements); ok && !known {
		if seen, err = docstore.Facts(a.Content); err != nil {
			return nil, err
		}
		known = true
	}
	if known {
		mismatches = append(mismatches, diffFacts("requirements", current, seen)...)
	}

	learnings, err := ws.Read(docstore.ArtifactLearnings)
	switch {
	case err == nil:
		claimed, err := docstore.Facts(learnings.Content)
		if err != nil {
			return nil, err
		}
		for key, value := range claimed {
			if current[key] != value {
				mismatches = append(mismatches, docstore.Mismatch{
					Field:    "learnings." + key,
					Expected: current[key],
					Actual:   value,
				})
			}
		}
	case errors.Is(err, ErrArtifactAbsent):
	default:
		return nil, err
	}

	sort.Slice(mismatches, func(i, j int) bool { return mismatches[i].Field < mismatches[j].Field })
	return mismatches, nil
}

func diffFacts(prefix string, expected, actual map[string]string) []docstore.Mismatch {
	keys := make(map[string]struct{}, len(expected)+len(actual))
	for k := range expected {
		keys[k] = struct{}{}
	}
	for k := range actual {
		keys[k] = struct{}{}
	}
	var out []docstore.Mismatch
	for k := range keys {
		e, a := expected[k], actual[k]
		_, inExpected := expected[k]
		_, inActual := actual[k]
		if e != a || inExpected != inActual {
			out = append(out, docstore.Mismatch{Field: prefix + "." + k, Expected: e, Actual: a})
		}
	}
	return out
}

// ConsistencyWorker runs the document-consistency protocol and, when the
// documentation is consistent, hands over to next. A nil next reports go.
func ConsistencyWorker(next Worker) Worker {
	return WorkerFunc(func(ctx context.Context, ws *Workspace) (Result, error) {
		mismatches, err := CheckConsistency(ws)
		if err != nil {
			return Result{}, err
		}
		if len(mismatches) > 0 {
			return Result{Status: docstore.ReportStop, Mismatches: mismatches},
				&ConsistencyError{SpecID: ws.Snapshot().SpecID, Mismatches: mismatches}
		}
		if next == nil {
			return Result{
				Status:   docstore.ReportGo,
				Findings: []string{fmt.Sprintf("documentation consistent at revision %d", ws.Snapshot().DocRevision)},
			}, nil
		}
		return next.Work(ctx, ws)
	})
}
