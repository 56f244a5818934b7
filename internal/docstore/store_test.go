package docstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/specd/internal/faults"
)

func newMemoryStore(t *testing.T) (*Store, *MemoryBackend) {
	t.Helper()
	backend := NewMemoryBackend()
	store, err := NewStore(backend, zap.NewNop())
	require.NoError(t, err)
	return store, backend
}

// seed stores spec as-is, bypassing transition checks.
func seed(t *testing.T, backend Backend, spec *Specification) {
	t.Helper()
	if spec.Artifacts == nil {
		spec.Artifacts = make(map[ArtifactKind]Artifact)
	}
	if spec.Revision == 0 {
		spec.Revision = 1
	}
	require.NoError(t, backend.Create(spec))
}

func passingVerification(t *testing.T) string {
	t.Helper()
	content, err := VerificationRecord{
		Checks: []CheckResult{{Name: "unit", Result: CheckPass}},
	}.Encode()
	require.NoError(t, err)
	return content
}

func TestStore_CreateSpecificationAssignsMonotonicIDs(t *testing.T) {
	store, _ := newMemoryStore(t)
	ctx := context.Background()

	first, err := store.CreateSpecification(ctx, "Add Login Flow!")
	require.NoError(t, err)
	assert.Equal(t, "0001-add-login-flow", first.ID)
	assert.Equal(t, StatusDraft, first.Status)

	second, err := store.CreateSpecification(ctx, "Add login flow")
	require.NoError(t, err)
	assert.Equal(t, "0002-add-login-flow", second.ID)

	require.NoError(t, store.DeleteSpecification(ctx, second.ID))

	third, err := store.CreateSpecification(ctx, "Another")
	require.NoError(t, err)
	assert.Equal(t, "0003-another", third.ID, "indexes are never reused")
}

func TestStore_CreateSpecificationRejectsEmptyTitle(t *testing.T) {
	store, _ := newMemoryStore(t)
	_, err := store.CreateSpecification(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestStore_CreateSpecificationRetriesOnCollision(t *testing.T) {
	root := t.TempDir()
	backend, err := NewFileBackend(root)
	require.NoError(t, err)
	store, err := NewStore(backend, zap.NewNop())
	require.NoError(t, err)

	// A stray directory holds the next id without a spec document.
	require.NoError(t, os.Mkdir(filepath.Join(root, "0001-hello"), 0700))

	spec, err := store.CreateSpecification(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "0002-hello", spec.ID)
}

func TestStore_CreateSpecificationDependsOnUnknown(t *testing.T) {
	store, _ := newMemoryStore(t)
	_, err := store.CreateSpecification(context.Background(), "x", WithDependsOn("0042-missing"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_ConcurrentCreateYieldsDistinctIDs(t *testing.T) {
	store, _ := newMemoryStore(t)
	ctx := context.Background()

	var (
		mu  sync.Mutex
		ids = map[string]bool{}
		wg  sync.WaitGroup
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			spec, err := store.CreateSpecification(ctx, "same title")
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			ids[spec.ID] = true
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Len(t, ids, 20)
}

func TestStore_GetSpecificationReturnsDeepCopy(t *testing.T) {
	store, _ := newMemoryStore(t)
	ctx := context.Background()
	spec, err := store.CreateSpecification(ctx, "copy", WithTags("a"))
	require.NoError(t, err)

	got, err := store.GetSpecification(ctx, spec.ID)
	require.NoError(t, err)
	got.Metadata.Tags[0] = "tampered"
	got.Artifacts[ArtifactProgress] = Artifact{Kind: ArtifactProgress}

	again, err := store.GetSpecification(ctx, spec.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, again.Metadata.Tags)
	assert.False(t, again.HasArtifact(ArtifactProgress))
}

func TestStore_GetSpecificationNotFound(t *testing.T) {
	store, _ := newMemoryStore(t)
	_, err := store.GetSpecification(context.Background(), "0009-nope")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, faults.CodeNotFound, faults.CodeOf(err))
}

func TestStore_CanceledContext(t *testing.T) {
	store, _ := newMemoryStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := store.CreateSpecification(ctx, "x")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStore_TransitionRequiresRequirements(t *testing.T) {
	store, _ := newMemoryStore(t)
	ctx := context.Background()
	spec, err := store.CreateSpecification(ctx, "review me")
	require.NoError(t, err)

	_, err = store.Transition(ctx, spec.ID, StatusDraft, StatusInReview)
	var missing *MissingArtifactError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, []ArtifactKind{ArtifactRequirements}, missing.Missing)

	require.NoError(t, store.AttachArtifact(ctx, spec.ID, ArtifactRequirements, "# review me"))
	moved, err := store.Transition(ctx, spec.ID, StatusDraft, StatusInReview)
	require.NoError(t, err)
	assert.Equal(t, StatusInReview, moved.Status)
}

func TestStore_TransitionStatusMismatchReportsCurrent(t *testing.T) {
	store, backend := newMemoryStore(t)
	seed(t, backend, &Specification{ID: "0001-x", Status: StatusInProgress})

	_, err := store.Transition(context.Background(), "0001-x", StatusDraft, StatusInReview)
	var invalid *InvalidTransitionError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, StatusInProgress, invalid.Current)
	assert.Equal(t, faults.CodeInvalidTransition, faults.CodeOf(err))
}

// Every (from, to) pair outside the graph is rejected without changing state.
// Every pair not in the graph is rejected. The graph includes two external
// edges into approved: draft -> approved and in_review -> approved, so an
// operator may approve a specification while its review is still open.
func TestStore_TransitionRejectsEveryEdgeOutsideGraph(t *testing.T) {
	ctx := context.Background()
	for _, from := range []Status{StatusDraft, StatusInReview} {
		edge, ok := LookupEdge(from, StatusApproved)
		require.True(t, ok, "%s -> approved", from)
		assert.Equal(t, OriginExternal, edge.Origin)
	}
	for _, from := range AllStatuses() {
		for _, to := range AllStatuses() {
			if _, ok := LookupEdge(from, to); ok {
				continue
			}
			store, backend := newMemoryStore(t)
			seed(t, backend, &Specification{ID: "0001-x", Status: from})

			_, err := store.Transition(ctx, "0001-x", from, to)
			var invalid *InvalidTransitionError
			require.ErrorAs(t, err, &invalid, "%s -> %s", from, to)

			got, err := store.GetSpecification(ctx, "0001-x")
			require.NoError(t, err)
			assert.Equal(t, from, got.Status)
			assert.Equal(t, uint64(1), got.Revision, "rejected transition must not bump revision")
		}
	}
}

func TestStore_TransitionIsNotRepeatable(t *testing.T) {
	store, backend := newMemoryStore(t)
	ctx := context.Background()
	seed(t, backend, &Specification{
		ID:        "0001-x",
		Status:    StatusDraft,
		Artifacts: map[ArtifactKind]Artifact{ArtifactRequirements: {Kind: ArtifactRequirements}},
	})

	_, err := store.Transition(ctx, "0001-x", StatusDraft, StatusInReview)
	require.NoError(t, err)
	before, err := store.GetSpecification(ctx, "0001-x")
	require.NoError(t, err)

	_, err = store.Transition(ctx, "0001-x", StatusDraft, StatusInReview)
	var invalid *InvalidTransitionError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, StatusInReview, invalid.Current)

	after, err := store.GetSpecification(ctx, "0001-x")
	require.NoError(t, err)
	assert.Equal(t, before.Revision, after.Revision)
}

func TestStore_VerifyingRequiresAllTasksDone(t *testing.T) {
	store, backend := newMemoryStore(t)
	seed(t, backend, &Specification{
		ID:     "0001-x",
		Status: StatusInProgress,
		Tasks: []Task{
			{ID: "t1", Done: true},
			{ID: "t2", Index: 1},
			{ID: "t3", Index: 2},
		},
	})

	_, err := store.Transition(context.Background(), "0001-x", StatusInProgress, StatusVerifying)
	var missing *MissingArtifactError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, []string{"t2", "t3"}, missing.IncompleteTasks)
	assert.Equal(t, faults.CodeMissingArtifact, faults.CodeOf(err))
}

func TestStore_CompletionChecklist(t *testing.T) {
	base := func(t *testing.T) *Specification {
		return &Specification{
			ID:     "0001-x",
			Status: StatusVerifying,
			Artifacts: map[ArtifactKind]Artifact{
				ArtifactVerification: {Kind: ArtifactVerification, Content: passingVerification(t)},
				ArtifactReport:       {Kind: ArtifactReport, Content: "done"},
			},
			Tasks: []Task{{ID: "t1", Done: true}},
		}
	}
	ctx := context.Background()

	t.Run("passes", func(t *testing.T) {
		store, backend := newMemoryStore(t)
		seed(t, backend, base(t))
		spec, err := store.Transition(ctx, "0001-x", StatusVerifying, StatusCompleted)
		require.NoError(t, err)
		assert.Equal(t, StatusCompleted, spec.Status)
	})

	t.Run("progress must be gone", func(t *testing.T) {
		store, backend := newMemoryStore(t)
		spec := base(t)
		spec.Artifacts[ArtifactProgress] = Artifact{Kind: ArtifactProgress}
		seed(t, backend, spec)
		_, err := store.Transition(ctx, "0001-x", StatusVerifying, StatusCompleted)
		var missing *MissingArtifactError
		require.ErrorAs(t, err, &missing)
		assert.Equal(t, []ArtifactKind{ArtifactProgress}, missing.Forbidden)
	})

	t.Run("failing check", func(t *testing.T) {
		store, backend := newMemoryStore(t)
		spec := base(t)
		content, err := VerificationRecord{Checks: []CheckResult{
			{Name: "unit", Result: CheckPass},
			{Name: "lint", Result: CheckFail},
			{Name: "e2e", Result: CheckSkip},
		}}.Encode()
		require.NoError(t, err)
		spec.Artifacts[ArtifactVerification] = Artifact{Kind: ArtifactVerification, Content: content}
		seed(t, backend, spec)
		_, err = store.Transition(ctx, "0001-x", StatusVerifying, StatusCompleted)
		var missing *MissingArtifactError
		require.ErrorAs(t, err, &missing)
		assert.Equal(t, []string{"lint", "e2e"}, missing.FailingChecks)
	})

	t.Run("missing report", func(t *testing.T) {
		store, backend := newMemoryStore(t)
		spec := base(t)
		delete(spec.Artifacts, ArtifactReport)
		seed(t, backend, spec)
		_, err := store.Transition(ctx, "0001-x", StatusVerifying, StatusCompleted)
		var missing *MissingArtifactError
		require.ErrorAs(t, err, &missing)
		assert.Equal(t, []ArtifactKind{ArtifactReport}, missing.Missing)
	})
}

func TestStore_CompletedIsImmutableButLockable(t *testing.T) {
	store, backend := newMemoryStore(t)
	ctx := context.Background()
	seed(t, backend, &Specification{
		ID:     "0001-x",
		Status: StatusCompleted,
		Artifacts: map[ArtifactKind]Artifact{
			ArtifactVerification: {Kind: ArtifactVerification, Content: passingVerification(t)},
			ArtifactReport:       {Kind: ArtifactReport},
		},
	})

	err := store.AttachArtifact(ctx, "0001-x", ArtifactLearnings, "late")
	assert.ErrorIs(t, err, ErrImmutable)
	_, err = store.AddTask(ctx, "0001-x", Task{ID: "late"})
	assert.ErrorIs(t, err, ErrImmutable)
	assert.ErrorIs(t, store.DeleteSpecification(ctx, "0001-x"), ErrImmutable)
	_, err = store.GetSpecification(ctx, "0001-x")
	require.NoError(t, err, "a completed specification survives delete")

	spec, err := store.Transition(ctx, "0001-x", StatusCompleted, StatusLocked)
	require.NoError(t, err)
	assert.Equal(t, StatusLocked, spec.Status)

	assert.ErrorIs(t, store.DeleteSpecification(ctx, "0001-x"), ErrImmutable)
}

func TestStore_AttachArtifactBumpsDocRevision(t *testing.T) {
	store, _ := newMemoryStore(t)
	ctx := context.Background()
	spec, err := store.CreateSpecification(ctx, "doc", WithRequirements("# doc"))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), spec.DocRevision)

	require.NoError(t, store.AttachArtifact(ctx, spec.ID, ArtifactProgress, "50%"))
	require.NoError(t, store.AttachArtifact(ctx, spec.ID, ArtifactLearnings, "notes"))

	got, err := store.GetSpecification(ctx, spec.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), got.DocRevision)
	assert.Equal(t, []ArtifactKind{ArtifactLearnings, ArtifactProgress, ArtifactRequirements}, got.ArtifactKinds())

	require.NoError(t, store.RemoveArtifact(ctx, spec.ID, ArtifactProgress))
	require.NoError(t, store.RemoveArtifact(ctx, spec.ID, ArtifactProgress), "removing an absent artifact succeeds")
	kinds, err := store.ListArtifacts(ctx, spec.ID)
	require.NoError(t, err)
	assert.Equal(t, []ArtifactKind{ArtifactLearnings, ArtifactRequirements}, kinds)
}

func TestStore_AttachFeature(t *testing.T) {
	store, _ := newMemoryStore(t)
	ctx := context.Background()
	spec, err := store.CreateSpecification(ctx, "features")
	require.NoError(t, err)

	assert.ErrorIs(t, store.AttachArtifact(ctx, spec.ID, ArtifactFeature, "x"), ErrInvalidInput)
	assert.ErrorIs(t, store.AttachFeature(ctx, spec.ID, " ", "x"), ErrInvalidInput)

	require.NoError(t, store.AttachFeature(ctx, spec.ID, "login", "v1"))
	require.NoError(t, store.AttachFeature(ctx, spec.ID, "logout", "v1"))
	require.NoError(t, store.AttachFeature(ctx, spec.ID, "login", "v2"))

	got, err := store.GetSpecification(ctx, spec.ID)
	require.NoError(t, err)
	require.Len(t, got.Features, 2)
	assert.Equal(t, "login", got.Features[0].Name)
	assert.Equal(t, "v2", got.Features[0].Content)
	assert.True(t, got.HasArtifact(ArtifactFeature))
}

func TestStore_AddTaskForwardReference(t *testing.T) {
	store, _ := newMemoryStore(t)
	ctx := context.Background()
	spec, err := store.CreateSpecification(ctx, "tasks")
	require.NoError(t, err)

	b, err := store.AddTask(ctx, spec.ID, Task{ID: "b", DependsOn: []string{"a"}})
	require.NoError(t, err)
	assert.Equal(t, 0, b.Index)

	a, err := store.AddTask(ctx, spec.ID, Task{ID: "a"})
	require.NoError(t, err)
	assert.Equal(t, 1, a.Index)

	_, err = store.AddTask(ctx, spec.ID, Task{ID: "a"})
	var dup *DuplicateIDError
	assert.ErrorAs(t, err, &dup)
}

func TestStore_AddTaskCycleLeavesTasksUnchanged(t *testing.T) {
	store, _ := newMemoryStore(t)
	ctx := context.Background()
	spec, err := store.CreateSpecification(ctx, "cycle")
	require.NoError(t, err)

	_, err = store.AddTask(ctx, spec.ID, Task{ID: "x", DependsOn: []string{"y"}})
	require.NoError(t, err)
	before, err := store.GetSpecification(ctx, spec.ID)
	require.NoError(t, err)

	_, err = store.AddTask(ctx, spec.ID, Task{ID: "y", DependsOn: []string{"x"}})
	var cyc *CyclicDependencyError
	require.ErrorAs(t, err, &cyc)
	assert.Equal(t, []string{"y", "x", "y"}, cyc.Path)
	assert.Equal(t, faults.CodeCyclicDependency, faults.CodeOf(err))

	after, err := store.GetSpecification(ctx, spec.ID)
	require.NoError(t, err)
	assert.Equal(t, before.Tasks, after.Tasks)
	assert.Equal(t, before.Revision, after.Revision)

	_, err = store.AddTask(ctx, spec.ID, Task{ID: "self", DependsOn: []string{"self"}})
	assert.ErrorAs(t, err, &cyc)
}

func TestStore_AddDependencyRejectsCycle(t *testing.T) {
	store, _ := newMemoryStore(t)
	ctx := context.Background()
	a, err := store.CreateSpecification(ctx, "a")
	require.NoError(t, err)
	b, err := store.CreateSpecification(ctx, "b", WithDependsOn(a.ID))
	require.NoError(t, err)

	err = store.AddDependency(ctx, a.ID, b.ID)
	var cyc *CyclicDependencyError
	require.ErrorAs(t, err, &cyc)
	assert.Equal(t, []string{a.ID, b.ID, a.ID}, cyc.Path)

	got, err := store.GetSpecification(ctx, a.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Metadata.DependsOn)

	require.NoError(t, store.AddDependency(ctx, b.ID, a.ID), "re-adding an existing dependency succeeds")
}

func TestStore_CommitAppliesAtomically(t *testing.T) {
	store, backend := newMemoryStore(t)
	ctx := context.Background()
	seed(t, backend, &Specification{
		ID:     "0001-x",
		Status: StatusInProgress,
		Tasks:  []Task{{ID: "a"}, {ID: "b", Index: 1, DependsOn: []string{"a"}}},
	})

	_, err := store.Commit(ctx, "0001-x", Commit{Report: Report{
		ID:             "r1",
		Role:           "implementer",
		Status:         ReportGo,
		Writes:         []ArtifactWrite{{Kind: ArtifactProgress, Content: "half"}},
		CompletedTasks: []string{"b"},
	}})
	assert.ErrorIs(t, err, ErrDependencyOpen)

	got, err := store.GetSpecification(ctx, "0001-x")
	require.NoError(t, err)
	assert.False(t, got.HasArtifact(ArtifactProgress), "rejected commit must not apply writes")
	assert.Empty(t, got.Reports)
	assert.Equal(t, []string{"a", "b"}, got.IncompleteTasks())

	// Dependencies are judged on the final state of the batch.
	spec, err := store.Commit(ctx, "0001-x", Commit{Report: Report{
		ID:             "r2",
		Role:           "implementer",
		Status:         ReportCompleted,
		CompletedTasks: []string{"b", "a"},
	}})
	require.NoError(t, err)
	assert.Empty(t, spec.IncompleteTasks())
	require.Len(t, spec.Reports, 1)
	assert.Equal(t, "r2", spec.Reports[0].ID)
	assert.Equal(t, spec.Revision, spec.Reports[0].AppliedRevision)
}

func TestStore_CommitRejectsUnknownTask(t *testing.T) {
	store, backend := newMemoryStore(t)
	seed(t, backend, &Specification{ID: "0001-x", Status: StatusInProgress})
	_, err := store.Commit(context.Background(), "0001-x", Commit{Report: Report{ID: "r", CompletedTasks: []string{"ghost"}}})
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestStore_CommitRevisionConflict(t *testing.T) {
	store, _ := newMemoryStore(t)
	ctx := context.Background()
	spec, err := store.CreateSpecification(ctx, "rev")
	require.NoError(t, err)
	require.NoError(t, store.AttachArtifact(ctx, spec.ID, ArtifactLearnings, "concurrent edit"))

	_, err = store.Commit(ctx, spec.ID, Commit{ExpectRevision: spec.Revision, Report: Report{ID: "r"}})
	assert.ErrorIs(t, err, ErrRevisionConflict)
	assert.Equal(t, faults.ClassConsistency, faults.ClassOf(err))
}

func TestStore_CommitDuplicateAndStaleReports(t *testing.T) {
	store, _ := newMemoryStore(t)
	ctx := context.Background()
	spec, err := store.CreateSpecification(ctx, "seq")
	require.NoError(t, err)

	first, err := store.ReserveSequence(ctx, spec.ID)
	require.NoError(t, err)
	second, err := store.ReserveSequence(ctx, spec.ID)
	require.NoError(t, err)
	assert.Equal(t, first+1, second)

	_, err = store.Commit(ctx, spec.ID, Commit{Report: Report{ID: "late", Seq: first}})
	assert.ErrorIs(t, err, ErrStaleReport, "a superseded session's report is discarded")

	_, err = store.Commit(ctx, spec.ID, Commit{Report: Report{ID: "current", Seq: second}})
	require.NoError(t, err)

	_, err = store.Commit(ctx, spec.ID, Commit{Report: Report{ID: "current"}})
	assert.ErrorIs(t, err, ErrDuplicateReport)

	_, err = store.Commit(ctx, spec.ID, Commit{Report: Report{ID: "again", Seq: second}})
	assert.ErrorIs(t, err, ErrStaleReport, "a sequence applies once")
}

func TestStore_CommitMarksDocChecked(t *testing.T) {
	store, _ := newMemoryStore(t)
	ctx := context.Background()
	spec, err := store.CreateSpecification(ctx, "doc", WithRequirements("# doc"))
	require.NoError(t, err)

	got, err := store.Commit(ctx, spec.ID, Commit{
		Report:         Report{ID: "r", Role: "documentation", Status: ReportGo},
		MarkDocChecked: true,
	})
	require.NoError(t, err)
	assert.Equal(t, got.DocRevision, got.DocCheckedRevision)
}

func TestStore_MarkStalledClearedByTransition(t *testing.T) {
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	backend := NewMemoryBackend()
	store, err := NewStore(backend, nil, WithClock(func() time.Time { return clock }))
	require.NoError(t, err)
	ctx := context.Background()

	spec, err := store.CreateSpecification(ctx, "stall", WithRequirements("# stall"))
	require.NoError(t, err)
	require.NoError(t, store.MarkStalled(ctx, spec.ID, "session timeout"))

	got, err := store.GetSpecification(ctx, spec.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Stall)
	assert.Equal(t, "session timeout", got.Stall.Reason)
	assert.Equal(t, clock, got.Stall.At)

	moved, err := store.Transition(ctx, spec.ID, StatusDraft, StatusInReview)
	require.NoError(t, err)
	assert.Nil(t, moved.Stall)
}

func TestStore_ListSpecifications(t *testing.T) {
	store, _ := newMemoryStore(t)
	ctx := context.Background()
	for _, title := range []string{"b", "a", "c"} {
		_, err := store.CreateSpecification(ctx, title)
		require.NoError(t, err)
	}
	specs, err := store.ListSpecifications(ctx)
	require.NoError(t, err)
	require.Len(t, specs, 3)
	assert.Equal(t, "0001-b", specs[0].ID)
	assert.Equal(t, "0003-c", specs[2].ID)
}

func TestStore_CreateFromMarkdown(t *testing.T) {
	store, _ := newMemoryStore(t)
	ctx := context.Background()
	dep, err := store.CreateSpecification(ctx, "base")
	require.NoError(t, err)

	doc := "---\ntitle: Payment Retries\ntags: [billing]\ndepends_on: [" + dep.ID + "]\nfacts:\n  max_retries: \"3\"\n---\n# Payment Retries\n"
	spec, err := store.CreateFromMarkdown(ctx, doc)
	require.NoError(t, err)
	assert.Equal(t, "0002-payment-retries", spec.ID)
	assert.Equal(t, []string{"billing"}, spec.Metadata.Tags)
	assert.Equal(t, []string{dep.ID}, spec.Metadata.DependsOn)
	req, ok := spec.Artifact(ArtifactRequirements)
	require.True(t, ok)
	assert.Equal(t, doc, req.Content)

	plain, err := store.CreateFromMarkdown(ctx, "# Just A Heading\n\nbody")
	require.NoError(t, err)
	assert.Equal(t, "0003-just-a-heading", plain.ID)

	_, err = store.CreateFromMarkdown(ctx, "no title at all")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestNewStore_RequiresBackend(t *testing.T) {
	_, err := NewStore(nil, nil)
	assert.Error(t, err)
}

func TestSlug(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Add Login Flow", "add-login-flow"},
		{"  --weird__chars!! ", "weird-chars"},
		{"", "spec"},
		{"日本語", "spec"},
		{"a very long title that goes on and on and on past the limit", "a-very-long-title-that-goes-on-and-on-and-on-pas"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Slug(tt.in), tt.in)
	}
}

func TestErrorsCarryCodes(t *testing.T) {
	tests := []struct {
		err  error
		code string
	}{
		{&InvalidTransitionError{}, faults.CodeInvalidTransition},
		{&MissingArtifactError{Missing: []ArtifactKind{ArtifactReport}}, faults.CodeMissingArtifact},
		{&CyclicDependencyError{Path: []string{"a", "a"}}, faults.CodeCyclicDependency},
		{&DuplicateIDError{ID: "x"}, faults.CodeDuplicateID},
		{ErrImmutable, faults.CodeImmutable},
		{unavailable("read", errors.New("disk")), faults.CodeUnavailable},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.code, faults.CodeOf(tt.err), tt.err.Error())
	}
	assert.True(t, faults.IsRetryable(unavailable("read", errors.New("disk"))))
}

func TestStore_ConfirmedFacts(t *testing.T) {
	store, _ := newMemoryStore(t)
	ctx := context.Background()
	v1 := "---\nfacts:\n  limit: \"100\"\n---\n"
	v2 := "---\nfacts:\n  limit: \"250\"\n---\n"

	spec, err := store.CreateSpecification(ctx, "facts", WithRequirements(v1))
	require.NoError(t, err)
	assert.Nil(t, spec.ConfirmedFacts)

	spec, err = store.Transition(ctx, spec.ID, StatusDraft, StatusApproved)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"limit": "100"}, spec.ConfirmedFacts, "approval confirms the reviewed requirements")

	// Session writes do not move the baseline.
	spec, err = store.Commit(ctx, spec.ID, Commit{Report: Report{
		ID:     "r1",
		Role:   "implementer",
		Status: ReportGo,
		Writes: []ArtifactWrite{{Kind: ArtifactRequirements, Content: v2}},
	}})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"limit": "100"}, spec.ConfirmedFacts)

	spec, err = store.Commit(ctx, spec.ID, Commit{Report: Report{ID: "r2", Role: "documentation", Status: ReportGo}, MarkDocChecked: true})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"limit": "250"}, spec.ConfirmedFacts)
	assert.Equal(t, spec.DocRevision, spec.DocCheckedRevision)

	require.NoError(t, store.AttachArtifact(ctx, spec.ID, ArtifactRequirements, "no frontmatter"))
	got, err := store.GetSpecification(ctx, spec.ID)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{}, got.ConfirmedFacts, "operator writes are authoritative")

	require.NoError(t, store.RemoveArtifact(ctx, spec.ID, ArtifactRequirements))
	got, err = store.GetSpecification(ctx, spec.ID)
	require.NoError(t, err)
	assert.Nil(t, got.ConfirmedFacts)
}
