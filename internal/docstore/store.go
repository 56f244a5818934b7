package docstore

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	maxCreateAttempts = 16
	maxSlugLen        = 48
)

var slugInvalid = regexp.MustCompile(`[^a-z0-9]+`)

// Store is the single source of truth for Specifications.
//
// Every operation is a read-modify-write under the backend lock. A mutation
// either applies fully or not at all: callbacks work on a private copy and
// nothing is saved when they fail.
type Store struct {
	mu      sync.Mutex
	backend Backend
	logger  *zap.Logger
	now     func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore returns a Store over backend.
func NewStore(backend Backend, logger *zap.Logger, opts ...Option) (*Store, error) {
	if backend == nil {
		return nil, errors.New("backend is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{backend: backend, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// CreateOption configures CreateSpecification.
type CreateOption func(*Specification)

// WithTags sets the Specification's tags.
func WithTags(tags ...string) CreateOption {
	return func(s *Specification) { s.Metadata.Tags = cloneStrings(tags) }
}

// WithDependsOn declares Specification-level dependencies.
func WithDependsOn(ids ...string) CreateOption {
	return func(s *Specification) { s.Metadata.DependsOn = cloneStrings(ids) }
}

// WithRequirements attaches a requirements artifact at creation.
func WithRequirements(content string) CreateOption {
	return func(s *Specification) {
		s.Artifacts[ArtifactRequirements] = Artifact{Kind: ArtifactRequirements, Content: content, UpdatedAt: s.CreatedAt}
		s.DocRevision++
	}
}

// Slug normalizes a title into the slug part of a Specification id.
func Slug(title string) string {
	slug := slugInvalid.ReplaceAllString(strings.ToLower(title), "-")
	slug = strings.Trim(slug, "-")
	if len(slug) > maxSlugLen {
		slug = strings.TrimRight(slug[:maxSlugLen], "-")
	}
	if slug == "" {
		slug = "spec"
	}
	return slug
}

// FormatID renders the NNNN-slug identifier.
func FormatID(index int, slug string) string {
	return fmt.Sprintf("%04d-%s", index, slug)
}

// CreateSpecification creates a draft Specification with a fresh id. The
// numeric prefix only increases; an id collision moves to the next index.
func (s *Store) CreateSpecification(ctx context.Context, title string, opts ...CreateOption) (*Specification, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, fmt.Errorf("%w: title is required", ErrInvalidInput)
	}

	var created *Specification
	err := s.locked(ctx, func() error {
		ids, err := s.backend.List()
		if err != nil {
			return err
		}
		high, err := s.backend.HighWater()
		if err != nil {
			return err
		}
		for _, id := range ids {
			if n := indexOf(id); n > high {
				high = n
			}
		}

		now := s.now()
		spec := &Specification{
			Title:     title,
			Status:    StatusDraft,
			Artifacts: make(map[ArtifactKind]Artifact),
			Revision:  1,
			CreatedAt: now,
			UpdatedAt: now,
		}
		for _, opt := range opts {
			opt(spec)
		}
		if err := s.checkSpecDeps(spec, ids); err != nil {
			return err
		}

		slug := Slug(title)
		for attempt := 0; attempt < maxCreateAttempts; attempt++ {
			high++
			spec.Index = high
			spec.ID = FormatID(high, slug)
			err := s.backend.Create(spec)
			var dup *DuplicateIDError
			if errors.As(err, &dup) {
				s.logger.Debug("spec id taken, retrying", zap.String("spec.id", spec.ID))
				continue
			}
			if err != nil {
				return err
			}
			if err := s.backend.SetHighWater(high); err != nil {
				return err
			}
			created = spec
			return nil
		}
		return &DuplicateIDError{ID: spec.ID}
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("spec created", zap.String("spec.id", created.ID), zap.String("title", title))
	return created.Clone(), nil
}

// CreateFromMarkdown creates a Specification from a Markdown document with
// YAML frontmatter. The whole document becomes the requirements artifact.
func (s *Store) CreateFromMarkdown(ctx context.Context, doc string) (*Specification, error) {
	fm, body, err := ParseFrontmatter(doc)
	if err != nil && !errors.Is(err, ErrNoFrontmatter) {
		return nil, err
	}
	title := fm.Title
	if title == "" {
		title = firstHeading(body)
	}
	return s.CreateSpecification(ctx, title,
		WithTags(fm.Tags...),
		WithDependsOn(fm.DependsOn...),
		WithRequirements(doc),
	)
}

func firstHeading(body string) string {
	for _, line := range strings.Split(body, "\n") {
		if strings.HasPrefix(line, "# ") {
			return strings.TrimSpace(strings.TrimPrefix(line, "# "))
		}
	}
	return ""
}

// GetSpecification returns a deep copy of the Specification with id.
func (s *Store) GetSpecification(ctx context.Context, id string) (*Specification, error) {
	var spec *Specification
	err := s.locked(ctx, func() error {
		var err error
		spec, err = s.backend.Load(id)
		return err
	})
	return spec, err
}

// ListSpecifications returns every Specification ordered by id.
func (s *Store) ListSpecifications(ctx context.Context) ([]*Specification, error) {
	var out []*Specification
	err := s.locked(ctx, func() error {
		ids, err := s.backend.List()
		if err != nil {
			return err
		}
		out = make([]*Specification, 0, len(ids))
		for _, id := range ids {
			spec, err := s.backend.Load(id)
			if err != nil {
				return err
			}
			out = append(out, spec)
		}
		return nil
	})
	return out, err
}

// DeleteSpecification removes a Specification. Completed and locked
// Specifications are permanent.
func (s *Store) DeleteSpecification(ctx context.Context, id string) error {
	err := s.locked(ctx, func() error {
		spec, err := s.backend.Load(id)
		if err != nil {
			return err
		}
		if spec.Status.Immutable() {
			return fmt.Errorf("%w: %s is %s", ErrImmutable, id, spec.Status)
		}
		return s.backend.Remove(id)
	})
	if err == nil {
		s.logger.Info("spec deleted", zap.String("spec.id", id))
	}
	return err
}

// Transition moves a Specification from -> to. The edge must exist, the
// Specification must currently be in from, and the edge's requirements
// must hold.
func (s *Store) Transition(ctx context.Context, id string, from, to Status) (*Specification, error) {
	var out *Specification
	err := s.mutate(ctx, id, func(spec *Specification) error {
		edge, ok := LookupEdge(from, to)
		if !ok {
			return &InvalidTransitionError{SpecID: id, From: from, To: to, Current: spec.Status, Reason: "edge not in graph"}
		}
		if spec.Status != from {
			return &InvalidTransitionError{SpecID: id, From: from, To: to, Current: spec.Status, Reason: "status mismatch"}
		}
		if err := checkRequirements(spec, edge); err != nil {
			return err
		}
		spec.Status = to
		spec.Stall = nil
		if to == StatusApproved {
			confirmFacts(spec)
		}
		out = spec
		return nil
	}, true)
	if err != nil {
		return nil, err
	}
	s.logger.Info("spec transitioned",
		zap.String("spec.id", id), zap.String("from", string(from)), zap.String("to", string(to)))
	return out.Clone(), nil
}

// AttachArtifact writes an artifact of a singleton kind. Use AttachFeature
// for feature records.
func (s *Store) AttachArtifact(ctx context.Context, id string, kind ArtifactKind, content string) error {
	if kind == ArtifactFeature {
		return fmt.Errorf("%w: feature artifacts need a name", ErrInvalidInput)
	}
	return s.mutate(ctx, id, func(spec *Specification) error {
		if err := s.applyWrite(spec, ArtifactWrite{Kind: kind, Content: content}); err != nil {
			return err
		}
		if kind == ArtifactRequirements {
			confirmFacts(spec)
		}
		return nil
	}, false)
}

// AttachFeature writes a named feature record. Rewriting an existing name
// replaces it in place.
func (s *Store) AttachFeature(ctx context.Context, id, name, content string) error {
	return s.mutate(ctx, id, func(spec *Specification) error {
		return s.applyWrite(spec, ArtifactWrite{Kind: ArtifactFeature, Name: name, Content: content})
	}, false)
}

// RemoveArtifact deletes an artifact. Removing an absent artifact succeeds.
func (s *Store) RemoveArtifact(ctx context.Context, id string, kind ArtifactKind) error {
	return s.mutate(ctx, id, func(spec *Specification) error {
		if err := applyDelete(spec, kind); err != nil {
			return err
		}
		if kind == ArtifactRequirements {
			confirmFacts(spec)
		}
		return nil
	}, false)
}

// ListArtifacts returns the kinds present on a Specification.
func (s *Store) ListArtifacts(ctx context.Context, id string) ([]ArtifactKind, error) {
	spec, err := s.GetSpecification(ctx, id)
	if err != nil {
		return nil, err
	}
	return spec.ArtifactKinds(), nil
}

// AddTask inserts a task. Dependencies may name tasks not yet inserted, but
// an insertion that closes a cycle is rejected and leaves the task list
// unchanged.
func (s *Store) AddTask(ctx context.Context, id string, task Task) (Task, error) {
	task.ID = strings.TrimSpace(task.ID)
	if task.ID == "" {
		return Task{}, fmt.Errorf("%w: task id is required", ErrInvalidInput)
	}
	var added Task
	err := s.mutate(ctx, id, func(spec *Specification) error {
		if _, exists := spec.Task(task.ID); exists {
			return &DuplicateIDError{ID: task.ID}
		}
		graph := taskGraph(spec.Tasks)
		graph[task.ID] = task.DependsOn
		if path := findCycle(graph, task.ID); path != nil {
			return &CyclicDependencyError{SpecID: id, Path: path}
		}
		added = Task{
			ID:          task.ID,
			Description: task.Description,
			Index:       len(spec.Tasks),
			DependsOn:   cloneStrings(task.DependsOn),
		}
		spec.Tasks = append(spec.Tasks, added)
		return nil
	}, false)
	if err != nil {
		return Task{}, err
	}
	return added, nil
}

// AddDependency declares that id depends on dep. Cycles across
// Specifications are rejected.
func (s *Store) AddDependency(ctx context.Context, id, dep string) error {
	return s.locked(ctx, func() error {
		spec, err := s.backend.Load(id)
		if err != nil {
			return err
		}
		if spec.Status.Immutable() {
			return fmt.Errorf("%w: %s", ErrImmutable, id)
		}
		for _, existing := range spec.Metadata.DependsOn {
			if existing == dep {
				return nil
			}
		}
		ids, err := s.backend.List()
		if err != nil {
			return err
		}
		spec.Metadata.DependsOn = append(spec.Metadata.DependsOn, dep)
		if err := s.checkSpecDeps(spec, ids); err != nil {
			return err
		}
		s.touch(spec)
		return s.backend.Save(spec)
	})
}

// checkSpecDeps verifies spec's dependencies exist and form no cycle with
// the stored Specifications.
func (s *Store) checkSpecDeps(spec *Specification, ids []string) error {
	if len(spec.Metadata.DependsOn) == 0 {
		return nil
	}
	known := make(map[string]bool, len(ids))
	for _, id := range ids {
		known[id] = true
	}
	for _, dep := range spec.Metadata.DependsOn {
		if !known[dep] {
			return fmt.Errorf("%w: dependency %s", ErrNotFound, dep)
		}
	}
	if spec.ID == "" {
		// A new Specification cannot be depended upon yet.
		return nil
	}
	graph := make(map[string][]string, len(ids))
	for _, other := range ids {
		if other == spec.ID {
			continue
		}
		o, err := s.backend.Load(other)
		if err != nil {
			return err
		}
		graph[other] = o.Metadata.DependsOn
	}
	graph[spec.ID] = spec.Metadata.DependsOn
	if path := findCycle(graph, spec.ID); path != nil {
		return &CyclicDependencyError{SpecID: spec.ID, Path: path}
	}
	return nil
}

// ReserveSequence allocates the sequence number of the next session.
// Reports carrying an older sequence are rejected by Commit.
func (s *Store) ReserveSequence(ctx context.Context, id string) (uint64, error) {
	var seq uint64
	err := s.mutate(ctx, id, func(spec *Specification) error {
		spec.SessionSeq++
		seq = spec.SessionSeq
		return nil
	}, false)
	return seq, err
}

// Commit describes one all-or-nothing application of a session's outcome.
type Commit struct {
	// ExpectRevision, when non-zero, must equal the stored revision.
	ExpectRevision uint64
	// Report is appended to the audit trail. Its staged writes, deletes and
	// task completions are applied.
	Report Report
	// Extra holds writes contributed by the coordinator.
	Extra []ArtifactWrite
	// MarkDocChecked records the resulting documentation revision as
	// consistent.
	MarkDocChecked bool
}

// Commit applies a session's outcome atomically.
func (s *Store) Commit(ctx context.Context, id string, c Commit) (*Specification, error) {
	if c.Report.ID == "" {
		return nil, fmt.Errorf("%w: report id is required", ErrInvalidInput)
	}
	var out *Specification
	err := s.mutate(ctx, id, func(spec *Specification) error {
		if c.ExpectRevision != 0 && spec.Revision != c.ExpectRevision {
			return fmt.Errorf("%w: %s at revision %d, expected %d", ErrRevisionConflict, id, spec.Revision, c.ExpectRevision)
		}
		for _, r := range spec.Reports {
			if r.ID == c.Report.ID {
				return fmt.Errorf("%w: %s", ErrDuplicateReport, r.ID)
			}
		}
		if seq := c.Report.Seq; seq != 0 && (seq != spec.SessionSeq || seq <= spec.AppliedSeq) {
			return fmt.Errorf("%w: seq %d, current %d", ErrStaleReport, seq, spec.SessionSeq)
		}

		writes := append(append([]ArtifactWrite(nil), c.Report.Writes...), c.Extra...)
		for _, w := range writes {
			if err := s.applyWrite(spec, w); err != nil {
				return err
			}
		}
		for _, k := range c.Report.Deletes {
			if err := applyDelete(spec, k); err != nil {
				return err
			}
		}
		if err := completeTasks(spec, c.Report.CompletedTasks); err != nil {
			return err
		}
		if c.MarkDocChecked {
			spec.DocCheckedRevision = spec.DocRevision
			confirmFacts(spec)
		}
		applied := c.Report.Clone()
		applied.AppliedRevision = spec.Revision + 1
		spec.Reports = append(spec.Reports, applied)
		if c.Report.Seq > spec.AppliedSeq {
			spec.AppliedSeq = c.Report.Seq
		}
		spec.Stall = nil
		out = spec
		return nil
	}, false)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("report committed",
		zap.String("spec.id", id),
		zap.String("report.id", c.Report.ID),
		zap.String("role", c.Report.Role),
		zap.String("status", string(c.Report.Status)))
	return out.Clone(), nil
}

// MarkStalled records that work on a Specification stopped without a
// report.
func (s *Store) MarkStalled(ctx context.Context, id, reason string) error {
	err := s.mutate(ctx, id, func(spec *Specification) error {
		spec.Stall = &Stall{Reason: reason, At: s.now()}
		return nil
	}, false)
	if err == nil {
		s.logger.Warn("spec stalled", zap.String("spec.id", id), zap.String("reason", reason))
	}
	return err
}

// locked runs fn while holding the store and backend locks.
func (s *Store) locked(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	unlock, err := s.backend.Lock()
	if err != nil {
		return err
	}
	defer unlock()
	return fn()
}

// confirmFacts records the current requirements facts as the consistency
// baseline. Absent or unparseable requirements clear it.
func confirmFacts(spec *Specification) {
	spec.ConfirmedFacts = nil
	a, ok := spec.Artifact(ArtifactRequirements)
	if !ok {
		return
	}
	if facts, err := Facts(a.Content); err == nil {
		spec.ConfirmedFacts = facts
	}
}

// mutate loads id, applies fn to a private copy and saves it. Immutable
// Specifications reject the mutation unless it is a transition, which is
// bound by the graph instead.
func (s *Store) mutate(ctx context.Context, id string, fn func(*Specification) error, transition bool) error {
	return s.locked(ctx, func() error {
		spec, err := s.backend.Load(id)
		if err != nil {
			return err
		}
		if spec.Status.Immutable() && !transition {
			return fmt.Errorf("%w: %s is %s", ErrImmutable, id, spec.Status)
		}
		if err := fn(spec); err != nil {
			return err
		}
		s.touch(spec)
		return s.backend.Save(spec)
	})
}

func (s *Store) touch(spec *Specification) {
	spec.Revision++
	spec.UpdatedAt = s.now()
}

func (s *Store) applyWrite(spec *Specification, w ArtifactWrite) error {
	if !w.Kind.Valid() {
		return fmt.Errorf("%w: unknown artifact kind %q", ErrInvalidInput, w.Kind)
	}
	now := s.now()
	if w.Kind == ArtifactFeature {
		name := strings.TrimSpace(w.Name)
		if name == "" {
			return fmt.Errorf("%w: feature artifacts need a name", ErrInvalidInput)
		}
		a := Artifact{Kind: ArtifactFeature, Name: name, Content: w.Content, UpdatedAt: now}
		for i, f := range spec.Features {
			if f.Name == name {
				spec.Features[i] = a
				return nil
			}
		}
		spec.Features = append(spec.Features, a)
		return nil
	}
	spec.Artifacts[w.Kind] = Artifact{Kind: w.Kind, Content: w.Content, UpdatedAt: now}
	if w.Kind.documentation() {
		spec.DocRevision++
	}
	return nil
}

func applyDelete(spec *Specification, kind ArtifactKind) error {
	if !kind.Valid() {
		return fmt.Errorf("%w: unknown artifact kind %q", ErrInvalidInput, kind)
	}
	if kind == ArtifactFeature {
		return fmt.Errorf("%w: feature records cannot be deleted", ErrInvalidInput)
	}
	if _, ok := spec.Artifacts[kind]; !ok {
		return nil
	}
	delete(spec.Artifacts, kind)
	if kind.documentation() {
		spec.DocRevision++
	}
	return nil
}

// completeTasks marks ids done. Dependencies are checked against the state
// after the whole batch applies.
func completeTasks(spec *Specification, ids []string) error {
	for _, id := range ids {
		found := false
		for i := range spec.Tasks {
			if spec.Tasks[i].ID == id {
				spec.Tasks[i].Done = true
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
		}
	}
	if open := openDependencies(spec, ids); len(open) > 0 {
		return fmt.Errorf("%w: %s", ErrDependencyOpen, strings.Join(open, ", "))
	}
	return nil
}

func indexOf(id string) int {
	prefix, _, ok := strings.Cut(id, "-")
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(prefix)
	if err != nil {
		return 0
	}
	return n
}
