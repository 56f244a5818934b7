package session

import (
	"fmt"

	"github.com/fyrsmithlabs/specd/internal/checks"
	"github.com/fyrsmithlabs/specd/internal/docstore"
	"github.com/fyrsmithlabs/specd/internal/registry"
)

// Workspace is the only surface a Worker acts through. Every call is
// checked against the session role; the first forbidden call cancels the
// session and every later call returns the same violation.
//
// Writes, deletes and task completions are staged. They become visible to
// later Workspace reads but reach the store only via the Report.
type Workspace struct {
	s *Session
}

// Role returns the session role name.
func (w *Workspace) Role() string { return w.s.role.Name() }

// Snapshot returns the spawn-time snapshot.
func (w *Workspace) Snapshot() Snapshot { return w.s.snapshot.clone() }

// Read returns the current content of kind, overlaid with this session's
// staged changes.
func (w *Workspace) Read(kind docstore.ArtifactKind) (docstore.Artifact, error) {
	s := w.s
	if err := s.guard(registry.CapRead, "read "+string(kind)); err != nil {
		return docstore.Artifact{}, err
	}
	spec, err := s.fresh()
	if err != nil {
		return docstore.Artifact{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if staged, ok := s.staged.lookup(kind); ok {
		return docstore.Artifact{Kind: kind, Content: staged.Content}, nil
	}
	if s.staged.deleted(kind) {
		return docstore.Artifact{}, fmt.Errorf("%w: %s", ErrArtifactAbsent, kind)
	}
	a, ok := spec.Artifact(kind)
	if !ok {
		return docstore.Artifact{}, fmt.Errorf("%w: %s", ErrArtifactAbsent, kind)
	}
	return a, nil
}

// Write stages content for kind. Creating an absent kind needs
// write-new-file; replacing an existing one needs mutate-document.
func (w *Workspace) Write(kind docstore.ArtifactKind, content string) error {
	if !kind.Valid() || kind == docstore.ArtifactFeature {
		return fmt.Errorf("%w: cannot write artifact kind %q", docstore.ErrInvalidInput, kind)
	}
	return w.write(docstore.ArtifactWrite{Kind: kind, Content: content})
}

// WriteFeature stages a named feature record.
func (w *Workspace) WriteFeature(name, content string) error {
	if name == "" {
		return fmt.Errorf("%w: feature artifacts need a name", docstore.ErrInvalidInput)
	}
	return w.write(docstore.ArtifactWrite{Kind: docstore.ArtifactFeature, Name: name, Content: content})
}

func (w *Workspace) write(aw docstore.ArtifactWrite) error {
	s := w.s
	action := "write " + string(aw.Kind)
	if !s.role.Can(registry.CapWriteNew) && !s.role.Can(registry.CapMutateDocument) {
		return s.guard(registry.CapWriteNew, action)
	}
	spec, err := s.fresh()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	capability := registry.CapWriteNew
	if s.staged.exists(spec, aw.Kind, aw.Name) {
		capability = registry.CapMutateDocument
	}
	if err := s.guardLocked(capability, action); err != nil {
		return err
	}
	s.staged.write(aw)
	return nil
}

// Delete stages removal of kind.
func (w *Workspace) Delete(kind docstore.ArtifactKind) error {
	s := w.s
	if err := s.guard(registry.CapMutateDocument, "delete "+string(kind)); err != nil {
		return err
	}
	if !kind.Valid() || kind == docstore.ArtifactFeature {
		return fmt.Errorf("%w: cannot delete artifact kind %q", docstore.ErrInvalidInput, kind)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.staged.remove(kind)
	return nil
}

// CompleteTask proposes marking a task done.
func (w *Workspace) CompleteTask(id string) error {
	s := w.s
	if err := s.guard(registry.CapMutateDocument, "complete task "+id); err != nil {
		return err
	}
	spec, err := s.fresh()
	if err != nil {
		return err
	}
	if _, ok := spec.Task(id); !ok {
		return fmt.Errorf("%w: %s", docstore.ErrTaskNotFound, id)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.staged.complete(id)
	return nil
}

// RunCheck invokes a tool and records its result on the Report.
func (w *Workspace) RunCheck(name string) (docstore.CheckResult, error) {
	s := w.s
	if err := s.guard(registry.CapRunChecks, "run check "+name); err != nil {
		return docstore.CheckResult{}, err
	}
	if s.checks == nil {
		return docstore.CheckResult{}, fmt.Errorf("%w: %q", checks.ErrUnknownCheck, name)
	}
	result, err := s.checks.Run(s.ctx, name)
	if err != nil {
		return docstore.CheckResult{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return docstore.CheckResult{}, ErrSessionClosed
	}
	s.results = append(s.results, result)
	return result, nil
}

// Transition is always a violation. Only the coordinator moves status.
func (w *Workspace) Transition(to docstore.Status) error {
	return w.s.forbid(registry.CapTransition, "transition to "+string(to))
}

// Spawn is always a violation. Only the coordinator spawns sessions.
func (w *Workspace) Spawn(role string) error {
	return w.s.forbid(registry.CapSpawn, "spawn "+role)
}

func (s *Session) fresh() (*docstore.Specification, error) {
	return s.reader.GetSpecification(s.ctx, s.snapshot.SpecID)
}

func (s *Session) guard(c registry.Capability, action string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.guardLocked(c, action)
}

func (s *Session) guardLocked(c registry.Capability, action string) error {
	if s.violation != nil {
		return s.violation
	}
	if s.closed || s.state != StateExecuting {
		return ErrSessionClosed
	}
	if err := s.role.Check(c, action); err != nil {
		s.fail(err)
		return err
	}
	return nil
}

func (s *Session) forbid(c registry.Capability, action string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.violation != nil {
		return s.violation
	}
	if s.closed || s.state != StateExecuting {
		return ErrSessionClosed
	}
	err := &registry.CapabilityViolationError{Role: s.role.Name(), Capability: c, Action: action}
	s.fail(err)
	return err
}

// fail records a violation, drops staged effects and cancels the session.
// Callers hold s.mu.
func (s *Session) fail(err error) {
	s.violation = err
	s.staged = staging{}
	s.cancel(err)
}

// staging accumulates a session's proposed changes in call order.
type staging struct {
	writes    []docstore.ArtifactWrite
	deletes   []docstore.ArtifactKind
	completed []string
}

func (st *staging) write(w docstore.ArtifactWrite) {
	st.deletes = removeKind(st.deletes, w.Kind)
	for i, existing := range st.writes {
		if existing.Kind == w.Kind && existing.Name == w.Name {
			st.writes[i] = w
			return
		}
	}
	st.writes = append(st.writes, w)
}

func (st *staging) remove(kind docstore.ArtifactKind) {
	kept := st.writes[:0]
	for _, w := range st.writes {
		if w.Kind != kind {
			kept = append(kept, w)
		}
	}
	st.writes = kept
	if !st.deleted(kind) {
		st.deletes = append(st.deletes, kind)
	}
}

func (st *staging) complete(id string) {
	for _, existing := range st.completed {
		if existing == id {
			return
		}
	}
	st.completed = append(st.completed, id)
}

func (st *staging) lookup(kind docstore.ArtifactKind) (docstore.ArtifactWrite, bool) {
	for _, w := range st.writes {
		if w.Kind == kind && w.Name == "" {
			return w, true
		}
	}
	return docstore.ArtifactWrite{}, false
}

func (st *staging) deleted(kind docstore.ArtifactKind) bool {
	for _, k := range st.deletes {
		if k == kind {
			return true
		}
	}
	return false
}

// exists reports whether kind (or the named feature) is present once the
// staged changes are applied to spec.
func (st *staging) exists(spec *docstore.Specification, kind docstore.ArtifactKind, name string) bool {
	for _, w := range st.writes {
		if w.Kind == kind && w.Name == name {
			return true
		}
	}
	if kind == docstore.ArtifactFeature {
		for _, f := range spec.Features {
			if f.Name == name {
				return true
			}
		}
		return false
	}
	if st.deleted(kind) {
		return false
	}
	return spec.HasArtifact(kind)
}

func (st *staging) writeList() []docstore.ArtifactWrite {
	return append([]docstore.ArtifactWrite(nil), st.writes...)
}

func (st *staging) deleteList() []docstore.ArtifactKind {
	return append([]docstore.ArtifactKind(nil), st.deletes...)
}

func removeKind(kinds []docstore.ArtifactKind, kind docstore.ArtifactKind) []docstore.ArtifactKind {
	out := kinds[:0]
	for _, k := range kinds {
		if k != kind {
			out = append(out, k)
		}
	}
	return out
}
