// Package session runs one Worker inside a capability-restricted
// Workspace and turns its outcome into a Report.
//
// # Lifecycle
//
//	created -> executing -> reported
//	                     \-> discarded
//
// A session is single use. Its staged writes reach the store only through
// the Report, which the coordinator commits. A capability violation cancels
// the session immediately and forces a blocked Report with no staged
// effects. A cancelled or timed-out session produces no Report at all.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/specd/internal/checks"
	"github.com/fyrsmithlabs/specd/internal/docstore"
	"github.com/fyrsmithlabs/specd/internal/faults"
	"github.com/fyrsmithlabs/specd/internal/registry"
)

// State is a session lifecycle state.
type State string

const (
	StateCreated   State = "created"
	StateExecuting State = "executing"
	StateReported  State = "reported"
	StateDiscarded State = "discarded"
)

var (
	// ErrAborted is the cancellation cause of an aborted session.
	ErrAborted = faults.New("session aborted", faults.CodeClarify, faults.ClassProtocol)
	// ErrSessionUsed is returned when Run is called twice.
	ErrSessionUsed = errors.New("session already run")
	// ErrSessionClosed is returned by Workspace calls after Run returns.
	ErrSessionClosed = errors.New("session closed")
	// ErrArtifactAbsent is returned by Read for kinds not present.
	ErrArtifactAbsent = faults.New("artifact absent", faults.CodeNotFound, faults.ClassProtocol)
)

// Reader is the read-only store view a session is given.
type Reader interface {
	GetSpecification(ctx context.Context, id string) (*docstore.Specification, error)
}

// Option configures a Session.
type Option func(*Session)

// WithID sets the session id. The default is a random UUID.
func WithID(id string) Option {
	return func(s *Session) { s.id = id }
}

// WithSeq sets the spawn sequence number carried by the Report.
func WithSeq(seq uint64) Option {
	return func(s *Session) { s.seq = seq }
}

// WithChecks sets the tools available to run-checks roles.
func WithChecks(set *checks.Set) Option {
	return func(s *Session) { s.checks = set }
}

// WithLogger sets the session logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Session) { s.logger = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// Session is one worker execution bound to a role and a Specification.
type Session struct {
	id       string
	seq      uint64
	role     registry.Role
	snapshot Snapshot
	reader   Reader
	checks   *checks.Set
	logger   *zap.Logger
	now      func() time.Time

	mu        sync.Mutex
	state     State
	ctx       context.Context
	cancel    context.CancelCauseFunc
	aborted   bool
	closed    bool
	violation error
	staged    staging
	results   []docstore.CheckResult
	started   time.Time
}

// New creates a session for role over a point-in-time copy of spec.
func New(role registry.Role, spec *docstore.Specification, reader Reader, opts ...Option) (*Session, error) {
	if spec == nil {
		return nil, errors.New("specification is required")
	}
	if reader == nil {
		return nil, errors.New("reader is required")
	}
	if role.Name() == "" {
		return nil, fmt.Errorf("%w: empty role", registry.ErrRoleNotFound)
	}
	s := &Session{
		id:     uuid.NewString(),
		role:   role,
		reader: reader,
		logger: zap.NewNop(),
		now:    time.Now,
		state:  StateCreated,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.snapshot = takeSnapshot(role, spec, s.seq)
	s.logger = s.logger.With(
		zap.String("session.id", s.id),
		zap.String("spec.id", spec.ID),
		zap.String("role", role.Name()),
	)
	return s, nil
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Seq returns the spawn sequence number.
func (s *Session) Seq() uint64 { return s.seq }

// Role returns the session role.
func (s *Session) Role() registry.Role { return s.role }

// Snapshot returns a copy of the spawn-time snapshot.
func (s *Session) Snapshot() Snapshot { return s.snapshot.clone() }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// StartedAt returns when Run began, or the zero time.
func (s *Session) StartedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

// Abort cancels the session. Staged writes are discarded and Run returns
// ErrAborted. Abort after Run has returned is a no-op.
func (s *Session) Abort() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.aborted = true
	if s.cancel != nil {
		s.cancel(ErrAborted)
	}
}

// Run executes w and returns its Report.
//
// It returns an error, and no Report, when the session is aborted, when ctx
// ends before the worker returns, or when the worker fails with an
// infrastructure fault. Protocol faults become clarify Reports, consistency
// faults stop Reports and capability violations blocked Reports.
func (s *Session) Run(ctx context.Context, w Worker) (docstore.Report, error) {
	s.mu.Lock()
	if s.state != StateCreated {
		s.mu.Unlock()
		return docstore.Report{}, ErrSessionUsed
	}
	if s.aborted {
		s.state = StateDiscarded
		s.mu.Unlock()
		return docstore.Report{}, ErrAborted
	}
	runCtx, cancel := context.WithCancelCause(ctx)
	s.ctx, s.cancel = runCtx, cancel
	s.state = StateExecuting
	s.started = s.now()
	s.mu.Unlock()
	defer cancel(nil)

	s.logger.Debug("session executing", zap.Uint64("seq", s.seq))

	// The worker may ignore ctx. Run returns when ctx ends regardless and
	// a late result is dropped; the closed Workspace rejects its writes.
	type outcome struct {
		result Result
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := w.Work(runCtx, &Workspace{s: s})
		done <- outcome{result: result, err: err}
	}()

	var (
		result  Result
		workErr error
	)
	select {
	case out := <-done:
		result, workErr = out.result, out.err
	case <-runCtx.Done():
		// A violation cancels the worker, but its result still carries
		// findings. Wait for it unless the caller's context ends too.
		if s.violated() {
			select {
			case out := <-done:
				result, workErr = out.result, out.err
			case <-ctx.Done():
			}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true

	if s.violation != nil {
		s.state = StateReported
		report := s.newReport(docstore.ReportBlocked)
		report.Violation = s.violation.Error()
		report.Findings = append(report.Findings, result.Findings...)
		s.logger.Warn("session blocked by capability violation", zap.Error(s.violation))
		return report, nil
	}
	if runCtx.Err() != nil {
		s.state = StateDiscarded
		cause := context.Cause(runCtx)
		s.logger.Info("session discarded", zap.Error(cause))
		return docstore.Report{}, cause
	}

	var (
		consistency *ConsistencyError
		violation   *registry.CapabilityViolationError
	)
	switch {
	case workErr == nil:
	case errors.As(workErr, &violation):
		s.state = StateReported
		report := s.newReport(docstore.ReportBlocked)
		report.Violation = violation.Error()
		return report, nil
	case errors.As(workErr, &consistency):
		s.state = StateReported
		report := s.newReport(docstore.ReportStop)
		report.Mismatches = append([]docstore.Mismatch(nil), consistency.Mismatches...)
		report.Findings = []string{consistency.Error()}
		return report, nil
	case faults.IsRetryable(workErr):
		s.state = StateDiscarded
		s.logger.Warn("session failed", zap.Error(workErr))
		return docstore.Report{}, workErr
	default:
		s.state = StateReported
		report := s.newReport(docstore.ReportClarify)
		report.Findings = append([]string{workErr.Error()}, result.Findings...)
		return report, nil
	}

	status := result.Status
	if !status.Valid() {
		s.state = StateReported
		report := s.newReport(docstore.ReportClarify)
		report.Findings = append([]string{fmt.Sprintf("worker returned invalid status %q", status)}, result.Findings...)
		return report, nil
	}

	s.state = StateReported
	report := s.newReport(status)
	report.Findings = append([]string(nil), result.Findings...)
	report.Mismatches = append([]docstore.Mismatch(nil), result.Mismatches...)
	if status != docstore.ReportBlocked {
		report.Writes = s.staged.writeList()
		report.Deletes = s.staged.deleteList()
		report.CompletedTasks = append([]string(nil), s.staged.completed...)
	}
	s.logger.Debug("session reported", zap.String("status", string(status)))
	return report, nil
}

func (s *Session) violated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.violation != nil
}

// newReport builds a Report without staged effects. Callers hold s.mu.
func (s *Session) newReport(status docstore.ReportStatus) docstore.Report {
	return docstore.Report{
		ID:               uuid.NewString(),
		SessionID:        s.id,
		Seq:              s.seq,
		Role:             s.role.Name(),
		SpecID:           s.snapshot.SpecID,
		Status:           status,
		Checks:           append([]docstore.CheckResult(nil), s.results...),
		SnapshotRevision: s.snapshot.Revision,
		DocRevision:      s.snapshot.DocRevision,
		CreatedAt:        s.now(),
	}
}
