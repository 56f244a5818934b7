// Package coordinator drives Specifications through their lifecycle.
//
// Each Advance call spawns at most one Worker Session for a Specification,
// evaluates its Report through the gate, commits the Report and applies the
// resulting transition. All status changes happen here; workers never hold
// the transition or spawn capabilities.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/specd/internal/checks"
	"github.com/fyrsmithlabs/specd/internal/docstore"
	"github.com/fyrsmithlabs/specd/internal/faults"
	"github.com/fyrsmithlabs/specd/internal/gate"
	"github.com/fyrsmithlabs/specd/internal/lease"
	"github.com/fyrsmithlabs/specd/internal/notify"
	"github.com/fyrsmithlabs/specd/internal/registry"
	"github.com/fyrsmithlabs/specd/internal/session"
)

const instrumentationName = "github.com/fyrsmithlabs/specd/internal/coordinator"

// ErrNoWorker is returned when no worker is configured for the selected
// role.
var ErrNoWorker = faults.New("no worker configured", faults.CodeNotFound, faults.ClassProtocol)

// Store is the document store the coordinator drives.
type Store interface {
	GetSpecification(ctx context.Context, id string) (*docstore.Specification, error)
	ListSpecifications(ctx context.Context) ([]*docstore.Specification, error)
	Transition(ctx context.Context, id string, from, to docstore.Status) (*docstore.Specification, error)
	ReserveSequence(ctx context.Context, id string) (uint64, error)
	Commit(ctx context.Context, id string, c docstore.Commit) (*docstore.Specification, error)
	MarkStalled(ctx context.Context, id, reason string) error
}

// Config holds coordinator settings.
type Config struct {
	// SessionTimeout bounds one worker session. Default: 10 minutes.
	SessionTimeout time.Duration
	// MaxConcurrent bounds sessions started by Run. Default: 4.
	MaxConcurrent int
	// PollInterval is how often Run scans for work. Default: 5 seconds.
	PollInterval time.Duration
	// RatePerSecond paces session starts in Run. Default: 2.
	RatePerSecond float64
	// Burst is the rate limiter burst. Default: 1.
	Burst int

	Retry RetryConfig
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.SessionTimeout <= 0 {
		c.SessionTimeout = 10 * time.Minute
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 4
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.RatePerSecond <= 0 {
		c.RatePerSecond = 2
	}
	if c.Burst <= 0 {
		c.Burst = 1
	}
	c.Retry.ApplyDefaults()
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithWorker sets the worker spawned for role. The documentation role
// always runs the consistency protocol first; its worker, if any, runs
// after a consistent check.
func WithWorker(role string, w session.Worker) Option {
	return func(c *Coordinator) { c.workers[role] = w }
}

// WithChecks sets the tools available to run-checks roles.
func WithChecks(set *checks.Set) Option {
	return func(c *Coordinator) { c.checks = set }
}

// WithLeaser sets the lease manager. The default is in-process.
func WithLeaser(l lease.Leaser) Option {
	return func(c *Coordinator) { c.leases = l }
}

// WithNotifier sets the operator notifier and decision log.
func WithNotifier(n notify.Notifier) Option {
	return func(c *Coordinator) { c.notifier = n }
}

// WithRegistry sets the role registry.
func WithRegistry(r *registry.Registry) Option {
	return func(c *Coordinator) { c.roles = r }
}

// WithTracer sets the tracer for Advance spans. The default is the global
// provider's.
func WithTracer(t trace.Tracer) Option {
	return func(c *Coordinator) { c.tracer = t }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// Coordinator spawns sessions and applies their outcomes.
type Coordinator struct {
	cfg      Config
	store    Store
	roles    *registry.Registry
	workers  map[string]session.Worker
	checks   *checks.Set
	leases   lease.Leaser
	notifier notify.Notifier
	metrics  *Metrics
	logger   *zap.Logger
	tracer   trace.Tracer
	now      func() time.Time

	mu     sync.Mutex
	active map[string]*session.Session
	// holds maps a Specification to the revision at which it last needed
	// an operator. Run skips it until the revision moves.
	holds map[string]uint64
}

// New creates a Coordinator over store.
func New(cfg Config, store Store, logger *zap.Logger, opts ...Option) (*Coordinator, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.ApplyDefaults()

	c := &Coordinator{
		cfg:      cfg,
		store:    store,
		roles:    registry.New(),
		workers:  make(map[string]session.Worker),
		checks:   checks.NewSet(),
		leases:   lease.NewMemory(),
		notifier: notify.Nop{},
		metrics:  NewMetrics(),
		logger:   logger.Named("coordinator"),
		tracer:   otel.Tracer(instrumentationName),
		now:      time.Now,
		active:   make(map[string]*session.Session),
		holds:    make(map[string]uint64),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Advance performs one step of work on the Specification id.
//
// Errors are returned only for faults the caller must handle: unknown ids,
// a missing worker, or a cancelled ctx. Outcomes that need an operator are
// reported through the NextAction and the Notifier instead.
func (c *Coordinator) Advance(ctx context.Context, id string) (NextAction, error) {
	ctx, span := c.tracer.Start(ctx, "coordinator.advance",
		trace.WithAttributes(attribute.String("spec.id", id)))
	defer span.End()

	l, err := c.leases.Acquire(ctx, id)
	if errors.Is(err, lease.ErrLeaseHeld) {
		span.SetAttributes(attribute.String("action", string(ActionBusy)))
		return NextAction{Kind: ActionBusy, SpecID: id, Reason: faults.CodeLeaseHeld}, nil
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return NextAction{}, fmt.Errorf("acquire lease %s: %w", id, err)
	}
	defer func() {
		if err := l.Release(); err != nil {
			c.logger.Warn("lease release failed", zap.String("spec.id", id), zap.Error(err))
		}
	}()

	action, err := c.advance(ctx, id)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return action, err
	}
	if action.NeedsHuman() || action.Kind == ActionStopped || action.Kind == ActionAborted {
		c.hold(ctx, id)
	}
	span.SetAttributes(
		attribute.String("action", string(action.Kind)),
		attribute.String("role", action.Role),
		attribute.String("status", string(action.Status)),
	)
	c.logger.Info("advance",
		zap.String("spec.id", id),
		zap.String("action", string(action.Kind)),
		zap.String("role", action.Role),
		zap.String("from", string(action.From)),
		zap.String("status", string(action.Status)),
		zap.String("reason", action.Reason),
	)
	return action, nil
}

func (c *Coordinator) advance(ctx context.Context, id string) (NextAction, error) {
	action := NextAction{SpecID: id}

	spec, err := c.load(ctx, id)
	if err != nil {
		return c.escalate(ctx, action, err)
	}
	action.From, action.Status = spec.Status, spec.Status

	switch spec.Status {
	case docstore.StatusLocked:
		action.Kind = ActionTerminal
		return action, nil
	case docstore.StatusCompleted:
		return c.lock(ctx, action)
	}

	roleName, await := selectRole(spec)
	action.Role = roleName
	if await {
		action.Kind = ActionAwaitApproval
		action.Reasons = []string{"review passed, waiting for approval"}
		c.notify(ctx, notify.KindAwaitApproval, action)
		return action, nil
	}
	if last := blockedAt(spec, roleName); last != nil {
		action.ReportID = last.ID
		return c.clarify(ctx, action, faults.CodeCapabilityViolation,
			"blocked report is not retried: "+last.Violation), nil
	}

	role, err := c.roles.Resolve(roleName)
	if err != nil {
		return NextAction{}, err
	}
	worker, err := c.worker(roleName)
	if err != nil {
		return NextAction{}, err
	}

	if roleName == registry.RoleImplementer && spec.Status == docstore.StatusApproved {
		moved, err := c.transition(ctx, id, docstore.StatusApproved, docstore.StatusInProgress)
		if err != nil {
			return c.escalate(ctx, action, err)
		}
		action.Status = moved.Status
	}

	var seq uint64
	err = c.retry(ctx, "reserve sequence", func() (err error) {
		seq, err = c.store.ReserveSequence(ctx, id)
		return err
	})
	if err != nil {
		return c.escalate(ctx, action, err)
	}
	if spec, err = c.load(ctx, id); err != nil {
		return c.escalate(ctx, action, err)
	}

	sess, report, err := c.spawn(ctx, role, spec, seq, worker)
	if sess != nil {
		action.SessionID = sess.ID()
	}
	if err != nil {
		return c.sessionFailed(ctx, action, err)
	}
	c.metrics.SessionOutcomes.WithLabelValues(roleName, string(report.Status)).Inc()

	return c.apply(ctx, action, spec, report)
}

// apply evaluates report, commits it and applies the decision.
func (c *Coordinator) apply(ctx context.Context, action NextAction, spec *docstore.Specification, report docstore.Report) (NextAction, error) {
	decision := gate.Evaluate(report, spec)
	action.ReportID = report.ID
	action.Outcome = decision.Outcome
	action.Reasons = decision.Reasons

	commit := docstore.Commit{
		ExpectRevision: spec.Revision,
		Report:         report,
		MarkDocChecked: report.Role == registry.RoleDocumentation && report.Status == docstore.ReportGo,
	}
	if report.Role == registry.RoleVerifier && (decision.Outcome == gate.OutcomeGo || decision.Outcome == gate.OutcomeFail) {
		record := docstore.VerificationRecord{SessionID: report.SessionID, Checks: report.Checks, RecordedAt: c.now()}
		content, err := record.Encode()
		if err != nil {
			return NextAction{}, err
		}
		commit.Extra = append(commit.Extra, docstore.ArtifactWrite{Kind: docstore.ArtifactVerification, Content: content})
	}

	var applied *docstore.Specification
	err := c.retry(ctx, "commit report", func() (err error) {
		applied, err = c.store.Commit(ctx, spec.ID, commit)
		return err
	})
	if err != nil {
		return c.reject(ctx, action, report, decision, err)
	}
	action.Status = applied.Status

	if decision.HasTransition() {
		moved, err := c.transition(ctx, spec.ID, decision.From, decision.Target)
		if err != nil {
			return c.reject(ctx, action, report, decision, err)
		}
		action.Status = moved.Status
		if moved.Status == docstore.StatusCompleted {
			action, err = c.lock(ctx, action)
			if err == nil {
				c.decision(ctx, action, report, decision)
			}
			return action, err
		}
	}

	switch {
	case decision.Outcome == gate.OutcomeClarify:
		code := faults.CodeClarify
		if report.Status == docstore.ReportBlocked {
			code = faults.CodeCapabilityViolation
		}
		action = c.clarify(ctx, action, code)
	case decision.HasTransition():
		action.Kind = ActionAdvanced
	case decision.AwaitApproval:
		action.Kind = ActionAwaitApproval
		c.notify(ctx, notify.KindAwaitApproval, action)
	case decision.Outcome == gate.OutcomeStop:
		action.Kind = ActionStopped
	default:
		action.Kind = ActionApplied
	}
	c.decision(ctx, action, report, decision)
	return action, nil
}

// reject escalates a failed commit or transition and logs the decision
// it interrupted.
func (c *Coordinator) reject(ctx context.Context, action NextAction, report docstore.Report, d gate.Decision, cause error) (NextAction, error) {
	action, err := c.escalate(ctx, action, cause)
	if err == nil {
		c.decision(ctx, action, report, d)
	}
	return action, err
}

// spawn runs one session for role under the configured timeout.
func (c *Coordinator) spawn(ctx context.Context, role registry.Role, spec *docstore.Specification, seq uint64, worker session.Worker) (*session.Session, docstore.Report, error) {
	sess, err := session.New(role, spec, c.store,
		session.WithSeq(seq),
		session.WithChecks(c.checks),
		session.WithLogger(c.logger),
		session.WithClock(c.now),
	)
	if err != nil {
		return nil, docstore.Report{}, err
	}

	c.mu.Lock()
	c.active[spec.ID] = sess
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.active, spec.ID)
		c.mu.Unlock()
	}()

	runCtx, cancel := context.WithTimeout(ctx, c.cfg.SessionTimeout)
	defer cancel()

	c.metrics.SessionsStarted.WithLabelValues(role.Name()).Inc()
	c.metrics.ActiveSessions.Inc()
	defer c.metrics.ActiveSessions.Dec()

	start := time.Now()
	report, err := sess.Run(runCtx, worker)
	c.metrics.SessionDuration.WithLabelValues(role.Name()).Observe(time.Since(start).Seconds())
	return sess, report, err
}

func (c *Coordinator) sessionFailed(ctx context.Context, action NextAction, err error) (NextAction, error) {
	switch {
	case errors.Is(err, session.ErrAborted):
		c.metrics.SessionOutcomes.WithLabelValues(action.Role, "aborted").Inc()
		action.Kind = ActionAborted
		action.Reasons = []string{"session aborted by operator"}
		return action, nil
	case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
		c.metrics.SessionOutcomes.WithLabelValues(action.Role, "stalled").Inc()
		return c.stall(ctx, action, fmt.Sprintf("session timed out after %v", c.cfg.SessionTimeout)), nil
	default:
		c.metrics.SessionOutcomes.WithLabelValues(action.Role, "failed").Inc()
		return c.escalate(ctx, action, err)
	}
}

// escalate turns err into a stalled or clarify action where it can, and
// returns it otherwise.
func (c *Coordinator) escalate(ctx context.Context, action NextAction, err error) (NextAction, error) {
	switch {
	case ctx.Err() != nil:
		return NextAction{}, ctx.Err()
	case errors.Is(err, docstore.ErrNotFound):
		return NextAction{}, err
	case faults.IsRetryable(err):
		return c.stall(ctx, action, err.Error()), nil
	case faults.NeedsHuman(err), faults.ClassOf(err) == faults.ClassConsistency:
		return c.clarify(ctx, action, faults.CodeOf(err), err.Error()), nil
	default:
		return NextAction{}, err
	}
}

func (c *Coordinator) clarify(ctx context.Context, action NextAction, code string, reasons ...string) NextAction {
	action.Kind = ActionClarify
	action.Reason = code
	if len(reasons) > 0 {
		action.Reasons = reasons
	}
	c.metrics.Clarifications.WithLabelValues(code).Inc()
	c.notify(ctx, notify.KindClarify, action)
	return action
}

func (c *Coordinator) stall(ctx context.Context, action NextAction, reason string) NextAction {
	action.Kind = ActionStalled
	action.Reason = faults.CodeStalled
	action.Reasons = []string{reason}
	c.metrics.Stalls.Inc()
	if err := c.store.MarkStalled(context.WithoutCancel(ctx), action.SpecID, reason); err != nil {
		c.logger.Warn("recording stall failed", zap.String("spec.id", action.SpecID), zap.Error(err))
	}
	c.notify(ctx, notify.KindStalled, action)
	return action
}

// lock applies completed -> locked.
func (c *Coordinator) lock(ctx context.Context, action NextAction) (NextAction, error) {
	locked, err := c.transition(ctx, action.SpecID, docstore.StatusCompleted, docstore.StatusLocked)
	if err != nil {
		return c.escalate(ctx, action, err)
	}
	action.Kind = ActionAdvanced
	action.Status = locked.Status
	c.notify(ctx, notify.KindCompleted, action)
	return action, nil
}

func (c *Coordinator) transition(ctx context.Context, id string, from, to docstore.Status) (*docstore.Specification, error) {
	var out *docstore.Specification
	err := c.retry(ctx, "transition", func() (err error) {
		out, err = c.store.Transition(ctx, id, from, to)
		return err
	})
	if err != nil {
		return nil, err
	}
	c.metrics.Transitions.WithLabelValues(string(from), string(to)).Inc()
	return out, nil
}

func (c *Coordinator) load(ctx context.Context, id string) (*docstore.Specification, error) {
	var spec *docstore.Specification
	err := c.retry(ctx, "load specification", func() (err error) {
		spec, err = c.store.GetSpecification(ctx, id)
		return err
	})
	return spec, err
}

func (c *Coordinator) retry(ctx context.Context, name string, op func() error) error {
	return retry(ctx, c.cfg.Retry, c.logger, name, op)
}

func (c *Coordinator) worker(role string) (session.Worker, error) {
	w := c.workers[role]
	if role == registry.RoleDocumentation {
		return session.ConsistencyWorker(w), nil
	}
	if w == nil {
		return nil, fmt.Errorf("%w: role %s", ErrNoWorker, role)
	}
	return w, nil
}

// hold records the current revision of id as waiting on an operator.
func (c *Coordinator) hold(ctx context.Context, id string) {
	spec, err := c.store.GetSpecification(context.WithoutCancel(ctx), id)
	if err != nil {
		return
	}
	c.mu.Lock()
	c.holds[id] = spec.Revision
	c.mu.Unlock()
}

func (c *Coordinator) held(spec *docstore.Specification) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	rev, ok := c.holds[spec.ID]
	return ok && rev == spec.Revision
}

func (c *Coordinator) notify(ctx context.Context, kind notify.Kind, action NextAction) {
	event := notify.Event{
		Kind:    kind,
		SpecID:  action.SpecID,
		Status:  string(action.Status),
		Role:    action.Role,
		Reason:  action.Reason,
		Details: action.Reasons,
		At:      c.now(),
	}
	if len(action.Reasons) > 0 {
		event.Message = action.Reasons[0]
	}
	if err := c.notifier.Notify(context.WithoutCancel(ctx), event); err != nil {
		c.logger.Warn("notification failed",
			zap.String("spec.id", action.SpecID), zap.String("kind", string(kind)), zap.Error(err))
	}
}

func (c *Coordinator) decision(ctx context.Context, action NextAction, report docstore.Report, d gate.Decision) {
	record := notify.Decision{
		SpecID:    action.SpecID,
		SessionID: report.SessionID,
		ReportID:  report.ID,
		Role:      report.Role,
		Report:    string(report.Status),
		Outcome:   string(d.Outcome),
		From:      string(d.From),
		Action:    string(action.Kind),
		Reason:    action.Reason,
		Reasons:   d.Reasons,
		At:        c.now(),
	}
	if action.Status != d.From {
		record.To = string(action.Status)
	}
	if err := c.notifier.Decision(context.WithoutCancel(ctx), record); err != nil {
		c.logger.Warn("decision log failed", zap.String("spec.id", action.SpecID), zap.Error(err))
	}
}

// Approve applies the external approval signal. Only draft and in_review
// Specifications can be approved.
func (c *Coordinator) Approve(ctx context.Context, id string) (*docstore.Specification, error) {
	l, err := c.leases.Acquire(ctx, id)
	if err != nil {
		return nil, err
	}
	defer func() { _ = l.Release() }()

	spec, err := c.store.GetSpecification(ctx, id)
	if err != nil {
		return nil, err
	}
	if spec.Status != docstore.StatusDraft && spec.Status != docstore.StatusInReview {
		return nil, &docstore.InvalidTransitionError{
			SpecID:  id,
			From:    spec.Status,
			To:      docstore.StatusApproved,
			Current: spec.Status,
			Reason:  "approval applies to draft or in_review",
		}
	}
	approved, err := c.transition(ctx, id, spec.Status, docstore.StatusApproved)
	if err != nil {
		return nil, err
	}

	action := NextAction{
		Kind:   ActionAdvanced,
		SpecID: id,
		From:   spec.Status,
		Status: approved.Status,
		Role:   registry.RoleCoordinator,
	}
	c.decision(ctx, action, docstore.Report{Role: registry.RoleCoordinator},
		gate.Decision{Outcome: gate.OutcomeGo, From: spec.Status, Target: docstore.StatusApproved,
			Origin: docstore.OriginExternal, Reasons: []string{"approved by operator"}})
	c.logger.Info("spec approved", zap.String("spec.id", id), zap.String("from", string(spec.Status)))
	return approved, nil
}

// Abort cancels the in-flight session of id, discarding its staged writes.
// It reports whether a session was running.
func (c *Coordinator) Abort(ctx context.Context, id string) (bool, error) {
	if _, err := c.store.GetSpecification(ctx, id); err != nil {
		return false, err
	}
	c.mu.Lock()
	sess := c.active[id]
	c.mu.Unlock()
	if sess == nil {
		return false, nil
	}
	sess.Abort()
	c.logger.Info("session aborted",
		zap.String("spec.id", id),
		zap.String("session.id", sess.ID()),
		zap.String("role", sess.Role().Name()))
	return true, nil
}

// SessionInfo describes an in-flight session.
type SessionInfo struct {
	ID        string        `json:"id"`
	Role      string        `json:"role"`
	Seq       uint64        `json:"seq"`
	State     session.State `json:"state"`
	StartedAt time.Time     `json:"started_at"`
}

// StatusInfo is a Specification together with its live session state.
type StatusInfo struct {
	Spec             *docstore.Specification `json:"spec"`
	Session          *SessionInfo            `json:"session,omitempty"`
	NextRole         string                  `json:"next_role,omitempty"`
	AwaitingApproval bool                    `json:"awaiting_approval,omitempty"`
}

// Status returns id and its active session, if any.
func (c *Coordinator) Status(ctx context.Context, id string) (*StatusInfo, error) {
	spec, err := c.store.GetSpecification(ctx, id)
	if err != nil {
		return nil, err
	}
	info := &StatusInfo{Spec: spec}
	info.NextRole, info.AwaitingApproval = selectRole(spec)

	c.mu.Lock()
	sess := c.active[id]
	c.mu.Unlock()
	if sess != nil {
		info.Session = &SessionInfo{
			ID:        sess.ID(),
			Role:      sess.Role().Name(),
			Seq:       sess.Seq(),
			State:     sess.State(),
			StartedAt: sess.StartedAt(),
		}
	}
	return info, nil
}
