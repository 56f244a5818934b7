// Package notify delivers operator notifications and the decision log.
//
// Notifications are sent for every outcome that needs a human: clarify,
// stalled and await-approval. The decision log receives one record per
// gate decision. Both go through a Notifier; LogNotifier writes them to zap,
// NATSNotifier publishes JSON events and Recorder keeps them in memory.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Kind classifies a notification.
type Kind string

const (
	KindClarify       Kind = "clarify"
	KindStalled       Kind = "stalled"
	KindAwaitApproval Kind = "await_approval"
	KindCompleted     Kind = "completed"
)

// Event is an operator notification.
type Event struct {
	ID      string    `json:"id"`
	Kind    Kind      `json:"kind"`
	SpecID  string    `json:"spec_id"`
	Status  string    `json:"status"`
	Role    string    `json:"role,omitempty"`
	Reason  string    `json:"reason,omitempty"`
	Message string    `json:"message"`
	Details []string  `json:"details,omitempty"`
	At      time.Time `json:"at"`
}

// Decision is one decision log record.
type Decision struct {
	ID        string    `json:"id"`
	SpecID    string    `json:"spec_id"`
	SessionID string    `json:"session_id,omitempty"`
	ReportID  string    `json:"report_id,omitempty"`
	Role      string    `json:"role,omitempty"`
	Report    string    `json:"report,omitempty"`
	Outcome   string    `json:"outcome"`
	From      string    `json:"from"`
	To        string    `json:"to,omitempty"`
	Action    string    `json:"action"`
	Reason    string    `json:"reason,omitempty"`
	Reasons   []string  `json:"reasons,omitempty"`
	At        time.Time `json:"at"`
}

// Notifier receives notifications and decisions.
type Notifier interface {
	Notify(ctx context.Context, e Event) error
	Decision(ctx context.Context, d Decision) error
}

func stamp(id *string, at *time.Time) {
	if *id == "" {
		*id = uuid.NewString()
	}
	if at.IsZero() {
		*at = time.Now().UTC()
	}
}

// Nop discards everything.
type Nop struct{}

func (Nop) Notify(context.Context, Event) error      { return nil }
func (Nop) Decision(context.Context, Decision) error { return nil }

// LogNotifier writes notifications and decisions as structured log entries.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier returns a LogNotifier writing to logger.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger.Named("notify")}
}

func (n *LogNotifier) Notify(_ context.Context, e Event) error {
	n.logger.Warn("operator attention required",
		zap.String("kind", string(e.Kind)),
		zap.String("spec.id", e.SpecID),
		zap.String("status", e.Status),
		zap.String("role", e.Role),
		zap.String("reason", e.Reason),
		zap.String("message", e.Message),
		zap.Strings("details", e.Details),
	)
	return nil
}

func (n *LogNotifier) Decision(_ context.Context, d Decision) error {
	n.logger.Info("decision",
		zap.String("spec.id", d.SpecID),
		zap.String("session.id", d.SessionID),
		zap.String("role", d.Role),
		zap.String("outcome", d.Outcome),
		zap.String("from", d.From),
		zap.String("to", d.To),
		zap.String("action", d.Action),
		zap.String("reason", d.Reason),
		zap.Strings("reasons", d.Reasons),
	)
	return nil
}

// DefaultPrefix is the default NATS subject prefix.
const DefaultPrefix = "specd"

// NATSNotifier publishes JSON events to NATS.
//
// Subjects:
//   - {prefix}.notify.{spec_id}.{kind}
//   - {prefix}.decisions.{spec_id}
type NATSNotifier struct {
	nc     *nats.Conn
	prefix string
}

// NewNATSNotifier returns a NATSNotifier on nc. An empty prefix uses
// DefaultPrefix.
func NewNATSNotifier(nc *nats.Conn, prefix string) (*NATSNotifier, error) {
	if nc == nil {
		return nil, errors.New("nats connection is required")
	}
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &NATSNotifier{nc: nc, prefix: prefix}, nil
}

// NotifySubject returns the subject notifications for specID and kind use.
func (n *NATSNotifier) NotifySubject(specID string, kind Kind) string {
	return fmt.Sprintf("%s.notify.%s.%s", n.prefix, token(specID), token(string(kind)))
}

// DecisionSubject returns the decision log subject for specID.
func (n *NATSNotifier) DecisionSubject(specID string) string {
	return fmt.Sprintf("%s.decisions.%s", n.prefix, token(specID))
}

func (n *NATSNotifier) Notify(_ context.Context, e Event) error {
	stamp(&e.ID, &e.At)
	return n.publish(n.NotifySubject(e.SpecID, e.Kind), e)
}

func (n *NATSNotifier) Decision(_ context.Context, d Decision) error {
	stamp(&d.ID, &d.At)
	return n.publish(n.DecisionSubject(d.SpecID), d)
}

func (n *NATSNotifier) publish(subject string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := n.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// token makes s safe as a single NATS subject token.
func token(s string) string {
	if s == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\n', '\r':
			return '_'
		}
		return r
	}, s)
}

// Recorder keeps notifications and decisions in memory.
type Recorder struct {
	mu        sync.Mutex
	events    []Event
	decisions []Decision
}

// NewRecorder returns an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Notify(_ context.Context, e Event) error {
	stamp(&e.ID, &e.At)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *Recorder) Decision(_ context.Context, d Decision) error {
	stamp(&d.ID, &d.At)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decisions = append(r.decisions, d)
	return nil
}

// Events returns a copy of the recorded notifications.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Decisions returns a copy of the recorded decisions.
func (r *Recorder) Decisions() []Decision {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Decision(nil), r.decisions...)
}

// Multi fans out to every Notifier. All are called; errors are joined.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, e Event) error {
	stamp(&e.ID, &e.At)
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Decision(ctx context.Context, d Decision) error {
	stamp(&d.ID, &d.At)
	var errs []error
	for _, n := range m {
		if err := n.Decision(ctx, d); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
