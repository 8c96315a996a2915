// Package audit records security events. Rows are only ever appended.
package audit

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/sruthiidv/BallotGuard-sub000/models"
)

// Sink is where events are written: the store itself, or an open store
// transaction so an event commits together with the change it describes
type Sink interface {
	AppendAuditEvent(ctx context.Context, ev *models.AuditEvent) error
}

type Entry struct {
	Kind       models.AuditKind
	ElectionID string
	Detail     string
	Success    bool
}

type Logger struct {
	logger *slog.Logger
	events *prometheus.CounterVec
}

func New(logger *slog.Logger, promRegistry prometheus.Registerer) *Logger {
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Logger{
		logger: logger.With("component", "audit"),
		events: promauto.With(promRegistry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "ballotguard_audit_events_total",
				Help: "audit events written, by kind and outcome",
			},
			[]string{"kind", "success"},
		),
	}
}

// Log writes one event to sink and publishes it. Events written inside a
// transaction go through a Batch instead.
func (l *Logger) Log(ctx context.Context, sink Sink, e Entry) error {
	ev, err := l.write(ctx, sink, e)
	if err != nil {
		return err
	}
	l.emit(ev)
	return nil
}

func (l *Logger) write(ctx context.Context, sink Sink, e Entry) (*models.AuditEvent, error) {
	ev := &models.AuditEvent{
		Kind:       e.Kind,
		Actor:      ActorFromContext(ctx),
		Detail:     e.Detail,
		Success:    e.Success,
		RemoteAddr: RemoteAddrFromContext(ctx),
	}
	if e.ElectionID != "" {
		id := e.ElectionID
		ev.ElectionID = &id
	}
	if err := sink.AppendAuditEvent(ctx, ev); err != nil {
		return nil, fmt.Errorf("failed to write audit event %s: %w", e.Kind, err)
	}
	return ev, nil
}

// emit counts the event and writes the structured log record
func (l *Logger) emit(ev *models.AuditEvent) {
	electionID := ""
	if ev.ElectionID != nil {
		electionID = *ev.ElectionID
	}
	l.events.WithLabelValues(string(ev.Kind), strconv.FormatBool(ev.Success)).Inc()
	l.logger.Info(
		"audit",
		"event_type", ev.Kind,
		"actor", ev.Actor,
		"election_id", electionID,
		"success", ev.Success,
		"detail", ev.Detail,
	)
}

// Batch holds events written inside a transaction. Nothing is counted or
// logged until Emit, which callers invoke once the transaction commits.
type Batch struct {
	l      *Logger
	events []*models.AuditEvent
}

func (l *Logger) Batch() *Batch {
	return &Batch{l: l}
}

// Log writes one event to sink and holds it for Emit
func (b *Batch) Log(ctx context.Context, sink Sink, e Entry) error {
	ev, err := b.l.write(ctx, sink, e)
	if err != nil {
		return err
	}
	b.events = append(b.events, ev)
	return nil
}

// Emit publishes the held events in write order and empties the batch
func (b *Batch) Emit() {
	for _, ev := range b.events {
		b.l.emit(ev)
	}
	b.events = nil
}

type ctxKey string

const (
	actorContextKey      ctxKey = "ballotguard.actor"
	remoteAddrContextKey ctxKey = "ballotguard.remote_addr"

	// SystemActor is recorded when no caller identity is attached
	SystemActor = "system"
)

func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorContextKey, actor)
}

func ActorFromContext(ctx context.Context) string {
	if actor, ok := ctx.Value(actorContextKey).(string); ok && actor != "" {
		return actor
	}
	return SystemActor
}

func WithRemoteAddr(ctx context.Context, addr string) context.Context {
	return context.WithValue(ctx, remoteAddrContextKey, addr)
}

func RemoteAddrFromContext(ctx context.Context) string {
	addr, _ := ctx.Value(remoteAddrContextKey).(string)
	return addr
}
