// Package service is the application layer between the HTTP surface and the
// engine packages. Services run engine operations, then fan the outcome out:
// signal-bus events for the websocket hub, audit entries for privileged
// calls, metrics and operator alerts.
package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/alanyoungcy/outcomebook/internal/domain"
	"github.com/alanyoungcy/outcomebook/internal/metrics"
	"github.com/alanyoungcy/outcomebook/internal/notify"
)

// Outputs are the side channels shared by every service. Any field may be
// nil.
type Outputs struct {
	Bus      domain.SignalBus
	Audit    domain.AuditStore
	Metrics  *metrics.Metrics
	Notifier *notify.Notifier
	Logger   *slog.Logger
}

func (o Outputs) logger(component string) *slog.Logger {
	l := o.Logger
	if l == nil {
		l = slog.Default()
	}
	return l.With(slog.String("component", component))
}

type emitter struct {
	Outputs
	name string
	log  *slog.Logger
}

func newEmitter(out Outputs, name string) emitter {
	return emitter{Outputs: out, name: name, log: out.logger(name)}
}

// publish sends an event on the bus. Failures are logged, never returned:
// the ledger change has already committed.
func (e emitter) publish(ctx context.Context, channel, typ string, payload any) {
	if e.Bus == nil {
		return
	}
	b, err := domain.EncodeEvent(typ, payload)
	if err != nil {
		e.log.WarnContext(ctx, e.name+": encode event failed",
			slog.String("type", typ),
			slog.String("error", err.Error()),
		)
		return
	}
	if err := e.Bus.Publish(ctx, channel, b); err != nil {
		e.log.WarnContext(ctx, e.name+": publish event failed",
			slog.String("channel", channel),
			slog.String("type", typ),
			slog.String("error", err.Error()),
		)
	}
}

// record writes an audit entry for a privileged operation.
func (e emitter) record(ctx context.Context, event string, detail map[string]any) {
	if e.Audit == nil {
		return
	}
	if err := e.Audit.Log(ctx, event, detail); err != nil {
		e.log.WarnContext(ctx, e.name+": audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

// alert forwards an operator notification.
func (e emitter) alert(ctx context.Context, event, title, message string) {
	if err := e.Notifier.Notify(ctx, event, title, message); err != nil {
		e.log.WarnContext(ctx, e.name+": notify failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

// integrity reports a broken ledger invariant. It returns true when err is
// one.
func (e emitter) integrity(ctx context.Context, op string, err error) bool {
	if !errors.Is(err, domain.ErrIntegrity) {
		return false
	}
	e.Metrics.Integrity(e.name)
	e.log.ErrorContext(ctx, e.name+": integrity violation",
		slog.String("op", op),
		slog.String("error", err.Error()),
	)
	e.alert(ctx, notify.EventIntegrity, "ledger integrity violation", op+": "+err.Error())
	return true
}
