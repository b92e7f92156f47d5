package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// CollabMetrics records collaboration server activity. A nil *CollabMetrics is valid and records nothing.
type CollabMetrics struct {
	tracer trace.Tracer

	connections     metric.Int64UpDownCounter
	rooms           metric.Int64UpDownCounter
	handshakeErrors metric.Int64Counter
	messages        metric.Int64Counter
	lockEvents      metric.Int64Counter
	sendDrops       metric.Int64Counter
	evictions       metric.Int64Counter
	storeDuration   metric.Float64Histogram
}

// NewCollabMetrics registers the collaboration instruments on meter
func NewCollabMetrics(tracer trace.Tracer, meter metric.Meter) (*CollabMetrics, error) {
	m := &CollabMetrics{tracer: tracer}
	var err error

	if m.connections, err = meter.Int64UpDownCounter("collab_connections_active",
		metric.WithDescription("Number of open collaboration WebSocket connections"),
		metric.WithUnit("1"),
	); err != nil {
		return nil, fmt.Errorf("failed to create connection counter: %w", err)
	}

	if m.rooms, err = meter.Int64UpDownCounter("collab_rooms_active",
		metric.WithDescription("Number of live scan rooms"),
		metric.WithUnit("1"),
	); err != nil {
		return nil, fmt.Errorf("failed to create room counter: %w", err)
	}

	if m.handshakeErrors, err = meter.Int64Counter("collab_handshake_failures_total",
		metric.WithDescription("Rejected upgrade attempts by close reason"),
	); err != nil {
		return nil, fmt.Errorf("failed to create handshake failure counter: %w", err)
	}

	if m.messages, err = meter.Int64Counter("collab_messages_total",
		metric.WithDescription("Inbound collaboration messages by type"),
	); err != nil {
		return nil, fmt.Errorf("failed to create message counter: %w", err)
	}

	if m.lockEvents, err = meter.Int64Counter("collab_lock_events_total",
		metric.WithDescription("Device lock transitions and conflicts"),
	); err != nil {
		return nil, fmt.Errorf("failed to create lock event counter: %w", err)
	}

	if m.sendDrops, err = meter.Int64Counter("collab_send_drops_total",
		metric.WithDescription("Outbound messages dropped because a member's buffer was full"),
	); err != nil {
		return nil, fmt.Errorf("failed to create send drop counter: %w", err)
	}

	if m.evictions, err = meter.Int64Counter("collab_member_evictions_total",
		metric.WithDescription("Members disconnected for falling behind"),
	); err != nil {
		return nil, fmt.Errorf("failed to create eviction counter: %w", err)
	}

	if m.storeDuration, err = meter.Float64Histogram("collab_store_write_duration_seconds",
		metric.WithDescription("Latency of scan document writes"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10),
	); err != nil {
		return nil, fmt.Errorf("failed to create store duration histogram: %w", err)
	}

	return m, nil
}

// ConnectionOpened increments the active connection gauge
func (m *CollabMetrics) ConnectionOpened(ctx context.Context) {
	if m == nil {
		return
	}
	m.connections.Add(ctx, 1)
}

// ConnectionClosed decrements the active connection gauge
func (m *CollabMetrics) ConnectionClosed(ctx context.Context) {
	if m == nil {
		return
	}
	m.connections.Add(ctx, -1)
}

// RoomOpened increments the live room gauge
func (m *CollabMetrics) RoomOpened(ctx context.Context) {
	if m == nil {
		return
	}
	m.rooms.Add(ctx, 1)
}

// RoomClosed decrements the live room gauge
func (m *CollabMetrics) RoomClosed(ctx context.Context) {
	if m == nil {
		return
	}
	m.rooms.Add(ctx, -1)
}

// HandshakeRejected counts an upgrade refused with closeCode. Refusals that
// happen before the upgrade report their HTTP status instead.
func (m *CollabMetrics) HandshakeRejected(ctx context.Context, closeCode int) {
	if m == nil {
		return
	}
	m.handshakeErrors.Add(ctx, 1, metric.WithAttributes(attribute.Int("close_code", closeCode)))
}

// MessageReceived counts one inbound message
func (m *CollabMetrics) MessageReceived(ctx context.Context, messageType string) {
	if m == nil {
		return
	}
	m.messages.Add(ctx, 1, metric.WithAttributes(attribute.String("message_type", messageType)))
}

// LockEvent counts acquired, released, expired, conflict and not_owner outcomes
func (m *CollabMetrics) LockEvent(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.lockEvents.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// SendDropped counts one message not delivered to a slow member
func (m *CollabMetrics) SendDropped(ctx context.Context) {
	if m == nil {
		return
	}
	m.sendDrops.Add(ctx, 1)
}

// MemberEvicted counts one slow member teardown
func (m *CollabMetrics) MemberEvicted(ctx context.Context) {
	if m == nil {
		return
	}
	m.evictions.Add(ctx, 1)
}

// TraceStoreWrite opens a span around a document write and records its latency when finished
func (m *CollabMetrics) TraceStoreWrite(ctx context.Context, operation, scanID string) (context.Context, func(err error)) {
	if m == nil {
		return ctx, func(error) {}
	}

	start := time.Now()
	ctx, span := m.tracer.Start(ctx, "collab.store."+operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("collab.scan_id", scanID)),
	)

	return ctx, func(err error) {
		defer span.End()

		status := "success"
		if err != nil {
			status = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		m.storeDuration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(
			attribute.String("operation", operation),
			attribute.String("status", status),
		))
	}
}
