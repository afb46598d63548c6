// Package service implements the use cases behind the HTTP API on top of
// the repositories, the token ledger and the upstream AI clients.
package service

import (
	"context"
	"time"

	"persona/backend/internal/ws"
	"persona/backend/pkg/cache"
	"persona/backend/pkg/logger"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("persona/backend/internal/service")

// Pricing holds the token cost of metered actions
type Pricing struct {
	SignupGrant     int
	MaxDailyFree    int
	ChatMessageCost int
	ImageCost       int
}

// EventPublisher receives chat events for live subscribers
type EventPublisher interface {
	Publish(chatID uuid.UUID, event ws.Event)
}

type noopPublisher struct{}

func (noopPublisher) Publish(uuid.UUID, ws.Event) {}

// cachedTTL is used when a service is built without an explicit cache TTL
const cachedTTL = 5 * time.Minute

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// invalidate drops keys and logs a failure; stale entries expire with their TTL
func invalidate(ctx context.Context, inv cache.Invalidator, keys ...string) {
	if err := inv.Invalidate(ctx, keys...); err != nil {
		logger.FromContext(ctx).LogError(err, "Cache invalidation failed", "keys", keys)
	}
}

func invalidatePrefix(ctx context.Context, inv cache.Invalidator, prefix string) {
	if err := inv.InvalidatePrefix(ctx, prefix); err != nil {
		logger.FromContext(ctx).LogError(err, "Cache invalidation failed", "prefix", prefix)
	}
}
