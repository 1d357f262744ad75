package analytics

import (
	"context"

	"go.uber.org/zap"
)

// Event is one best-effort login analytics data point. Tags carry the client
// and a reason code; Dimensions carry the affected principal.
type Event struct {
	Tags       []string
	Dimensions []string
}

// Sink records login analytics. Implementations must never fail the flow that
// emits the event.
type Sink interface {
	Record(ctx context.Context, event Event)
}

// NopSink discards every event.
type NopSink struct{}

func (NopSink) Record(context.Context, Event) {}

// ZapSink writes events to the structured log.
type ZapSink struct {
	logger *zap.Logger
}

var _ Sink = (*ZapSink)(nil)

// NewZapSink creates a log-backed sink.
func NewZapSink(logger *zap.Logger) *ZapSink {
	if logger == nil {
		logger = zap.L()
	}
	return &ZapSink{logger: logger}
}

func (s *ZapSink) Record(_ context.Context, event Event) {
	s.logger.Info("login_analytics",
		zap.Strings("tags", event.Tags),
		zap.Strings("dimensions", event.Dimensions),
	)
}
