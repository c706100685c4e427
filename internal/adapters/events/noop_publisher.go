package events

import (
	"context"

	"go.uber.org/zap"

	"github.com/kevin07696/phonepay-ivr/internal/domain/ports"
)

// NoopPublisher drops events. Used when no broker is configured.
type NoopPublisher struct {
	logger *zap.Logger
}

// NewNoopPublisher creates a publisher that only logs at debug level
func NewNoopPublisher(logger *zap.Logger) *NoopPublisher {
	return &NoopPublisher{logger: logger}
}

func (p *NoopPublisher) Publish(_ context.Context, subject string, _ interface{}) error {
	p.logger.Debug("Event dropped, no broker configured", zap.String("subject", subject))
	return nil
}

var _ ports.EventPublisher = (*NoopPublisher)(nil)
