package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/kevin07696/phonepay-ivr/internal/domain/ports"
)

// NATSConfig contains configuration for the NATS publisher
type NATSConfig struct {
	URL           string
	Name          string
	Timeout       time.Duration
	ReconnectWait time.Duration
}

// DefaultNATSConfig returns default configuration
func DefaultNATSConfig(url string) *NATSConfig {
	return &NATSConfig{
		URL:           url,
		Name:          "phonepay-ivr",
		Timeout:       5 * time.Second,
		ReconnectWait: 2 * time.Second,
	}
}

// rawPublisher is the part of *nats.Conn the publisher needs
type rawPublisher interface {
	Publish(subj string, data []byte) error
}

// NATSPublisher publishes flow events as JSON
type NATSPublisher struct {
	conn   *nats.Conn
	pub    rawPublisher
	logger *zap.Logger
}

// NewNATSPublisher connects to NATS. The connection reconnects forever; a
// publish while disconnected is buffered by the client.
func NewNATSPublisher(cfg *NATSConfig, logger *zap.Logger) (*NATSPublisher, error) {
	nc, err := nats.Connect(cfg.URL,
		nats.Name(cfg.Name),
		nats.Timeout(cfg.Timeout),
		nats.PingInterval(20*time.Second),
		nats.MaxPingsOutstanding(3),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logger.Info("NATS connection closed", zap.Error(nc.LastError()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	logger.Info("NATS publisher connected", zap.String("url", nc.ConnectedUrl()))
	return &NATSPublisher{conn: nc, pub: nc, logger: logger}, nil
}

// Publish marshals event to JSON and publishes it on subject
func (p *NATSPublisher) Publish(ctx context.Context, subject string, event interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", subject, err)
	}
	if err := p.pub.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}

	p.logger.Debug("Event published", zap.String("subject", subject), zap.Int("bytes", len(data)))
	return nil
}

// Close drains buffered messages, then closes the connection
func (p *NATSPublisher) Close() error {
	if p.conn == nil || p.conn.IsClosed() {
		return nil
	}
	return p.conn.Drain()
}

var _ ports.EventPublisher = (*NATSPublisher)(nil)
