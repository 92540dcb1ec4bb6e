package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nats-io/nats.go"

	"radiology-workflow/internal/models"
)

// DefaultSubjectPrefix is prepended to the event type to form the subject,
// e.g. radiology.study.routed.
const DefaultSubjectPrefix = "radiology"

// NATSPublisher publishes each domain event as JSON on <prefix>.<type>.
type NATSPublisher struct {
	conn   *nats.Conn
	prefix string
	logger *slog.Logger
}

func NewNATSPublisher(conn *nats.Conn, prefix string, logger *slog.Logger) *NATSPublisher {
	prefix = strings.Trim(strings.TrimSpace(prefix), ".")
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &NATSPublisher{conn: conn, prefix: prefix, logger: logger}
}

// Connect dials url and returns a publisher owning the connection.
func Connect(url, prefix string, logger *slog.Logger) (*NATSPublisher, error) {
	conn, err := nats.Connect(url, nats.Name("radiology-workflow"))
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return NewNATSPublisher(conn, prefix, logger), nil
}

func (p *NATSPublisher) Subject(typ models.DomainEventType) string {
	return p.prefix + "." + string(typ)
}

func (p *NATSPublisher) Publish(ctx context.Context, batch []models.DomainEvent) error {
	for _, ev := range batch {
		if err := ctx.Err(); err != nil {
			return err
		}
		data, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("marshal domain event %s: %w", ev.ID, err)
		}
		if err := p.conn.Publish(p.Subject(ev.Type), data); err != nil {
			return fmt.Errorf("publish domain event %s: %w", ev.ID, err)
		}
	}
	if err := p.conn.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("flush NATS connection: %w", err)
	}
	p.logger.Debug("published domain events", "count", len(batch))
	return nil
}

// Close drains and closes the underlying connection.
func (p *NATSPublisher) Close() {
	if p.conn == nil {
		return
	}
	_ = p.conn.Drain()
	p.conn.Close()
}
