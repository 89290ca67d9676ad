package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/firemarket/escrow-engine/internal/metrics"
	"github.com/firemarket/escrow-engine/internal/model"
)

// SubjectPrefix is prepended to the event type to form the NATS subject.
const SubjectPrefix = "escrow.events."

// NATSSink publishes each event to escrow.events.<type>.
type NATSSink struct {
	conn *nats.Conn
}

// NewNATSSink connects to url.
func NewNATSSink(url string) (*NATSSink, error) {
	opts := []nats.Option{
		nats.Name("escrow-engine"),
		nats.ReconnectWait(time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				slog.Warn("nats disconnected", "err", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	}

	conn, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return &NATSSink{conn: conn}, nil
}

// Publish sends evs. Failures are logged and counted; the events remain
// in the event log.
func (s *NATSSink) Publish(_ context.Context, evs []model.Event) {
	for _, e := range evs {
		data, err := json.Marshal(MessageFor(e))
		if err != nil {
			continue
		}
		if err := s.conn.Publish(SubjectPrefix+e.Type, data); err != nil {
			metrics.EventPublishErrors.WithLabelValues("nats").Inc()
			slog.Warn("nats publish failed", "type", e.Type, "seq", e.Seq, "err", err)
			continue
		}
		metrics.EventsPublished.WithLabelValues("nats").Inc()
	}
}

// Close drains and closes the connection.
func (s *NATSSink) Close() error {
	if s.conn == nil {
		return nil
	}
	if err := s.conn.Drain(); err != nil {
		s.conn.Close()
		return err
	}
	return nil
}
