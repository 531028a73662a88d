// Package events publishes stage lifecycle notifications over NATS so other
// systems can react to pipeline progress. The pipeline never depends on a
// broker being up: a nil Publisher is valid and publish failures only log.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// SubjectPrefix roots every pipeline event subject. The full subject is
// chatmind.stage.<stage>.<event>, e.g. chatmind.stage.ingest.completed.
const SubjectPrefix = "chatmind.stage"

// StagePayload is the wire shape of a lifecycle event.
type StagePayload struct {
	Stage     string         `json:"stage"`
	Event     string         `json:"event"`
	Timestamp time.Time      `json:"timestamp"`
	Fields    map[string]any `json:"fields,omitempty"`
}

type Publisher struct {
	conn   *nats.Conn
	logger *slog.Logger
}

// NewPublisher connects to NATS. Connection-level hiccups are retried by
// the client itself; callers should treat a nil Publisher as "events off".
func NewPublisher(url, token string, logger *slog.Logger) (*Publisher, error) {
	opts := []nats.Option{
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(60),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info("nats reconnected")
		}),
	}
	if token != "" {
		opts = append(opts, nats.Token(token))
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return &Publisher{conn: nc, logger: logger}, nil
}

// StageEvent publishes one lifecycle event. Failures are logged and
// swallowed: the pipeline's own progress never hinges on the broker.
func (p *Publisher) StageEvent(ctx context.Context, stage, event string, fields map[string]any) {
	if p == nil || p.conn == nil {
		return
	}
	payload, err := json.Marshal(StagePayload{
		Stage:     stage,
		Event:     event,
		Timestamp: time.Now().UTC(),
		Fields:    fields,
	})
	if err != nil {
		p.logger.Warn("marshal stage event", "stage", stage, "event", event, "error", err)
		return
	}
	subject := fmt.Sprintf("%s.%s.%s", SubjectPrefix, stage, event)
	if err := p.conn.Publish(subject, payload); err != nil {
		p.logger.Warn("publish stage event", "subject", subject, "error", err)
	}
}

func (p *Publisher) Close() {
	if p == nil || p.conn == nil {
		return
	}
	p.conn.Close()
}
