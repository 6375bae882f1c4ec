package natsbridge

import (
	"encoding/json"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/c360studio/legion/state"
)

// SocketStream is the last subject token of raw event messages.
const SocketStream = "socket"

// Publisher implements state.Notifier by publishing to NATS. Views go to
// ChatSubject(prefix, chat, stream) as JSON; raw events go to the socket
// subject in envelope form.
//
// nats.Conn.Publish only buffers, so neither method blocks the reconciler.
type Publisher struct {
	nc     *nats.Conn
	prefix string
	logger *slog.Logger
}

// NewPublisher creates a publisher. An empty prefix uses
// DefaultSubjectPrefix.
func NewPublisher(nc *nats.Conn, prefix string, logger *slog.Logger) *Publisher {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{nc: nc, prefix: prefix, logger: logger}
}

// Notify publishes a view.
func (p *Publisher) Notify(chatID string, stream state.Stream, data any) {
	body, err := json.Marshal(data)
	if err != nil {
		p.logger.Warn("Failed to marshal view", "chat_id", chatID, "stream", stream, "error", err)
		return
	}
	p.publish(ChatSubject(p.prefix, chatID, string(stream)), body)
}

// Push publishes a raw event.
func (p *Publisher) Push(chatID string, ev state.Event) {
	body, err := state.EncodeEnvelope(ev)
	if err != nil {
		p.logger.Warn("Failed to encode event", "chat_id", chatID, "kind", ev.Kind(), "error", err)
		return
	}
	p.publish(ChatSubject(p.prefix, chatID, SocketStream), body)
}

func (p *Publisher) publish(subject string, body []byte) {
	if err := p.nc.Publish(subject, body); err != nil {
		p.logger.Warn("NATS publish failed", "subject", subject, "error", err)
	}
}
