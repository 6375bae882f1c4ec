package natsbridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nats-io/nats.go"

	"github.com/c360studio/legion/state"
)

// IngestReply is sent back when an ingested message has a reply subject.
type IngestReply struct {
	Status string `json:"status"`
	Event  string `json:"event,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Ingest applies event envelopes published to EventSubject(prefix, chat).
type Ingest struct {
	sub     *nats.Subscription
	applier state.Applier
	logger  *slog.Logger
}

// StartIngest subscribes to {prefix}.events.* and applies every envelope
// received. Unknown event kinds are ignored; malformed bodies are logged
// and dropped.
func StartIngest(nc *nats.Conn, prefix string, applier state.Applier, logger *slog.Logger) (*Ingest, error) {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	if logger == nil {
		logger = slog.Default()
	}
	in := &Ingest{applier: applier, logger: logger}

	sub, err := nc.Subscribe(prefix+".events.*", in.handle)
	if err != nil {
		return nil, fmt.Errorf("subscribe to events: %w", err)
	}
	in.sub = sub
	logger.Info("Ingesting events from NATS", "subject", sub.Subject)
	return in, nil
}

// Close stops the subscription.
func (in *Ingest) Close() error {
	return in.sub.Unsubscribe()
}

func (in *Ingest) handle(msg *nats.Msg) {
	chatID := msg.Subject[strings.LastIndexByte(msg.Subject, '.')+1:]

	kind, ev, err := state.DecodeEnvelope(msg.Data)
	if err == nil {
		err = in.applier.Apply(context.Background(), chatID, ev)
	}

	reply := IngestReply{Status: "applied", Event: kind}
	switch {
	case errors.Is(err, state.ErrUnknownEvent):
		in.logger.Debug("Ignoring unknown event", "chat_id", chatID, "event", kind)
		reply.Status = "ignored"
	case err != nil:
		in.logger.Warn("Rejected event from NATS", "subject", msg.Subject, "error", err)
		reply.Status = "rejected"
		reply.Error = err.Error()
	}

	if msg.Reply == "" {
		return
	}
	body, _ := json.Marshal(reply)
	if err := msg.Respond(body); err != nil {
		in.logger.Debug("Failed to reply", "subject", msg.Reply, "error", err)
	}
}
