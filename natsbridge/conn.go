// Package natsbridge mirrors per-chat state over NATS and accepts progress
// events published by out-of-process producers.
package natsbridge

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
)

// DefaultSubjectPrefix is the first token of every subject the bridge uses.
const DefaultSubjectPrefix = "legion"

// Config selects the NATS server to use.
type Config struct {
	// URL of an external server. Ignored when Embedded is set.
	URL string

	// Embedded starts an in-process server on a random port.
	Embedded bool

	// JetStream enables JetStream on the embedded server. StoreDir is where
	// it keeps its data; empty uses a temporary directory.
	JetStream bool
	StoreDir  string

	// Name is the client connection name.
	Name string
}

// Conn is a client connection plus the embedded server behind it, if any.
type Conn struct {
	NC *nats.Conn

	server *server.Server
	logger *slog.Logger
}

// Connect connects to cfg.URL or starts an embedded server.
func Connect(ctx context.Context, cfg Config, logger *slog.Logger) (*Conn, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	name := cfg.Name
	if name == "" {
		name = "legion"
	}

	if !cfg.Embedded {
		if cfg.URL == "" {
			return nil, fmt.Errorf("connect to NATS: no URL configured")
		}
		nc, err := nats.Connect(cfg.URL,
			nats.Name(name),
			nats.MaxReconnects(5),
			nats.ReconnectWait(time.Second))
		if err != nil {
			return nil, fmt.Errorf("connect to NATS: %w", err)
		}
		logger.Info("Connected to NATS", "url", cfg.URL)
		return &Conn{NC: nc, logger: logger}, nil
	}

	ns, err := server.NewServer(&server.Options{
		Port:      -1,
		JetStream: cfg.JetStream,
		StoreDir:  cfg.StoreDir,
		NoLog:     true,
		NoSigs:    true,
	})
	if err != nil {
		return nil, fmt.Errorf("create embedded NATS server: %w", err)
	}
	go ns.Start()

	if !ns.ReadyForConnections(5 * time.Second) {
		ns.Shutdown()
		return nil, fmt.Errorf("embedded NATS server failed to start")
	}

	nc, err := nats.Connect(ns.ClientURL(), nats.Name(name))
	if err != nil {
		ns.Shutdown()
		return nil, fmt.Errorf("connect to embedded NATS: %w", err)
	}
	logger.Info("Started embedded NATS", "url", ns.ClientURL(), "jetstream", cfg.JetStream)
	return &Conn{NC: nc, server: ns, logger: logger}, nil
}

// ClientURL is the URL other clients can use to reach the same server.
func (c *Conn) ClientURL() string {
	if c.server != nil {
		return c.server.ClientURL()
	}
	return c.NC.ConnectedUrl()
}

// Close drains the connection and stops the embedded server.
func (c *Conn) Close() {
	if c.NC != nil {
		if err := c.NC.Drain(); err != nil {
			c.logger.Debug("NATS drain failed", "error", err)
		}
		c.NC.Close()
	}
	if c.server != nil {
		c.server.Shutdown()
		c.server.WaitForShutdown()
	}
}

// token makes s safe to use as one subject token.
func token(s string) string {
	if s == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\r', '\n':
			return '_'
		}
		return r
	}, s)
}

// ChatSubject is the subject a chat stream is mirrored to.
func ChatSubject(prefix, chatID, stream string) string {
	return fmt.Sprintf("%s.chat.%s.%s", prefix, token(chatID), token(stream))
}

// EventSubject is the subject events for a chat are accepted on.
func EventSubject(prefix, chatID string) string {
	return fmt.Sprintf("%s.events.%s", prefix, token(chatID))
}
