// Package publish fans probe events out over Redis pub/sub so dashboards can
// follow probes started on any instance. Nothing is stored.
package publish

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/baptistax/ice-probe/internal/eventlog"
	"github.com/baptistax/ice-probe/internal/probe"
)

const DefaultPrefix = "iceprobe"

type Message struct {
	Session string          `json:"session"`
	Kind    string          `json:"kind"` // event|summary
	Entry   *eventlog.Entry `json:"entry,omitempty"`
	Summary *probe.Summary  `json:"summary,omitempty"`
}

type Publisher struct {
	client  redis.UniversalClient
	prefix  string
	timeout time.Duration
	logger  *slog.Logger
}

func New(client redis.UniversalClient, prefix string, logger *slog.Logger) *Publisher {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{client: client, prefix: prefix, timeout: 2 * time.Second, logger: logger}
}

// EventChannel is the channel carrying the events of one session.
func (p *Publisher) EventChannel(sessionID string) string {
	return p.prefix + ":events:" + sessionID
}

// SummaryChannel carries the summaries of all sessions.
func (p *Publisher) SummaryChannel() string {
	return p.prefix + ":summary"
}

// Sink returns an event log sink publishing each entry of sessionID.
// Publish failures are logged and never reach the probe.
func (p *Publisher) Sink(sessionID string) eventlog.Sink {
	ch := p.EventChannel(sessionID)
	return func(e eventlog.Entry) {
		p.publish(ch, Message{Session: sessionID, Kind: "event", Entry: &e})
	}
}

func (p *Publisher) PublishSummary(sessionID string, sum probe.Summary) {
	p.publish(p.SummaryChannel(), Message{Session: sessionID, Kind: "summary", Summary: &sum})
}

func (p *Publisher) publish(channel string, m Message) {
	payload, err := json.Marshal(m)
	if err != nil {
		p.logger.Warn("publish: encode", "channel", channel, "err", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	if err := p.client.Publish(ctx, channel, payload).Err(); err != nil {
		p.logger.Warn("publish: redis publish failed", "channel", channel, "err", err)
	}
}

func (p *Publisher) Close() error {
	return p.client.Close()
}
