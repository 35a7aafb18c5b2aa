// Package eventlog is the append-only, timestamped record of probe events
// shown to operators while a probe runs.
package eventlog

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

type Severity string

const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
	SeverityDebug   Severity = "debug"
)

func (s Severity) slogLevel() slog.Level {
	switch s {
	case SeverityDebug:
		return slog.LevelDebug
	case SeverityWarning:
		return slog.LevelWarn
	case SeverityError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type Entry struct {
	Seq       int       `json:"seq"`
	Timestamp time.Time `json:"timestamp"`
	Severity  Severity  `json:"severity"`
	Message   string    `json:"message"`
}

// Sink receives every entry in append order. Sinks run synchronously on the
// appending goroutine and must not append to the same log.
type Sink func(Entry)

type Log struct {
	// emitMu serializes Append end to end so sinks observe entries in order.
	emitMu sync.Mutex

	mu      sync.Mutex
	entries []Entry
	sinks   []Sink
	changed chan struct{}

	now    func() time.Time
	logger *slog.Logger
	attrs  []any
}

type Option func(*Log)

// WithClock overrides time.Now for entry timestamps.
func WithClock(now func() time.Time) Option {
	return func(l *Log) { l.now = now }
}

// WithLogger mirrors every entry to logger at the matching level.
func WithLogger(logger *slog.Logger, attrs ...any) Option {
	return func(l *Log) {
		l.logger = logger
		l.attrs = attrs
	}
}

func New(opts ...Option) *Log {
	l := &Log{
		now:     time.Now,
		changed: make(chan struct{}),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

func (l *Log) Subscribe(s Sink) {
	if s == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sinks = append(l.sinks, s)
}

func (l *Log) Append(sev Severity, msg string) Entry {
	l.emitMu.Lock()
	defer l.emitMu.Unlock()

	l.mu.Lock()
	e := Entry{
		Seq:       len(l.entries) + 1,
		Timestamp: l.now().UTC(),
		Severity:  sev,
		Message:   msg,
	}
	l.entries = append(l.entries, e)
	sinks := append([]Sink(nil), l.sinks...)
	close(l.changed)
	l.changed = make(chan struct{})
	l.mu.Unlock()

	if l.logger != nil {
		l.logger.Log(context.Background(), sev.slogLevel(), msg, append([]any{"severity", string(sev)}, l.attrs...)...)
	}
	for _, s := range sinks {
		s(e)
	}
	return e
}

func (l *Log) Infof(format string, args ...any) Entry {
	return l.Append(SeverityInfo, fmt.Sprintf(format, args...))
}

func (l *Log) Successf(format string, args ...any) Entry {
	return l.Append(SeveritySuccess, fmt.Sprintf(format, args...))
}

func (l *Log) Warnf(format string, args ...any) Entry {
	return l.Append(SeverityWarning, fmt.Sprintf(format, args...))
}

func (l *Log) Errorf(format string, args ...any) Entry {
	return l.Append(SeverityError, fmt.Sprintf(format, args...))
}

func (l *Log) Debugf(format string, args ...any) Entry {
	return l.Append(SeverityDebug, fmt.Sprintf(format, args...))
}

func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Entries returns a copy of the full log.
func (l *Log) Entries() []Entry {
	return l.Since(0)
}

// Since returns a copy of the entries whose Seq is greater than seq.
func (l *Log) Since(seq int) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	if seq < 0 {
		seq = 0
	}
	if seq >= len(l.entries) {
		return nil
	}
	return append([]Entry(nil), l.entries[seq:]...)
}

// Wait blocks until the log holds entries beyond seq and returns them.
// It returns ctx.Err() if the context ends first.
func (l *Log) Wait(ctx context.Context, seq int) ([]Entry, error) {
	for {
		l.mu.Lock()
		if seq < len(l.entries) {
			out := append([]Entry(nil), l.entries[max(seq, 0):]...)
			l.mu.Unlock()
			return out, nil
		}
		ch := l.changed
		l.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ch:
		}
	}
}
