package api

import (
	"time"

	"github.com/baptistax/ice-probe/internal/eventlog"
	"github.com/baptistax/ice-probe/internal/probe"
)

// ProbeRequest is the body of POST /probe.
type ProbeRequest struct {
	StunURL        string `json:"stunUrl"`
	TurnURL        string `json:"turnUrl,omitempty"`
	TurnUsername   string `json:"turnUsername,omitempty"`
	TurnCredential string `json:"turnCredential,omitempty"`
	TimeoutMS      int64  `json:"timeoutMs,omitempty"`
}

func (r ProbeRequest) ServerConfig() probe.ServerConfig {
	return probe.ServerConfig{
		StunURL:        r.StunURL,
		TurnURL:        r.TurnURL,
		TurnUsername:   r.TurnUsername,
		TurnCredential: r.TurnCredential,
	}
}

type ProbeCreated struct {
	ID    string      `json:"id"`
	State probe.State `json:"state"`
}

// EventsResponse is returned by the polling form of GET /probe/{id}/events.
// Pass Next as ?since= to fetch only newer entries.
type EventsResponse struct {
	ID      string           `json:"id"`
	State   probe.State      `json:"state"`
	Entries []eventlog.Entry `json:"entries"`
	Next    int              `json:"next"`
}

type SummaryResponse struct {
	ID         string         `json:"id"`
	Summary    probe.Summary  `json:"summary"`
	Candidates []CandidateRow `json:"candidates"`
}

type CandidateRow struct {
	Type         string `json:"type"`
	Transport    string `json:"transport"`
	Address      string `json:"address"`
	Port         uint16 `json:"port"`
	Foundation   string `json:"foundation"`
	Priority     uint32 `json:"priority"`
	DiscoveredAt string `json:"discoveredAt"`
}

type Pending struct {
	Status string      `json:"status"`
	State  probe.State `json:"state"`
}

// APIError is a standard error payload.
type APIError struct {
	Error     string `json:"error"`
	Field     string `json:"field,omitempty"`
	Timestamp string `json:"timestamp"` // RFC3339
}

// TimeNow abstracts time for tests.
var TimeNow = func() time.Time { return time.Now() }

func candidateRows(s probe.Snapshot) []CandidateRow {
	out := make([]CandidateRow, 0, len(s.Candidates))
	for _, c := range s.Candidates {
		out = append(out, CandidateRow{
			Type:         string(c.Type),
			Transport:    string(c.Transport),
			Address:      c.Address,
			Port:         c.Port,
			Foundation:   c.Foundation,
			Priority:     c.Priority,
			DiscoveredAt: c.DiscoveredAt.UTC().Format(time.RFC3339Nano),
		})
	}
	return out
}
