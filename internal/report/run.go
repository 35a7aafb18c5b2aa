package report

import (
	"fmt"
	"time"

	"github.com/baptistax/ice-probe/internal/eventlog"
	"github.com/baptistax/ice-probe/internal/probe"
)

type Verdict struct {
	Overall string        `json:"overall"` // PASS|FAIL
	Stun    probe.Verdict `json:"stun"`
	Turn    probe.Verdict `json:"turn"`
	Reason  string        `json:"reason,omitempty"`
}

type RunReport struct {
	RunID      string             `json:"run_id"`
	StartedUTC time.Time          `json:"started_utc"`
	Timeout    time.Duration      `json:"timeout"`
	Config     probe.ServerConfig `json:"config"`

	Session probe.Snapshot   `json:"session"`
	Summary probe.Summary    `json:"summary"`
	Events  []eventlog.Entry `json:"events,omitempty"`
	Notes   []string         `json:"notes,omitempty"`

	Verdict Verdict `json:"verdict"`
}

func NewRunReport(cfg probe.ServerConfig, timeout time.Duration) RunReport {
	now := time.Now().UTC()
	return RunReport{
		RunID:      now.Format("20060102_150405"),
		StartedUTC: now,
		Timeout:    timeout,
		Config:     cfg.Redacted(),
	}
}

// Finish derives the verdict from the summary. It must run after Summary is set.
func (r *RunReport) Finish() {
	s := r.Summary
	r.Verdict = Verdict{
		Overall: "FAIL",
		Stun:    s.StunVerdict(),
		Turn:    s.TurnVerdict(),
	}
	if s.Passed() {
		r.Verdict.Overall = "PASS"
	}

	switch s.State {
	case probe.StateFailed:
		r.Verdict.Reason = "Probe failed before gathering finished: " + s.FailureReason
	case probe.StateTimedOut:
		r.Verdict.Reason = fmt.Sprintf("Gathering did not complete within %s; results are partial.", durShort(r.Timeout))
	default:
		switch {
		case !s.StunWorking:
			r.Verdict.Reason = "No server-reflexive candidate was discovered (STUN server unreachable or UDP blocked)."
		case s.TurnWorking != nil && !*s.TurnWorking:
			r.Verdict.Reason = "No relay candidate was discovered (TURN unreachable or credentials rejected)."
		}
	}
}
