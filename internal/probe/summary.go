package probe

import "github.com/baptistax/ice-probe/internal/candidate"

// Summary is the diagnosis derived from a terminal session.
type Summary struct {
	State                State  `json:"state"`
	DurationMs           int64  `json:"durationMs"`
	StunWorking          bool   `json:"stunWorking"`
	TurnWorking          *bool  `json:"turnWorking"` // nil when TURN is not configured
	HostCount            uint   `json:"hostCount"`
	ServerReflexiveCount uint   `json:"serverReflexiveCount"`
	RelayCount           uint   `json:"relayCount"`
	UnknownCount         uint   `json:"unknownCount"`
	FailureReason        string `json:"failureReason,omitempty"`
}

// BuildSummary counts candidates by type, not by address uniqueness.
func BuildSummary(s Snapshot) (Summary, error) {
	if !s.State.Terminal() {
		return Summary{}, ErrNotTerminal
	}

	sum := Summary{
		State:         s.State,
		FailureReason: s.FailureReason,
	}
	if !s.StartedAt.IsZero() && s.EndedAt.After(s.StartedAt) {
		sum.DurationMs = s.EndedAt.Sub(s.StartedAt).Milliseconds()
	}

	for _, c := range s.Candidates {
		switch c.Type {
		case candidate.TypeHost:
			sum.HostCount++
		case candidate.TypeServerReflexive:
			sum.ServerReflexiveCount++
		case candidate.TypeRelay:
			sum.RelayCount++
		default:
			sum.UnknownCount++
		}
	}

	sum.StunWorking = sum.ServerReflexiveCount > 0
	if s.Config.HasTURN() {
		ok := sum.RelayCount > 0
		sum.TurnWorking = &ok
	}
	return sum, nil
}

// Passed reports whether STUN works and, when configured, TURN works too.
func (s Summary) Passed() bool {
	if !s.StunWorking {
		return false
	}
	return s.TurnWorking == nil || *s.TurnWorking
}

type Verdict string

const (
	VerdictWorking       Verdict = "working"
	VerdictNotWorking    Verdict = "not working"
	VerdictNotConfigured Verdict = "not configured"
)

func (s Summary) StunVerdict() Verdict {
	if s.StunWorking {
		return VerdictWorking
	}
	return VerdictNotWorking
}

func (s Summary) TurnVerdict() Verdict {
	switch {
	case s.TurnWorking == nil:
		return VerdictNotConfigured
	case *s.TurnWorking:
		return VerdictWorking
	default:
		return VerdictNotWorking
	}
}
