package probe

import (
	"errors"
	"sync"
	"time"

	"github.com/baptistax/ice-probe/internal/candidate"
	"github.com/baptistax/ice-probe/internal/eventlog"
	"github.com/baptistax/ice-probe/internal/transport"
)

// State is the lifecycle state of one probe session:
//
//	idle      -> gathering
//	gathering -> complete | timedOut | failed
//
// Terminal states are absorbing.
type State string

const (
	StateIdle      State = "idle"
	StateGathering State = "gathering"
	StateComplete  State = "complete"
	StateTimedOut  State = "timedOut"
	StateFailed    State = "failed"
)

func (s State) Terminal() bool {
	return s == StateComplete || s == StateTimedOut || s == StateFailed
}

// ErrInvalidTransition is returned when a session is asked to make an illegal transition.
var ErrInvalidTransition = errors.New("invalid probe state transition")

func allowedTransition(cur, next State) bool {
	switch cur {
	case StateIdle:
		return next == StateGathering
	case StateGathering:
		return next.Terminal()
	default:
		return false
	}
}

// Snapshot is a copy of a session safe to retain without locking.
type Snapshot struct {
	ID            string                `json:"id"`
	State         State                 `json:"state"`
	Config        ServerConfig          `json:"config"`
	Candidates    []candidate.Candidate `json:"candidates"`
	StartedAt     time.Time             `json:"started_at,omitempty"`
	EndedAt       time.Time             `json:"ended_at,omitempty"`
	FailureReason string                `json:"failure_reason,omitempty"`
}

// Session accumulates the candidates of one probe. All mutation goes through
// its methods, which serialize on an internal lock.
type Session struct {
	id       string
	config   ServerConfig
	deadline time.Duration
	now      func() time.Time
	log      *eventlog.Log

	mu            sync.Mutex
	state         State
	candidates    []candidate.Candidate
	startedAt     time.Time
	endedAt       time.Time
	failureReason string
	cause         error
	done          chan struct{}
}

func newSession(id string, cfg ServerConfig, deadline time.Duration, now func() time.Time, log *eventlog.Log) *Session {
	return &Session{
		id:       id,
		config:   cfg,
		deadline: deadline,
		now:      now,
		log:      log,
		state:    StateIdle,
		done:     make(chan struct{}),
	}
}

func (s *Session) ID() string            { return s.id }
func (s *Session) Config() ServerConfig  { return s.config }
func (s *Session) Log() *eventlog.Log    { return s.log }
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the terminal cause: nil for complete, ErrTimeout for timedOut,
// the recorded error for failed.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cause
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		ID:            s.id,
		State:         s.state,
		Config:        s.config.Redacted(),
		Candidates:    append([]candidate.Candidate(nil), s.candidates...),
		StartedAt:     s.startedAt,
		EndedAt:       s.endedAt,
		FailureReason: s.failureReason,
	}
}

// Start moves the session from idle to gathering.
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.transitionLocked(StateGathering); err != nil {
		return err
	}
	s.startedAt = s.now()

	msg := "gathering started stun=" + s.config.StunURL
	if s.config.HasTURN() {
		msg += " turn=" + s.config.TurnURL
	}
	s.log.Infof("%s", msg)
	return nil
}

// OnCandidate classifies a raw candidate and appends it while gathering.
func (s *Session) OnCandidate(raw string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateGathering {
		s.log.Debugf("late candidate ignored state=%s raw=%q", s.state, raw)
		return
	}

	c, err := candidate.Classify(raw, s.now())
	if errors.Is(err, candidate.ErrEmpty) {
		s.log.Errorf("%v", err)
		return
	}
	s.candidates = append(s.candidates, c)
	s.log.Successf("candidate #%d %s", len(s.candidates), c)
	if err != nil {
		s.log.Warnf("%v", err)
	}
}

// OnStateChange handles a gathering-state event from the transport.
func (s *Session) OnStateChange(gs transport.GatheringState) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateGathering {
		s.log.Debugf("late gathering state %q ignored state=%s", gs, s.state)
		return
	}
	if gs != transport.GatheringComplete {
		s.log.Debugf("gathering state %s", gs)
		return
	}
	s.terminateLocked(StateComplete, s.now(), nil, func() {
		s.log.Infof("gathering complete candidates=%d elapsed=%s", len(s.candidates), s.endedAt.Sub(s.startedAt).Round(time.Millisecond))
	})
}

// TimeOut ends a gathering session at its deadline. It reports whether the
// session changed state.
func (s *Session) TimeOut() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.terminateLocked(StateTimedOut, s.startedAt.Add(s.deadline), ErrTimeout, func() {
		s.log.Warnf("no completion signal within %s, keeping %d candidate(s)", s.deadline, len(s.candidates))
	})
}

// Fail ends a gathering session with err as the failure reason. It reports
// whether the session changed state.
func (s *Session) Fail(err error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.terminateLocked(StateFailed, s.now(), err, func() {
		s.failureReason = err.Error()
		s.log.Errorf("probe failed: %s", s.failureReason)
	})
}

func (s *Session) transitionLocked(next State) error {
	if !allowedTransition(s.state, next) {
		return ErrInvalidTransition
	}
	s.state = next
	return nil
}

// terminateLocked records the terminal state and runs record before Done is
// closed, so anyone woken by Done sees the final log entry.
func (s *Session) terminateLocked(next State, at time.Time, cause error, record func()) bool {
	if err := s.transitionLocked(next); err != nil {
		return false
	}
	s.endedAt = at
	s.cause = cause
	record()
	close(s.done)
	return true
}
