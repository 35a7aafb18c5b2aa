package pion

import (
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/baptistax/ice-probe/internal/candidate"
	"github.com/baptistax/ice-probe/internal/transport"
)

func TestICEServers(t *testing.T) {
	in := []transport.ICEServer{
		{URLs: []string{"stun:stun.l.google.com:19302"}},
		{URLs: []string{"turn:turn.example.org:3478"}, Username: "u", Credential: "p"},
	}
	out := ICEServers(in)
	if len(out) != 2 {
		t.Fatalf("len = %d", len(out))
	}
	if out[0].URLs[0] != "stun:stun.l.google.com:19302" || out[0].Username != "" {
		t.Fatalf("stun server = %+v", out[0])
	}
	if out[1].Username != "u" || out[1].Credential != "p" {
		t.Fatalf("turn server = %+v", out[1])
	}

	in[0].URLs[0] = "mutated"
	if out[0].URLs[0] == "mutated" {
		t.Fatalf("URLs slice shared with input")
	}
}

type recorder struct {
	mu         sync.Mutex
	candidates []string
	states     []transport.GatheringState
	complete   chan struct{}
}

func newRecorder() *recorder { return &recorder{complete: make(chan struct{})} }

func (r *recorder) Candidate(raw string) {
	r.mu.Lock()
	r.candidates = append(r.candidates, raw)
	r.mu.Unlock()
}

func (r *recorder) GatheringState(s transport.GatheringState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s)
	if s == transport.GatheringComplete {
		select {
		case <-r.complete:
		default:
			close(r.complete)
		}
	}
}

// Without ICE servers pion gathers host candidates only, so this needs no network.
func TestDialPrime_GathersHostCandidatesAndCompletes(t *testing.T) {
	rec := newRecorder()
	d := NewDialer(slog.New(slog.NewTextHandler(io.Discard, nil)))

	tr, err := d.Dial(nil, rec)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer tr.Close()

	if err := tr.Prime(); err != nil {
		t.Fatalf("Prime: %v", err)
	}

	select {
	case <-rec.complete:
	case <-time.After(10 * time.Second):
		t.Fatalf("gathering never completed")
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.states[len(rec.states)-1] != transport.GatheringComplete {
		t.Fatalf("states = %v", rec.states)
	}
	for _, raw := range rec.candidates {
		if !strings.HasPrefix(raw, "candidate:") {
			t.Fatalf("raw candidate %q lacks prefix", raw)
		}
		c, err := candidate.Classify(raw, time.Now())
		if err != nil {
			t.Fatalf("Classify(%q): %v", raw, err)
		}
		if c.Type != candidate.TypeHost {
			t.Fatalf("candidate %q type = %s without servers", raw, c.Type)
		}
	}
}

func TestClose_Idempotent(t *testing.T) {
	tr, err := NewDialer(nil).Dial(nil, newRecorder())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	if err := tr.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := tr.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}
