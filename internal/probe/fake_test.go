package probe

import (
	"errors"
	"sync"

	"github.com/baptistax/ice-probe/internal/transport"
)

// fakeTransport records what the controller asked of it and lets tests emit
// events through the handler it was dialed with.
type fakeTransport struct {
	mu       sync.Mutex
	handler  transport.Handler
	servers  []transport.ICEServer
	primed   int
	closed   int
	primeErr error
	onPrime  func(h transport.Handler)
}

func (f *fakeTransport) Prime() error {
	f.mu.Lock()
	f.primed++
	err, hook, h := f.primeErr, f.onPrime, f.handler
	f.mu.Unlock()
	if err != nil {
		return err
	}
	if hook != nil {
		hook(h)
	}
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func (f *fakeTransport) Closed() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeTransport) emitCandidate(raw string) { f.handler.Candidate(raw) }

func (f *fakeTransport) emitState(s transport.GatheringState) { f.handler.GatheringState(s) }

type fakeDialer struct {
	mu       sync.Mutex
	dialed   []*fakeTransport
	dialErr  error
	primeErr error
	onPrime  func(h transport.Handler)
	// onDial runs inside Dial before it returns, e.g. to stall it.
	onDial func(h transport.Handler)
}

func (d *fakeDialer) Dial(servers []transport.ICEServer, h transport.Handler) (transport.Transport, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.onDial != nil {
		d.onDial(h)
	}
	if d.dialErr != nil {
		return nil, d.dialErr
	}
	t := &fakeTransport{handler: h, servers: servers, primeErr: d.primeErr, onPrime: d.onPrime}
	d.dialed = append(d.dialed, t)
	return t, nil
}

func (d *fakeDialer) last() *fakeTransport {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.dialed) == 0 {
		return nil
	}
	return d.dialed[len(d.dialed)-1]
}

var errBoom = errors.New("boom")

const (
	hostCand  = "candidate:1 1 udp 2122260223 192.168.1.10 54321 typ host generation 0"
	srflxCand = "candidate:2 1 udp 1686052607 203.0.113.7 61000 typ srflx raddr 192.168.1.10 rport 54321"
	relayCand = "candidate:3 1 udp 41885439 198.51.100.4 50000 typ relay raddr 203.0.113.7 rport 61000"
)

var (
	stunOnly = ServerConfig{StunURL: "stun:stun.l.google.com:19302"}
	withTURN = ServerConfig{
		StunURL:        "stun:stun.l.google.com:19302",
		TurnURL:        "turn:turn.example.org:3478",
		TurnUsername:   "user",
		TurnCredential: "secret",
	}
)
