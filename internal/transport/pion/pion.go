// Package pion supplies the transport capability on top of pion/webrtc.
package pion

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/baptistax/ice-probe/internal/transport"
)

const dataChannelLabel = "ice-probe"

type Dialer struct {
	Logger *slog.Logger
}

func NewDialer(logger *slog.Logger) *Dialer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dialer{Logger: logger}
}

func (d *Dialer) Dial(servers []transport.ICEServer, h transport.Handler) (transport.Transport, error) {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{
		ICEServers: ICEServers(servers),
	})
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			// End-of-candidates marker; completion arrives via the state callback.
			return
		}
		h.Candidate(c.ToJSON().Candidate)
	})
	pc.OnICEGatheringStateChange(func(s webrtc.ICEGatheringState) {
		switch s {
		case webrtc.ICEGatheringStateNew:
			h.GatheringState(transport.GatheringNew)
		case webrtc.ICEGatheringStateGathering:
			h.GatheringState(transport.GatheringActive)
		case webrtc.ICEGatheringStateComplete:
			h.GatheringState(transport.GatheringComplete)
		default:
			d.Logger.Debug("pion: unhandled gathering state", "state", s.String())
		}
	})

	return &peer{pc: pc, logger: d.Logger}, nil
}

// ICEServers maps descriptors onto pion's configuration type.
func ICEServers(in []transport.ICEServer) []webrtc.ICEServer {
	out := make([]webrtc.ICEServer, 0, len(in))
	for _, s := range in {
		srv := webrtc.ICEServer{URLs: append([]string(nil), s.URLs...)}
		if s.Username != "" || s.Credential != "" {
			srv.Username = s.Username
			srv.Credential = s.Credential
		}
		out = append(out, srv)
	}
	return out
}

type peer struct {
	pc     *webrtc.PeerConnection
	logger *slog.Logger

	closeOnce sync.Once
	closeErr  error
}

func (p *peer) Prime() error {
	if _, err := p.pc.CreateDataChannel(dataChannelLabel, nil); err != nil {
		return fmt.Errorf("create data channel: %w", err)
	}
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("set local description: %w", err)
	}
	return nil
}

func (p *peer) Close() error {
	p.closeOnce.Do(func() {
		p.closeErr = p.pc.Close()
		if p.closeErr != nil {
			p.logger.Debug("pion: close peer connection", "err", p.closeErr)
		}
	})
	return p.closeErr
}
