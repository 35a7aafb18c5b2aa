// Package transport describes the ICE gathering capability the probe drives.
// Implementations deliver events on their own goroutines.
package transport

type ICEServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

type GatheringState string

const (
	GatheringNew      GatheringState = "new"
	GatheringActive   GatheringState = "gathering"
	GatheringComplete GatheringState = "complete"
)

// Handler receives transport events. Calls may arrive concurrently.
type Handler interface {
	Candidate(raw string)
	GatheringState(s GatheringState)
}

type Transport interface {
	// Prime forces candidate gathering without media, e.g. by opening a
	// data channel and setting a local offer.
	Prime() error
	Close() error
}

type Dialer interface {
	Dial(servers []ICEServer, h Handler) (Transport, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(servers []ICEServer, h Handler) (Transport, error)

func (f DialerFunc) Dial(servers []ICEServer, h Handler) (Transport, error) {
	return f(servers, h)
}
