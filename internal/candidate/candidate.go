package candidate

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

type Type string

const (
	TypeHost            Type = "host"
	TypeServerReflexive Type = "serverReflexive"
	TypeRelay           Type = "relay"
	TypeUnknown         Type = "unknown"
)

type Transport string

const (
	TransportUDP     Transport = "udp"
	TransportTCP     Transport = "tcp"
	TransportUnknown Transport = "unknown"
)

// Candidate is one discovered network path. Values are never mutated after Classify returns them.
type Candidate struct {
	Type         Type      `json:"type"`
	Transport    Transport `json:"transport"`
	Address      string    `json:"address"`
	Port         uint16    `json:"port"`
	Foundation   string    `json:"foundation"`
	Priority     uint32    `json:"priority"`
	DiscoveredAt time.Time `json:"discovered_at"`

	Component      int    `json:"component,omitempty"`
	RawType        string `json:"raw_type,omitempty"` // e.g. srflx, prflx
	RelatedAddress string `json:"related_address,omitempty"`
	RelatedPort    uint16 `json:"related_port,omitempty"`
	TCPType        string `json:"tcp_type,omitempty"`
	Raw            string `json:"raw"`
}

func (c Candidate) String() string {
	s := fmt.Sprintf("%s %s %s foundation=%s priority=%d",
		c.Type, c.Transport, c.HostPort(), printable(c.Foundation), c.Priority)
	if c.Type == TypeUnknown && c.RawType != "" {
		s += " typ=" + c.RawType
	}
	if c.RelatedAddress != "" {
		s += fmt.Sprintf(" related=%s:%d", c.RelatedAddress, c.RelatedPort)
	}
	return s
}

func (c Candidate) HostPort() string {
	addr := printable(c.Address)
	if strings.Contains(addr, ":") {
		return fmt.Sprintf("[%s]:%d", addr, c.Port)
	}
	return fmt.Sprintf("%s:%d", addr, c.Port)
}

func printable(s string) string {
	if s == "" {
		return "?"
	}
	return s
}

// ErrEmpty is wrapped by the ParseError returned for blank input.
var ErrEmpty = errors.New("empty candidate")

// ParseError reports fields of a candidate string that could not be parsed.
// Except for blank input the candidate is still returned alongside it.
type ParseError struct {
	Raw    string
	Fields []string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return "candidate parse: " + e.Err.Error()
	}
	return fmt.Sprintf("candidate parse: malformed %s in %q", strings.Join(e.Fields, ", "), e.Raw)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Classify parses an ICE candidate attribute string:
//
//	candidate:<foundation> <component> <transport> <priority> <address> <port> typ <type> [raddr <a> rport <p>] ...
func Classify(raw string, at time.Time) (Candidate, error) {
	trimmed := strings.TrimSpace(raw)
	trimmed = strings.TrimPrefix(trimmed, "a=")
	trimmed = strings.TrimPrefix(trimmed, "candidate:")
	fields := strings.Fields(trimmed)
	if len(fields) == 0 {
		return Candidate{}, &ParseError{Raw: raw, Err: ErrEmpty}
	}

	c := Candidate{
		Type:         TypeUnknown,
		Transport:    TransportUnknown,
		DiscoveredAt: at,
		Raw:          raw,
	}
	var bad []string

	c.Foundation = fields[0]

	if v, ok := field(fields, 1); ok {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 256 {
			bad = append(bad, "component")
		} else {
			c.Component = n
		}
	} else {
		bad = append(bad, "component")
	}

	if v, ok := field(fields, 2); ok {
		switch strings.ToLower(v) {
		case "udp":
			c.Transport = TransportUDP
		case "tcp":
			c.Transport = TransportTCP
		default:
			bad = append(bad, "transport")
		}
	} else {
		bad = append(bad, "transport")
	}

	if v, ok := field(fields, 3); ok {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			bad = append(bad, "priority")
		} else {
			c.Priority = uint32(n)
		}
	} else {
		bad = append(bad, "priority")
	}

	if v, ok := field(fields, 4); ok {
		c.Address = v
	} else {
		bad = append(bad, "address")
	}

	if v, ok := field(fields, 5); ok {
		n, err := strconv.ParseUint(v, 10, 16)
		if err != nil {
			bad = append(bad, "port")
		} else {
			c.Port = uint16(n)
		}
	} else {
		bad = append(bad, "port")
	}

	// Extension attributes are name/value pairs from here on.
	sawType := false
	for i := 6; i+1 < len(fields); i += 2 {
		name, val := strings.ToLower(fields[i]), fields[i+1]
		switch name {
		case "typ":
			sawType = true
			c.RawType = val
			c.Type = typeOf(val)
		case "raddr":
			c.RelatedAddress = val
		case "rport":
			if n, err := strconv.ParseUint(val, 10, 16); err == nil {
				c.RelatedPort = uint16(n)
			} else {
				bad = append(bad, "rport")
			}
		case "tcptype":
			c.TCPType = val
		}
	}
	if !sawType {
		bad = append(bad, "typ")
	}

	if len(bad) > 0 {
		// A malformed line never counts toward a verdict; RawType keeps what it claimed.
		c.Type = TypeUnknown
		return c, &ParseError{Raw: raw, Fields: bad}
	}
	return c, nil
}

func field(fields []string, i int) (string, bool) {
	if i >= len(fields) {
		return "", false
	}
	return fields[i], true
}

func typeOf(s string) Type {
	switch strings.ToLower(s) {
	case "host":
		return TypeHost
	case "srflx":
		return TypeServerReflexive
	case "relay":
		return TypeRelay
	default:
		// prflx only appears with a remote peer; treat it like any other unexpected type.
		return TypeUnknown
	}
}
