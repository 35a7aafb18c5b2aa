package probe

import (
	"strings"

	"github.com/pion/stun/v3"

	"github.com/baptistax/ice-probe/internal/transport"
)

// ServerConfig names the servers one probe runs against. TURN is attempted
// only when all three TURN fields are set.
type ServerConfig struct {
	StunURL        string `json:"stunUrl" yaml:"stun_url"`
	TurnURL        string `json:"turnUrl,omitempty" yaml:"turn_url"`
	TurnUsername   string `json:"turnUsername,omitempty" yaml:"turn_username"`
	TurnCredential string `json:"turnCredential,omitempty" yaml:"turn_credential"`
}

func (c ServerConfig) HasTURN() bool {
	return c.TurnURL != "" && c.TurnUsername != "" && c.TurnCredential != ""
}

// Validate reports the first problem found as a *ConfigError.
func (c ServerConfig) Validate() error {
	if strings.TrimSpace(c.StunURL) == "" {
		return &ConfigError{Field: "stunUrl", Reason: "is required"}
	}
	if err := checkURI("stunUrl", c.StunURL, stun.SchemeTypeSTUN, stun.SchemeTypeSTUNS); err != nil {
		return err
	}

	set := 0
	for _, v := range []string{c.TurnURL, c.TurnUsername, c.TurnCredential} {
		if v != "" {
			set++
		}
	}
	switch {
	case set == 0:
		return nil
	case set < 3:
		return &ConfigError{Field: missingTURNField(c), Reason: "turnUrl, turnUsername and turnCredential must be set together"}
	}
	return checkURI("turnUrl", c.TurnURL, stun.SchemeTypeTURN, stun.SchemeTypeTURNS)
}

func missingTURNField(c ServerConfig) string {
	switch {
	case c.TurnURL == "":
		return "turnUrl"
	case c.TurnUsername == "":
		return "turnUsername"
	default:
		return "turnCredential"
	}
}

func checkURI(field, raw string, schemes ...stun.SchemeType) error {
	u, err := stun.ParseURI(raw)
	if err != nil {
		return &ConfigError{Field: field, Reason: "invalid URI " + quote(raw), Err: err}
	}
	for _, s := range schemes {
		if u.Scheme == s {
			return nil
		}
	}
	return &ConfigError{Field: field, Reason: "unexpected scheme " + quote(u.Scheme.String())}
}

func quote(s string) string { return "\"" + s + "\"" }

// ICEServers derives the descriptor list handed to the transport.
func (c ServerConfig) ICEServers() []transport.ICEServer {
	out := []transport.ICEServer{{URLs: []string{c.StunURL}}}
	if c.HasTURN() {
		out = append(out, transport.ICEServer{
			URLs:       []string{c.TurnURL},
			Username:   c.TurnUsername,
			Credential: c.TurnCredential,
		})
	}
	return out
}

// Redacted returns a copy that is safe to log.
func (c ServerConfig) Redacted() ServerConfig {
	if c.TurnCredential != "" {
		c.TurnCredential = "***"
	}
	return c
}
