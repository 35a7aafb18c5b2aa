// Package binding sends a plain STUN Binding request to each server and
// reports the address it observed. It checks the server directly, without
// ICE, which helps tell a dead STUN server from a blocked gathering path.
package binding

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/pion/stun/v3"
)

type Result struct {
	Server   string        `json:"server"`
	Address  string        `json:"address,omitempty"`
	Port     int           `json:"port,omitempty"`
	RTT      time.Duration `json:"rtt,omitempty"`
	Error    string        `json:"error,omitempty"`
	Software string        `json:"software,omitempty"`
}

func (r Result) OK() bool { return r.Error == "" && r.Address != "" }

func (r Result) Mapped() string {
	if r.Address == "" {
		return ""
	}
	return net.JoinHostPort(r.Address, strconv.Itoa(r.Port))
}

// Observe queries every server in order with a per-server timeout.
func Observe(ctx context.Context, servers []string, timeout time.Duration) []Result {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	out := make([]Result, 0, len(servers))
	for _, s := range servers {
		if s == "" {
			continue
		}
		sctx, cancel := context.WithTimeout(ctx, timeout)
		out = append(out, observe(sctx, s))
		cancel()
	}
	return out
}

var errNoMappedAddress = errors.New("xor-mapped-address not found")

func observe(ctx context.Context, server string) Result {
	res := Result{Server: server}

	uri, err := stun.ParseURI(server)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	if uri.Scheme != stun.SchemeTypeSTUN && uri.Scheme != stun.SchemeTypeSTUNS {
		res.Error = fmt.Sprintf("not a stun uri: %s", uri.Scheme)
		return res
	}

	c, err := stun.DialURI(uri, &stun.DialConfig{})
	if err != nil {
		res.Error = err.Error()
		return res
	}
	defer c.Close()

	type outcome struct {
		res Result
		err error
	}
	done := make(chan outcome, 1)
	start := time.Now()

	go func() {
		var o outcome
		msg := stun.MustBuild(stun.TransactionID, stun.BindingRequest)
		err := c.Do(msg, func(ev stun.Event) {
			if ev.Error != nil {
				o.err = ev.Error
				return
			}
			var xor stun.XORMappedAddress
			if err := xor.GetFrom(ev.Message); err != nil {
				o.err = errNoMappedAddress
				return
			}
			o.res.Address = xor.IP.String()
			o.res.Port = xor.Port

			var sw stun.Software
			if err := sw.GetFrom(ev.Message); err == nil {
				o.res.Software = sw.String()
			}
		})
		if err != nil && o.err == nil {
			o.err = err
		}
		done <- o
	}()

	select {
	case o := <-done:
		if o.err != nil {
			res.Error = o.err.Error()
			return res
		}
		res.Address, res.Port, res.Software = o.res.Address, o.res.Port, o.res.Software
		res.RTT = time.Since(start)
		return res
	case <-ctx.Done():
		res.Error = "no binding response: " + ctx.Err().Error()
		return res
	}
}
