package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/baptistax/ice-probe/internal/eventlog"
	"github.com/baptistax/ice-probe/internal/probe"
	"github.com/baptistax/ice-probe/internal/report"
	"github.com/baptistax/ice-probe/internal/transport"
)

type ProbeOptions struct {
	Config  probe.ServerConfig
	Timeout time.Duration
	Logger  *slog.Logger
	// OnEvent sees every event log entry as it is appended.
	OnEvent func(eventlog.Entry)
}

// RunProbe runs one probe to its terminal state and builds the report.
// The only error returned is the *probe.ConfigError from Start. If ctx ends
// first the probe is reset and the report describes the failed session.
func RunProbe(ctx context.Context, dialer transport.Dialer, opt ProbeOptions) (report.RunReport, error) {
	if opt.Timeout <= 0 {
		opt.Timeout = probe.DefaultTimeout
	}

	copts := probe.Options{Timeout: opt.Timeout, Logger: opt.Logger}
	if opt.OnEvent != nil {
		copts.Sinks = append(copts.Sinks, func(string) eventlog.Sink { return opt.OnEvent })
	}
	ctrl := probe.NewController(dialer, copts)

	r := report.NewRunReport(opt.Config, opt.Timeout)

	sess, err := ctrl.Start(opt.Config)
	if err != nil {
		return r, err
	}

	select {
	case <-sess.Done():
	case <-ctx.Done():
		ctrl.Reset()
		r.Notes = append(r.Notes, "probe interrupted: "+ctx.Err().Error())
	}

	snap := sess.Snapshot()
	sum, err := probe.BuildSummary(snap)
	if err != nil {
		// Unreachable: both branches above leave the session terminal.
		return r, err
	}
	ctrl.Reset()

	r.Session = snap
	r.Summary = sum
	r.Events = sess.Log().Entries()
	if sum.UnknownCount > 0 {
		r.Notes = append(r.Notes, "some candidates had an unrecognized type or malformed fields; see events")
	}
	r.Finish()
	return r, nil
}
