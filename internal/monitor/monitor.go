package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/baptistax/ice-probe/internal/app"
	"github.com/baptistax/ice-probe/internal/report"
	"github.com/baptistax/ice-probe/internal/transport"
)

type Event struct {
	AtUTC    time.Time
	Kind     string // "initial" | "changed"
	Message  string
	Previous *report.RunReport
	Current  *report.RunReport
}

type Options struct {
	Interval time.Duration
	Probe    app.ProbeOptions
}

// Run probes every Interval until ctx ends and reports the first result plus
// every verdict change. A configuration error stops the loop immediately.
func Run(ctx context.Context, dialer transport.Dialer, opt Options, onEvent func(Event)) error {
	var prev *report.RunReport

	ticker := time.NewTicker(opt.Interval)
	defer ticker.Stop()

	take := func() error {
		r, err := app.RunProbe(ctx, dialer, opt.Probe)
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			// Interrupted probes say nothing about the servers.
			return nil
		}

		switch {
		case prev == nil:
			onEvent(Event{
				AtUTC:   time.Now().UTC(),
				Kind:    "initial",
				Message: describe(&r),
				Current: &r,
			})
		case changed(prev, &r):
			onEvent(Event{
				AtUTC:    time.Now().UTC(),
				Kind:     "changed",
				Message:  describe(prev) + " -> " + describe(&r),
				Previous: prev,
				Current:  &r,
			})
		}
		prev = &r
		return nil
	}

	// First probe immediately.
	if err := take(); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := take(); err != nil {
				return err
			}
		}
	}
}

func describe(r *report.RunReport) string {
	return fmt.Sprintf("%s (stun %s, turn %s)", r.Verdict.Overall, r.Verdict.Stun, r.Verdict.Turn)
}

// changed compares verdicts and the presence of each candidate type. Raw
// counts are ignored since they fluctuate with local interfaces.
func changed(a, b *report.RunReport) bool {
	if a.Verdict.Overall != b.Verdict.Overall || a.Verdict.Stun != b.Verdict.Stun || a.Verdict.Turn != b.Verdict.Turn {
		return true
	}
	if a.Summary.State != b.Summary.State {
		return true
	}
	if (a.Summary.HostCount > 0) != (b.Summary.HostCount > 0) {
		return true
	}
	return false
}
