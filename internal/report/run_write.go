package report

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/afero"

	"github.com/baptistax/ice-probe/internal/eventlog"
	"github.com/baptistax/ice-probe/internal/probe"
)

var (
	bannerStyle = lipgloss.NewStyle().Bold(true)
	passStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	failStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
	dimStyle    = lipgloss.NewStyle().Faint(true)

	severityStyles = map[eventlog.Severity]lipgloss.Style{
		eventlog.SeveritySuccess: lipgloss.NewStyle().Foreground(lipgloss.Color("10")),
		eventlog.SeverityWarning: lipgloss.NewStyle().Foreground(lipgloss.Color("11")),
		eventlog.SeverityError:   lipgloss.NewStyle().Foreground(lipgloss.Color("9")),
		eventlog.SeverityDebug:   lipgloss.NewStyle().Faint(true),
	}
)

func WriteRunJSON(fs afero.Fs, path string, r RunReport) error {
	if err := fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := fs.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

func WriteRunText(fs afero.Fs, path string, r RunReport) error {
	if err := fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return afero.WriteFile(fs, path, []byte(RenderRunText(r)), 0o644)
}

// RenderEvent formats one event log entry as a single line.
func RenderEvent(e eventlog.Entry) string {
	sev := fmt.Sprintf("%-7s", e.Severity)
	if st, ok := severityStyles[e.Severity]; ok {
		sev = st.Render(sev)
	}
	return fmt.Sprintf("[%s] %s %s", e.Timestamp.Format("15:04:05.000"), sev, e.Message)
}

func RenderRunText(r RunReport) string {
	var b strings.Builder

	writeBanner(&b)
	writeRunLine(&b, r)
	b.WriteString("\n")

	s := r.Summary
	b.WriteString(fmt.Sprintf("STUN: %s  (%s)\n", verdictText(s.StunVerdict()), r.Config.StunURL))
	if r.Config.HasTURN() {
		b.WriteString(fmt.Sprintf("TURN: %s  (%s)\n", verdictText(s.TurnVerdict()), r.Config.TurnURL))
	} else {
		b.WriteString("TURN: " + string(probe.VerdictNotConfigured) + "\n")
	}
	b.WriteString(fmt.Sprintf("State: %s  |  Duration: %dms\n", s.State, s.DurationMs))
	b.WriteString(fmt.Sprintf("Candidates: host=%d srflx=%d relay=%d", s.HostCount, s.ServerReflexiveCount, s.RelayCount))
	if s.UnknownCount > 0 {
		b.WriteString(fmt.Sprintf(" unknown=%d", s.UnknownCount))
	}
	b.WriteString("\n")

	if len(r.Session.Candidates) > 0 {
		b.WriteString("\n")
		for i, c := range r.Session.Candidates {
			at := c.DiscoveredAt.Sub(r.Session.StartedAt)
			b.WriteString(fmt.Sprintf("  %2d. %s %s\n", i+1, dimStyle.Render("T+"+durShort(at)), c))
		}
	}

	b.WriteString("\n")
	overall := failStyle.Render(r.Verdict.Overall)
	if r.Verdict.Overall == "PASS" {
		overall = passStyle.Render(r.Verdict.Overall)
	}
	b.WriteString("Result: " + overall + "\n")
	if reason := strings.TrimSpace(r.Verdict.Reason); reason != "" {
		b.WriteString("Reason: " + reason + "\n")
	}

	if notes := uniqStrings(r.Notes); len(notes) > 0 {
		b.WriteString("\n")
		for _, n := range notes {
			b.WriteString("- " + n + "\n")
		}
	}
	return b.String()
}

func verdictText(v probe.Verdict) string {
	switch v {
	case probe.VerdictWorking:
		return passStyle.Render(string(v))
	case probe.VerdictNotWorking:
		return failStyle.Render(string(v))
	default:
		return string(v)
	}
}

func writeBanner(b *strings.Builder) {
	b.WriteString(bannerStyle.Render("========================") + "\n")
	b.WriteString(bannerStyle.Render("     ICE probe") + "\n")
	b.WriteString(bannerStyle.Render("========================") + "\n")
}

func writeRunLine(b *strings.Builder, r RunReport) {
	started := r.StartedUTC.Format("2006-01-02T15:04:05Z")
	b.WriteString(fmt.Sprintf("Run: %s  |  Timeout: %s\n", started, durShort(r.Timeout)))
}

func durShort(d time.Duration) string {
	// Keep the printed form stable (e.g. 30s, 1.25s).
	if d%time.Second == 0 {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	return d.Round(time.Millisecond).String()
}

func uniqStrings(in []string) []string {
	out := []string{}
	seen := map[string]bool{}
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
