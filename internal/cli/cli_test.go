package cli

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net"
	"strings"
	"testing"

	"github.com/spf13/afero"

	"github.com/baptistax/ice-probe/internal/report"
	"github.com/baptistax/ice-probe/internal/transport"
)

type scriptedTransport struct {
	h          transport.Handler
	candidates []string
}

func (t *scriptedTransport) Prime() error {
	for _, c := range t.candidates {
		t.h.Candidate(c)
	}
	t.h.GatheringState(transport.GatheringComplete)
	return nil
}

func (t *scriptedTransport) Close() error { return nil }

const (
	hostCand  = "candidate:1 1 udp 2122260223 192.168.1.10 54321 typ host"
	srflxCand = "candidate:2 1 udp 1686052607 203.0.113.7 61000 typ srflx raddr 192.168.1.10 rport 54321"
)

// setup swaps the package IO and dialer; every dialed transport emits cands.
func setup(t *testing.T, cands ...string) (*bytes.Buffer, *bytes.Buffer, afero.Fs) {
	t.Helper()
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	fs := afero.NewMemMapFs()

	oldOut, oldErr, oldFs, oldDialer := stdout, stderr, appFs, newDialer
	stdout, stderr, appFs = out, errOut, fs
	newDialer = func(*slog.Logger) transport.Dialer {
		return transport.DialerFunc(func(_ []transport.ICEServer, h transport.Handler) (transport.Transport, error) {
			return &scriptedTransport{h: h, candidates: cands}, nil
		})
	}
	t.Cleanup(func() {
		stdout, stderr, appFs, newDialer = oldOut, oldErr, oldFs, oldDialer
	})
	return out, errOut, fs
}

func TestRun_ExitCodes(t *testing.T) {
	cases := []struct {
		name  string
		cands []string
		args  []string
		want  int
	}{
		{"no command", nil, nil, 2},
		{"unknown command", nil, []string{"nope"}, 2},
		{"version", nil, []string{"version"}, 0},
		{"missing stun", nil, []string{"run"}, 2},
		{"bad flag", nil, []string{"run", "-bogus"}, 2},
		{"stun works", []string{hostCand, srflxCand}, []string{"run", "-stun", "stun:stun.example.org:3478"}, 0},
		{"stun not working", []string{hostCand}, []string{"run", "-stun", "stun:stun.example.org:3478"}, 1},
		{"turn incomplete", nil, []string{"run", "-stun", "stun:a.example.org:3478", "-turn", "turn:b.example.org:3478"}, 2},
		{"turn not working", []string{hostCand, srflxCand}, []string{
			"run", "-stun", "stun:a.example.org:3478",
			"-turn", "turn:b.example.org:3478", "-turn-user", "u", "-turn-pass", "p",
		}, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			setup(t, tc.cands...)
			if got := Run(tc.args); got != tc.want {
				t.Fatalf("Run(%v) = %d, want %d", tc.args, got, tc.want)
			}
		})
	}
}

func TestRun_StreamsEventsThenSummary(t *testing.T) {
	out, _, _ := setup(t, hostCand, srflxCand)
	if code := Run([]string{"run", "-stun", "stun:stun.example.org:3478"}); code != 0 {
		t.Fatalf("code = %d", code)
	}
	s := out.String()
	ev := strings.Index(s, "candidate #2")
	res := strings.Index(s, "Result:")
	if ev < 0 || res < 0 || ev > res {
		t.Fatalf("events must precede the summary:\n%s", s)
	}
	if !strings.Contains(s, "PASS") {
		t.Fatalf("missing PASS:\n%s", s)
	}
	if strings.Contains(s, "gathering state") {
		t.Fatalf("debug entries shown at info level:\n%s", s)
	}
}

func TestRun_JSONOutput(t *testing.T) {
	out, _, _ := setup(t, srflxCand)
	if code := Run([]string{"run", "-stun", "stun:stun.example.org:3478", "-format", "json"}); code != 0 {
		t.Fatalf("code = %d", code)
	}
	var rep report.RunReport
	if err := json.Unmarshal(out.Bytes(), &rep); err != nil {
		t.Fatalf("stdout is not a JSON report: %v\n%s", err, out.String())
	}
	if rep.Summary.ServerReflexiveCount != 1 || rep.Verdict.Overall != "PASS" {
		t.Fatalf("report = %+v", rep)
	}
}

func TestRun_ConfigFileAndFlagOverride(t *testing.T) {
	out, _, fs := setup(t, hostCand, srflxCand)
	_ = afero.WriteFile(fs, "/etc/probe.yaml", []byte(`
format: json
servers:
  stun_url: stun:from-file.example.org:3478
`), 0o644)

	if code := Run([]string{"run", "-config", "/etc/probe.yaml", "-format", "text"}); code != 0 {
		t.Fatalf("code = %d", code)
	}
	s := out.String()
	if !strings.Contains(s, "from-file.example.org") {
		t.Fatalf("stun url from file not used:\n%s", s)
	}
	if strings.HasPrefix(strings.TrimSpace(s), "{") {
		t.Fatalf("-format flag did not override file")
	}
}

func TestRun_MissingConfigFileIsUsageError(t *testing.T) {
	setup(t)
	if code := Run([]string{"run", "-config", "/nope.yaml"}); code != 2 {
		t.Fatalf("code = %d", code)
	}
}

func TestRun_Exports(t *testing.T) {
	out, _, fs := setup(t, srflxCand)
	if code := Run([]string{"run", "-stun", "stun:stun.example.org:3478", "-exports", "/out"}); code != 0 {
		t.Fatalf("code = %d", code)
	}
	matches, _ := afero.Glob(fs, "/out/run_*/run.json")
	if len(matches) != 1 {
		t.Fatalf("run.json files = %v", matches)
	}
	if ok, _ := afero.Exists(fs, strings.TrimSuffix(matches[0], "json")+"txt"); !ok {
		t.Fatalf("run.txt missing")
	}
	if !strings.Contains(out.String(), "Outputs written to: /out/run_") {
		t.Fatalf("output dir not printed:\n%s", out.String())
	}
}

func TestServe_BindFailureExitsNonZero(t *testing.T) {
	setup(t)
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer busy.Close()

	if code := Run([]string{"serve", "-listen", busy.Addr().String()}); code != 1 {
		t.Fatalf("code = %d", code)
	}
}

func TestBind_RequiresServer(t *testing.T) {
	setup(t)
	if code := Run([]string{"bind"}); code != 2 {
		t.Fatalf("code = %d", code)
	}
}

func TestSplitCSV(t *testing.T) {
	got := splitCSV(" a , ,b,")
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("got %v", got)
	}
	if splitCSV("  ") != nil {
		t.Fatalf("blank input should give nil")
	}
}
