package cli

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/afero"

	"github.com/baptistax/ice-probe/internal/api"
	"github.com/baptistax/ice-probe/internal/app"
	"github.com/baptistax/ice-probe/internal/binding"
	"github.com/baptistax/ice-probe/internal/config"
	"github.com/baptistax/ice-probe/internal/eventlog"
	"github.com/baptistax/ice-probe/internal/logging"
	"github.com/baptistax/ice-probe/internal/monitor"
	"github.com/baptistax/ice-probe/internal/probe"
	"github.com/baptistax/ice-probe/internal/publish"
	"github.com/baptistax/ice-probe/internal/report"
	"github.com/baptistax/ice-probe/internal/runctx"
	"github.com/baptistax/ice-probe/internal/transport"
	"github.com/baptistax/ice-probe/internal/transport/pion"
	"github.com/baptistax/ice-probe/internal/version"
)

// Swapped in tests.
var (
	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr
	appFs            = afero.NewOsFs()

	newDialer = func(logger *slog.Logger) transport.Dialer { return pion.NewDialer(logger) }
)

func Run(args []string) int {
	if len(args) == 0 {
		printHelp()
		return 2
	}

	switch args[0] {
	case "run":
		return runProbe(args[1:])
	case "serve":
		return runServe(args[1:])
	case "watch":
		return runWatch(args[1:])
	case "bind":
		return runBind(args[1:])
	case "version":
		fmt.Fprintf(stdout, "probe %s (commit=%s build_date=%s)\n", version.Version, version.Commit, version.BuildDate)
		return 0
	case "help", "-h", "--help":
		printHelp()
		return 0
	default:
		fmt.Fprintf(stderr, "unknown command: %s\n\n", args[0])
		printHelp()
		return 2
	}
}

func printHelp() {
	fmt.Fprintln(stdout, `probe

Usage:
  probe run   -stun <url> [-turn <url> -turn-user <u> -turn-pass <p>] [flags]
  probe serve [-listen addr] [-redis addr] [flags]
  probe watch -stun <url> [-interval 1m] [flags]
  probe bind  -stun <url>[,<url>...]
  probe version

Commands:
  run    Gather ICE candidates once and report whether STUN/TURN work
  serve  Run probes on demand over HTTP (POST /probe, GET /probe/{id}/events)
  watch  Re-run the probe every interval and print an event when the verdict changes
  bind   Send a plain STUN Binding request and print the mapped address

Exit codes (run):
  0  STUN works, and TURN works when configured
  1  probe finished but a configured server is not working
  2  invalid configuration or usage

Examples:
  probe run -stun stun:stun.l.google.com:19302
  probe run -stun stun:stun.example.org:3478 -turn turn:turn.example.org:3478 -turn-user u -turn-pass p
  probe run -config probe.yaml -format json
  probe serve -listen 127.0.0.1:8787 -redis 127.0.0.1:6379`)
}

type commonFlags struct {
	LogLevel  string
	LogFormat string
	Format    string // json|text
	Exports   string
	Timeout   time.Duration
	Config    string

	Servers probe.ServerConfig

	file config.File
	set  map[string]bool
}

func bindCommon(fs *flag.FlagSet, timeout time.Duration) *commonFlags {
	c := &commonFlags{}

	fs.StringVar(&c.LogLevel, "log-level", "info", "Log level: debug|info|warn|error")
	fs.StringVar(&c.LogFormat, "log-format", "text", "Log format on stderr: text|json")
	fs.StringVar(&c.Format, "format", "text", "Output format: json|text")
	fs.StringVar(&c.Exports, "exports", "", "Write run.json and run.txt under <dir>/run_<id>/")
	fs.DurationVar(&c.Timeout, "timeout", timeout, "Gathering deadline")
	fs.StringVar(&c.Config, "config", "", "YAML config file; flags override its values")

	fs.StringVar(&c.Servers.StunURL, "stun", "", "STUN server URL (stun:host:port)")
	fs.StringVar(&c.Servers.TurnURL, "turn", "", "TURN server URL (turn:host:port)")
	fs.StringVar(&c.Servers.TurnUsername, "turn-user", "", "TURN username")
	fs.StringVar(&c.Servers.TurnCredential, "turn-pass", "", "TURN credential")

	return c
}

// load reads the config file, if any, and fills every flag the user did not set.
func (c *commonFlags) load(fs *flag.FlagSet) error {
	c.set = map[string]bool{}
	fs.Visit(func(f *flag.Flag) { c.set[f.Name] = true })
	if c.Config == "" {
		return nil
	}

	f, err := config.Load(appFs, c.Config)
	if err != nil {
		return err
	}
	c.file = f

	str := func(name string, dst *string, v string) {
		if !c.set[name] && v != "" {
			*dst = v
		}
	}
	str("log-level", &c.LogLevel, f.LogLevel)
	str("log-format", &c.LogFormat, f.LogFormat)
	str("format", &c.Format, f.Format)
	str("exports", &c.Exports, f.Exports)
	str("stun", &c.Servers.StunURL, f.Servers.StunURL)
	str("turn", &c.Servers.TurnURL, f.Servers.TurnURL)
	str("turn-user", &c.Servers.TurnUsername, f.Servers.TurnUsername)
	str("turn-pass", &c.Servers.TurnCredential, f.Servers.TurnCredential)
	if !c.set["timeout"] && f.Timeout > 0 {
		c.Timeout = f.Timeout
	}
	return nil
}

func (c *commonFlags) jsonOut() bool { return strings.ToLower(c.Format) == "json" }

func parse(fs *flag.FlagSet, c *commonFlags, args []string) bool {
	if err := fs.Parse(args); err != nil {
		fmt.Fprintln(stderr, err)
		return false
	}
	if err := c.load(fs); err != nil {
		fmt.Fprintln(stderr, err)
		return false
	}
	return true
}

func runProbe(args []string) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	c := bindCommon(fs, probe.DefaultTimeout)
	if !parse(fs, c, args) {
		return 2
	}

	logger := logging.Setup(c.LogLevel, c.LogFormat)

	ctx, cancel := signalContext(context.Background())
	defer cancel()

	opt := app.ProbeOptions{
		Config:  c.Servers,
		Timeout: c.Timeout,
		Logger:  logger,
	}
	if !c.jsonOut() {
		showDebug := logging.ParseLevel(c.LogLevel) <= slog.LevelDebug
		opt.OnEvent = func(e eventlog.Entry) {
			if e.Severity == eventlog.SeverityDebug && !showDebug {
				return
			}
			fmt.Fprintln(stdout, report.RenderEvent(e))
		}
	}

	rep, err := app.RunProbe(ctx, newDialer(logger), opt)
	if err != nil {
		fmt.Fprintln(stderr, "configuration error:", err)
		return 2
	}

	outDir, err := export(c.Exports, &rep)
	if err != nil {
		fmt.Fprintln(stderr, "failed to write exports:", err)
	}

	if c.jsonOut() {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(rep)
	} else {
		fmt.Fprintln(stdout)
		fmt.Fprint(stdout, report.RenderRunText(rep))
		if outDir != "" {
			fmt.Fprintf(stdout, "\nOutputs written to: %s\n", outDir)
		}
	}

	if rep.Summary.Passed() {
		return 0
	}
	return 1
}

func export(base string, rep *report.RunReport) (string, error) {
	if base == "" {
		return "", nil
	}
	rc, err := runctx.New(appFs, base, rep.StartedUTC)
	if err != nil {
		return "", err
	}
	rep.RunID = rc.RunID
	err = errors.Join(
		report.WriteRunJSON(appFs, filepath.Join(rc.OutputDir, "run.json"), *rep),
		report.WriteRunText(appFs, filepath.Join(rc.OutputDir, "run.txt"), *rep),
	)
	return rc.OutputDir, err
}

func runServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	c := bindCommon(fs, probe.DefaultTimeout)

	var listen, redisAddr, redisPrefix string
	var retention time.Duration
	fs.StringVar(&listen, "listen", api.DefaultAddress, "HTTP listen address")
	fs.DurationVar(&retention, "retention", api.DefaultRetention, "How long finished probes stay queryable")
	fs.StringVar(&redisAddr, "redis", "", "Publish events and summaries to this Redis server")
	fs.StringVar(&redisPrefix, "redis-prefix", publish.DefaultPrefix, "Redis channel prefix")

	if !parse(fs, c, args) {
		return 2
	}
	f := c.file
	if !c.set["listen"] && f.HTTP.Listen != "" {
		listen = f.HTTP.Listen
	}
	if !c.set["retention"] && f.HTTP.Retention > 0 {
		retention = f.HTTP.Retention
	}
	if !c.set["redis"] && f.Redis.Addr != "" {
		redisAddr = f.Redis.Addr
	}
	if !c.set["redis-prefix"] && f.Redis.Prefix != "" {
		redisPrefix = f.Redis.Prefix
	}

	logger := logging.Setup(c.LogLevel, c.LogFormat)

	ctx, cancel := signalContext(context.Background())
	defer cancel()

	opts := api.ServerOptions{
		Addr:         listen,
		ProbeTimeout: c.Timeout,
		Retention:    retention,
		Logger:       logger,
	}
	if redisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     redisAddr,
			Password: f.Redis.Password,
			DB:       f.Redis.DB,
		})
		pub := publish.New(client, redisPrefix, logger)
		defer pub.Close()
		opts.Sinks = append(opts.Sinks, pub.Sink)
		opts.OnSummary = pub.PublishSummary
		logger.Info("publishing probe events", "redis", redisAddr, "prefix", redisPrefix)
	}

	srv := api.NewServer(newDialer(logger), opts)
	if err := srv.Start(ctx); err != nil {
		fmt.Fprintln(stderr, "serve:", err)
		return 1
	}
	<-ctx.Done()

	if err := srv.Stop(context.Background()); err != nil {
		logger.Error("shutdown", "err", err)
		return 1
	}
	return 0
}

func runWatch(args []string) int {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	c := bindCommon(fs, probe.DefaultTimeout)

	var interval time.Duration
	fs.DurationVar(&interval, "interval", time.Minute, "Probe interval (e.g. 1m)")

	if !parse(fs, c, args) {
		return 2
	}
	if !c.set["interval"] && c.file.Interval > 0 {
		interval = c.file.Interval
	}
	if interval <= 0 {
		fmt.Fprintln(stderr, "interval must be positive")
		return 2
	}

	logger := logging.Setup(c.LogLevel, c.LogFormat)

	ctx, cancel := signalContext(context.Background())
	defer cancel()

	opt := monitor.Options{
		Interval: interval,
		Probe: app.ProbeOptions{
			Config:  c.Servers,
			Timeout: c.Timeout,
			Logger:  logger,
		},
	}

	jsonOut := c.jsonOut()
	err := monitor.Run(ctx, newDialer(logger), opt, func(ev monitor.Event) {
		if jsonOut {
			_ = json.NewEncoder(stdout).Encode(ev)
			return
		}
		fmt.Fprintf(stdout, "[%s] %s\n", ev.AtUTC.Format("2006-01-02T15:04:05Z"), ev.Message)
		if ev.Current != nil && ev.Current.Verdict.Reason != "" {
			fmt.Fprintf(stdout, "  %s\n", ev.Current.Verdict.Reason)
		}
	})
	if err != nil {
		fmt.Fprintln(stderr, "configuration error:", err)
		return 2
	}
	return 0
}

func runBind(args []string) int {
	fs := flag.NewFlagSet("bind", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	c := bindCommon(fs, 5*time.Second)
	if !parse(fs, c, args) {
		return 2
	}

	servers := append(splitCSV(c.Servers.StunURL), fs.Args()...)
	if len(servers) == 0 {
		fmt.Fprintln(stderr, "bind: at least one -stun server is required")
		return 2
	}

	logging.Setup(c.LogLevel, c.LogFormat)

	ctx, cancel := signalContext(context.Background())
	defer cancel()

	results := binding.Observe(ctx, servers, c.Timeout)

	if c.jsonOut() {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(results)
	}

	code := 0
	for _, r := range results {
		if !r.OK() {
			code = 1
		}
		if c.jsonOut() {
			continue
		}
		if r.OK() {
			fmt.Fprintf(stdout, "%s  mapped=%s  rtt=%s\n", r.Server, r.Mapped(), r.RTT.Round(time.Millisecond))
		} else {
			fmt.Fprintf(stdout, "%s  error: %s\n", r.Server, r.Error)
		}
	}
	return code
}

// signalContext is cancelled on Ctrl+C or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	go func() {
		defer signal.Stop(stop)
		select {
		case <-stop:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

func splitCSV(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
