// CareerBot answers visitors' questions on behalf of one person.
//
// It exposes a chat page, a JSON chat API, an OpenAI-compatible API and
// a CLI for one-shot questions. Configuration is loaded from a single
// YAML file discovered automatically (see [config.DefaultSearchPaths]).
//
// Usage:
//
//	careerbot serve              Start the API server
//	careerbot init [dir]         Write an example config and summary
//	careerbot ask <question>     Ask a single question
//	careerbot version            Print version and build information
//	careerbot -o json version    Output version information as JSON
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/nugget/careerbot/internal/agent"
	"github.com/nugget/careerbot/internal/api"
	"github.com/nugget/careerbot/internal/buildinfo"
	"github.com/nugget/careerbot/internal/config"
	"github.com/nugget/careerbot/internal/leads"
	"github.com/nugget/careerbot/internal/llm"
	"github.com/nugget/careerbot/internal/mqtt"
	"github.com/nugget/careerbot/internal/notify"
	"github.com/nugget/careerbot/internal/persona"
	"github.com/nugget/careerbot/internal/tools"
	"github.com/nugget/careerbot/internal/web"
)

// main builds the OS-level environment and hands off to [run] so the
// whole lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point. Arguments are parsed by hand; the flag
// package's globals get in the way of parallel tests.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string // "text" (default) or "json"
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			if command != "" {
				cmdArgs = append(cmdArgs, args[i])
			} else {
				return fmt.Errorf("unknown flag: %s", args[i])
			}
		}
	}

	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "serve":
		return runServe(ctx, stdout, configPath)
	case "init":
		dir := "."
		if len(cmdArgs) > 0 {
			dir = cmdArgs[0]
		}
		return runInit(stdout, dir)
	case "ask":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: careerbot ask <question>")
		}
		return runAsk(ctx, stdout, stderr, configPath, cmdArgs)
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.BuildInfo()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "git_branch", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "CareerBot - answers questions about your career, as you")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: careerbot [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve        Start the API server and chat page")
	fmt.Fprintln(w, "  init [dir]   Write example config.yaml and summary (default: .)")
	fmt.Fprintln(w, "  ask          Ask a single question")
	fmt.Fprintln(w, "  version      Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	for _, p := range config.DefaultSearchPaths() {
		fmt.Fprintf(w, "  %s\n", p)
	}
	return nil
}

// runAsk answers one question on stdout. Logs go to stderr so the
// answer can be piped.
func runAsk(ctx context.Context, stdout io.Writer, stderr io.Writer, configPath string, args []string) error {
	question := strings.Join(args, " ")

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	level, _ := config.ParseLogLevel(cfg.LogLevel)
	logger := newLogger(stderr, level, cfg.LogFormat)
	logger.Info("config loaded", "path", cfgPath)

	a, err := newApp(cfg, logger, false)
	if err != nil {
		return err
	}
	defer a.close()

	answer, err := a.loop.Chat(ctx, question, nil)
	if err != nil {
		return fmt.Errorf("ask: %w", err)
	}
	fmt.Fprintln(stdout, answer)
	return nil
}

func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	level, _ := config.ParseLogLevel(cfg.LogLevel)
	logger := newLogger(stdout, level, cfg.LogFormat)

	logger.Info("starting CareerBot",
		"version", buildinfo.Version,
		"commit", buildinfo.GitCommit,
		"config", cfgPath,
		"persona", cfg.Persona.Name,
		"model", cfg.LLM.Model,
	)

	a, err := newApp(cfg, logger, true)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	server := api.NewServer(cfg.Listen.Address, cfg.Listen.Port, a.loop, cfg.LLM.Model, logger)
	server.SetWebServer(web.NewWebServer(a.persona.Name, logger))
	server.SetCORSOrigins(cfg.CORS.AllowedOrigins)
	if cfg.Listen.AdminToken != "" {
		server.SetLeadStore(a.leads, cfg.Listen.AdminToken)
		logger.Info("lead endpoints enabled")
	}

	if a.mqtt != nil {
		go func() {
			if err := a.mqtt.Start(ctx); err != nil {
				logger.Error("mqtt publisher failed", "error", err)
			}
		}()
		logger.Info("mqtt publishing enabled", "broker", cfg.MQTT.Broker, "interval", cfg.MQTT.PublishInterval)
	} else {
		logger.Info("mqtt publishing disabled (not configured)")
	}

	go func() {
		<-ctx.Done()
		logger.Info("shutdown signal received")

		if a.mqtt != nil {
			offlineCtx, offlineCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer offlineCancel()
			if err := a.mqtt.Stop(offlineCtx); err != nil {
				logger.Error("mqtt shutdown failed", "error", err)
			}
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	if err := server.Start(ctx); err != nil {
		if ctx.Err() == nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	logger.Info("CareerBot stopped")
	return nil
}

// app is the wired object graph shared by serve and ask.
type app struct {
	persona *persona.Context
	loop    *agent.Loop
	leads   *leads.Store
	mqtt    *mqtt.Publisher // nil unless configured and requested
}

// newApp reads the persona documents, opens the lead ledger and wires
// the notifier sinks, tool registry and conversation loop. Any I/O
// failure here is fatal.
func newApp(cfg *config.Config, logger *slog.Logger, withMQTT bool) (*app, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	pc, err := persona.Load(cfg.Persona)
	if err != nil {
		return nil, fmt.Errorf("load persona: %w", err)
	}
	logger.Info("persona loaded",
		"name", pc.Name,
		"summary_bytes", len(pc.Summary),
		"profile_bytes", len(pc.Profile),
	)

	client, err := llm.New(cfg.LLM, logger)
	if err != nil {
		return nil, err
	}

	store, err := leads.NewStore(filepath.Join(cfg.DataDir, "leads.db"), logger)
	if err != nil {
		return nil, fmt.Errorf("open lead store: %w", err)
	}

	a := &app{persona: pc, leads: store}
	if n, err := store.Count(context.Background(), ""); err == nil {
		logger.Info("lead store opened", "leads", n)
	}

	sinks := []notify.Notifier{
		notify.NewTelegram(&cfg.Telegram, cfg.Telegram.APIURL, cfg.Telegram.Timeout, logger),
	}
	if cfg.Email.Configured() {
		sinks = append(sinks, notify.NewEmail(cfg.Email, logger))
		logger.Info("email notifications enabled", "to", cfg.Email.To)
	}
	if withMQTT && cfg.MQTT.Configured() {
		instanceID, err := mqtt.LoadOrCreateInstanceID(cfg.DataDir)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("mqtt instance id: %w", err)
		}
		a.mqtt = mqtt.New(cfg.MQTT, instanceID, mqtt.NewDailyStats(nil), logger)
		sinks = append(sinks, a.mqtt)
	}

	registry := tools.NewRegistry(logger)
	if cfg.Agent.AbortOnMalformedArguments {
		registry.MalformedPolicy = tools.MalformedAbort
	}
	notifier := notify.NewMulti(logger, sinks...)
	logger.Info("notification sinks configured", "sinks", notifier.Len())
	registry.SetPersonaTools(&tools.PersonaTools{
		Notifier: notifier,
		Leads:    store,
		Logger:   logger,
	})

	a.loop = agent.NewLoop(logger, client, pc, registry, agent.Config{
		Model:          cfg.LLM.Model,
		MaxToolRounds:  cfg.Agent.MaxToolRounds,
		RequestTimeout: cfg.LLM.RequestTimeout,
	})
	if a.mqtt != nil {
		a.loop.SetObserver(turnMirror{pub: a.mqtt})
	}
	return a, nil
}

func (a *app) close() {
	if a.leads != nil {
		a.leads.Close()
	}
}

// turnMirror forwards finished turns to the MQTT publisher.
type turnMirror struct {
	pub *mqtt.Publisher
}

func (m turnMirror) OnTurn(ctx context.Context, t *agent.Turn) {
	m.pub.RecordTurn(ctx, mqtt.TurnEvent{
		Time:         time.Now(),
		Rounds:       t.Rounds,
		Tools:        t.Tools,
		InputTokens:  t.InputTokens,
		OutputTokens: t.OutputTokens,
		DurationMS:   t.Duration.Milliseconds(),
		Exhausted:    t.Exhausted,
	})
}

// newLogger creates a structured logger writing to w. Format is "text"
// or "json"; anything else means text.
func newLogger(w io.Writer, level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// loadConfig loads .env from the working directory (overriding the
// process environment), then finds and parses the config file.
func loadConfig(explicit string) (*config.Config, string, error) {
	if err := config.LoadDotEnv(".env"); err != nil {
		return nil, "", err
	}

	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	return cfg, cfgPath, nil
}
