// Pierre is a personal conversational assistant daemon.
//
// It runs conversational turns through one of two strategies (a managed
// agent runtime subprocess or the Anthropic API directly), keeps a
// tiered long-term memory per user, and proactively prepares a morning
// briefing on a schedule. Configuration is loaded from a single YAML
// file discovered automatically (see [config.DefaultSearchPaths]).
//
// Usage:
//
//	pierre serve               Run the daemon with the scheduler
//	pierre ask <prompt>        Run a single turn and print the reply
//	pierre version             Print version and build information
package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/pierre-ai/pierre/internal/agent"
	"github.com/pierre-ai/pierre/internal/agentsdk"
	"github.com/pierre-ai/pierre/internal/buildinfo"
	"github.com/pierre-ai/pierre/internal/config"
	"github.com/pierre-ai/pierre/internal/conversation"
	"github.com/pierre-ai/pierre/internal/fetch"
	"github.com/pierre-ai/pierre/internal/gmail"
	"github.com/pierre-ai/pierre/internal/llm"
	"github.com/pierre-ai/pierre/internal/memory"
	"github.com/pierre-ai/pierre/internal/scheduler"
	"github.com/pierre-ai/pierre/internal/search"
	"github.com/pierre-ai/pierre/internal/settings"
	"github.com/pierre-ai/pierre/internal/slack"
	"github.com/pierre-ai/pierre/internal/tools"

	_ "github.com/mattn/go-sqlite3" // SQLite driver for database/sql
)

// main constructs the OS-level environment and delegates to [run] so
// the full lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point. Arguments are parsed by hand: the flag
// package relies on package-level globals that interfere with calling
// run concurrently from tests, and the surface here is small.
func run(ctx context.Context, stdout, stderr io.Writer, args []string) error {
	var configPath string
	var userID string
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case args[i] == "-user" && i+1 < len(args):
			userID = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-user="):
			userID = strings.TrimPrefix(args[i], "-user=")
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

	if userID == "" {
		userID = "default"
	}

	switch command {
	case "serve":
		return runServe(ctx, stdout, configPath)
	case "ask":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: pierre ask <prompt>")
		}
		return runAsk(ctx, stdout, configPath, userID, strings.Join(cmdArgs, " "))
	case "version":
		return runVersion(stdout)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

func runVersion(w io.Writer) error {
	for _, k := range []string{"version", "git_commit", "build_time", "go_version", "os", "arch"} {
		if v, ok := buildinfo.Info()[k]; ok {
			fmt.Fprintf(w, "%-12s %s\n", k+":", v)
		}
	}
	return nil
}

func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Pierre - Personal Assistant Agent")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: pierre [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve          Run the daemon with the briefing and decay scheduler")
	fmt.Fprintln(w, "  ask <prompt>   Run a single turn and print the reply")
	fmt.Fprintln(w, "  version        Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>  Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -user <id>      User identity for ask (default: default)")
	return nil
}

func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}))
}

func loadConfig(explicit string) (*config.Config, string, error) {
	path, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", fmt.Errorf("load config %s: %w", path, err)
	}
	return cfg, path, nil
}

// app holds everything a running command needs. Close releases the
// shared database connection.
type app struct {
	cfg           *config.Config
	logger        *slog.Logger
	db            *sql.DB
	conversations *conversation.Store
	memories      *memory.Store
	settings      *settings.Store
	tasks         *scheduler.Store
	orchestrator  *agent.Orchestrator
}

func (a *app) Close() error {
	return a.db.Close()
}

// buildApp opens the shared database, registers every credentialed
// tool, and wires the orchestrator.
func buildApp(ctx context.Context, stdout io.Writer, configPath string) (*app, error) {
	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}

	level := slog.LevelInfo
	if cfg.LogLevel != "" {
		if level, err = config.ParseLogLevel(cfg.LogLevel); err != nil {
			return nil, err
		}
	}
	logger := newLogger(stdout, level)
	logger.Info("config loaded", "path", cfgPath)

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	dbPath := filepath.Join(cfg.DataDir, "pierre.db")
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	a := &app{cfg: cfg, logger: logger, db: db}
	if a.conversations, err = conversation.NewStoreWithDB(db); err != nil {
		db.Close()
		return nil, err
	}
	if a.memories, err = memory.NewStoreWithDB(db); err != nil {
		db.Close()
		return nil, err
	}
	if a.settings, err = settings.NewStoreWithDB(db); err != nil {
		db.Close()
		return nil, err
	}
	if a.tasks, err = scheduler.NewStoreWithDB(db); err != nil {
		db.Close()
		return nil, err
	}

	reg := tools.NewRegistry()
	memory.NewTools(a.memories).Register(reg)
	fetch.Register(reg, fetch.New())

	if key := cfg.Search.Brave.APIKey; key != "" {
		mgr := search.NewManager(cfg.Search.Provider)
		mgr.Register(search.NewBrave(key))
		search.Register(reg, mgr)
		logger.Info("web search enabled", "provider", cfg.Search.Provider)
	}
	if cfg.Slack.Configured() {
		slack.Register(reg, slack.NewClient(cfg.Slack.Token))
		logger.Info("slack tools enabled")
	}
	if cfg.Gmail.Configured() {
		gmail.Register(reg, gmail.NewClient(ctx, gmail.Credentials{
			ClientID:     cfg.Gmail.ClientID,
			ClientSecret: cfg.Gmail.ClientSecret,
			RefreshToken: cfg.Gmail.RefreshToken,
		}))
		logger.Info("gmail tools enabled")
	}

	var llmClient llm.Client
	if cfg.Anthropic.APIKey != "" {
		llmClient = llm.NewAnthropicClient(cfg.Anthropic.APIKey, logger)
	}
	sdk := agentsdk.NewClient(agentsdk.Config{
		Command: cfg.AgentSDK.Command,
		Args:    cfg.AgentSDK.Args,
		Logger:  logger,
	})

	a.orchestrator = agent.New(agent.Config{
		Logger:        logger,
		Conversations: a.conversations,
		Memories:      a.memories,
		Settings:      a.settings,
		Registry:      reg,
		LLM:           llmClient,
		SDK:           sdk,
		DefaultModel:  cfg.Anthropic.DefaultModel,
		MaxTurns:      cfg.AgentSDK.MaxTurns,
	})

	logger.Info("agent ready",
		"strategy", a.orchestrator.Strategy(),
		"tools", len(reg.Names()),
		"data_dir", cfg.DataDir,
	)
	return a, nil
}

// runServe is the primary operating mode: it wires the agent, starts
// the scheduler, and blocks until a shutdown signal arrives.
func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	a, err := buildApp(ctx, stdout, configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	a.logger.Info("starting pierre", "version", buildinfo.Version)

	sched := scheduler.New(scheduler.Config{
		Logger:          a.logger,
		Store:           a.tasks,
		Conversations:   a.conversations,
		Memories:        a.memories,
		Settings:        a.settings,
		Runner:          a.orchestrator,
		BriefingHourUTC: a.cfg.Briefing.HourUTC,
	})
	sched.Start()
	defer sched.Stop()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()
	a.logger.Info("shutting down")
	return nil
}

// runAsk runs one turn against a fresh conversation and prints the
// assistant's reply.
func runAsk(ctx context.Context, stdout io.Writer, configPath, userID, prompt string) error {
	a, err := buildApp(ctx, io.Discard, configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	conv, err := a.conversations.Create(userID, conversation.DefaultTitle)
	if err != nil {
		return fmt.Errorf("create conversation: %w", err)
	}
	if _, err := a.conversations.Append(conv.ID, conversation.RoleUser, prompt, nil); err != nil {
		return fmt.Errorf("append prompt: %w", err)
	}

	result, err := a.orchestrator.RunTurn(ctx, conv.ID, userID, prompt)
	if err != nil {
		return fmt.Errorf("ask: %w", err)
	}

	msgs, err := a.conversations.Messages(conv.ID)
	if err != nil {
		return fmt.Errorf("read reply: %w", err)
	}
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == conversation.RoleAssistant {
			fmt.Fprintln(stdout, msgs[i].Content)
			break
		}
	}

	if !result.Success {
		return fmt.Errorf("run failed: %s", result.ErrorMessage)
	}
	return nil
}
