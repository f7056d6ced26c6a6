// Package agentsdk runs conversational turns through the agent CLI as a
// subprocess, consuming its newline-delimited JSON event stream. Tool
// execution happens inside the subprocess; callers only observe it.
package agentsdk

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// DefaultMaxTurns caps tool-use rounds inside the subprocess.
const DefaultMaxTurns = 10

// Config configures the subprocess launcher.
type Config struct {
	// Command is the agent CLI executable.
	Command string

	// Args are base arguments prepended before per-run flags.
	Args []string

	// Env are additional environment variables for the subprocess
	// (format: "KEY=VALUE"), appended to the current environment.
	Env []string

	// Logger is the structured logger for subprocess diagnostics.
	Logger *slog.Logger
}

// Options describe a single run.
type Options struct {
	Prompt          string
	SystemPrompt    string
	MaxTurns        int
	AllowedTools    []string
	ResumeSessionID string
	Model           string
}

// EventKind identifies a stream event type.
type EventKind string

const (
	// EventInit carries the new session id, emitted once at run start.
	EventInit EventKind = "init"

	// EventAssistant carries the full assistant text produced so far
	// plus any tool invocations from this step.
	EventAssistant EventKind = "assistant"

	// EventResult is terminal and carries cost and usage totals.
	EventResult EventKind = "result"
)

// ToolUse records a tool invocation observed in the stream.
type ToolUse struct {
	Name  string
	Input json.RawMessage
}

// Event is one decoded stream event.
type Event struct {
	Kind      EventKind
	SessionID string

	// Text is the cumulative assistant text for EventAssistant, or the
	// result's own text for EventResult.
	Text string

	// ToolUses is set for EventAssistant.
	ToolUses []ToolUse

	// Result fields, set for EventResult.
	CostUSD      float64
	InputTokens  int
	OutputTokens int
	IsError      bool
}

// Handler receives each event as it is decoded. Returning an error
// aborts the run and kills the subprocess.
type Handler func(Event) error

// Client launches agent CLI subprocesses.
type Client struct {
	config Config
	logger *slog.Logger
}

// NewClient creates a client for the given config.
func NewClient(cfg Config) *Client {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Command == "" {
		cfg.Command = "claude"
	}
	return &Client{config: cfg, logger: logger}
}

// Run executes one turn. It starts the subprocess, streams events to
// the handler, and waits for exit. The context cancels the subprocess.
func (c *Client) Run(ctx context.Context, opts Options, handler Handler) error {
	args := c.buildArgs(opts)

	c.logger.Info("starting agent subprocess",
		"command", c.config.Command,
		"resume", opts.ResumeSessionID != "",
		"allowed_tools", len(opts.AllowedTools),
	)

	cmd := exec.CommandContext(ctx, c.config.Command, args...)
	cmd.Env = append(os.Environ(), c.config.Env...)
	cmd.Cancel = func() error {
		return cmd.Process.Kill()
	}
	cmd.WaitDelay = 5 * time.Second

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("create stdout pipe: %w", err)
	}

	// Capture stderr for logging — not part of the protocol.
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		stdout.Close()
		return fmt.Errorf("create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		stderrPipe.Close()
		stdout.Close()
		return fmt.Errorf("start subprocess %s: %w", c.config.Command, err)
	}

	go c.drainStderr(stderrPipe)

	streamErr := c.consumeStream(stdout, handler)
	waitErr := cmd.Wait()

	if streamErr != nil {
		return streamErr
	}
	if waitErr != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("agent subprocess: %w", waitErr)
	}

	c.logger.Debug("agent subprocess finished")
	return nil
}

func (c *Client) buildArgs(opts Options) []string {
	maxTurns := opts.MaxTurns
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}

	args := append([]string(nil), c.config.Args...)
	args = append(args,
		"--output-format", "stream-json",
		"--verbose",
		"--max-turns", strconv.Itoa(maxTurns),
	)
	if opts.SystemPrompt != "" {
		args = append(args, "--system-prompt", opts.SystemPrompt)
	}
	if len(opts.AllowedTools) > 0 {
		args = append(args, "--allowedTools", strings.Join(opts.AllowedTools, ","))
	}
	if opts.ResumeSessionID != "" {
		args = append(args, "--resume", opts.ResumeSessionID)
	}
	if opts.Model != "" {
		args = append(args, "--model", opts.Model)
	}
	args = append(args, "-p", opts.Prompt)
	return args
}

func (c *Client) drainStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 256*1024)
	for scanner.Scan() {
		c.logger.Debug("agent subprocess stderr", "line", scanner.Text())
	}
}

// Wire format of the stream-json output.
type wireEvent struct {
	Type      string       `json:"type"`
	Subtype   string       `json:"subtype,omitempty"`
	SessionID string       `json:"session_id,omitempty"`
	Message   *wireMessage `json:"message,omitempty"`

	// Result fields.
	Result       string     `json:"result,omitempty"`
	TotalCostUSD float64    `json:"total_cost_usd,omitempty"`
	Usage        *wireUsage `json:"usage,omitempty"`
	IsError      bool       `json:"is_error,omitempty"`
}

type wireMessage struct {
	Content []wireBlock `json:"content"`
}

type wireBlock struct {
	Type  string          `json:"type"`
	Text  string          `json:"text,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`
}

type wireUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// consumeStream decodes newline-delimited events, accumulating assistant
// text so every assistant event delivered carries the full text so far.
func (c *Client) consumeStream(r io.Reader, handler Handler) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var textBuf strings.Builder

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var we wireEvent
		if err := json.Unmarshal([]byte(line), &we); err != nil {
			c.logger.Debug("skipping non-JSON line from agent subprocess", "line", line)
			continue
		}

		event, ok := c.convert(&we, &textBuf)
		if !ok {
			continue
		}
		if err := handler(event); err != nil {
			return err
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read agent stream: %w", err)
	}
	return nil
}

func (c *Client) convert(we *wireEvent, textBuf *strings.Builder) (Event, bool) {
	switch we.Type {
	case "system":
		if we.Subtype != "init" {
			return Event{}, false
		}
		return Event{Kind: EventInit, SessionID: we.SessionID}, true

	case "assistant":
		if we.Message == nil {
			return Event{}, false
		}
		var toolUses []ToolUse
		for _, block := range we.Message.Content {
			switch block.Type {
			case "text":
				textBuf.WriteString(block.Text)
			case "tool_use":
				toolUses = append(toolUses, ToolUse{Name: block.Name, Input: block.Input})
			}
		}
		return Event{
			Kind:      EventAssistant,
			SessionID: we.SessionID,
			Text:      textBuf.String(),
			ToolUses:  toolUses,
		}, true

	case "result":
		event := Event{
			Kind:      EventResult,
			SessionID: we.SessionID,
			Text:      we.Result,
			CostUSD:   we.TotalCostUSD,
			IsError:   we.IsError,
		}
		if we.Usage != nil {
			event.InputTokens = we.Usage.InputTokens
			event.OutputTokens = we.Usage.OutputTokens
		}
		return event, true
	}
	return Event{}, false
}
