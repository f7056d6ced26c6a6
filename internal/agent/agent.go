// Package agent orchestrates conversational turns: it assembles context
// from the conversation log, memory store, and user settings, runs one
// of two execution strategies, and persists streamed output.
package agent

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/pierre-ai/pierre/internal/agentsdk"
	"github.com/pierre-ai/pierre/internal/conversation"
	"github.com/pierre-ai/pierre/internal/llm"
	"github.com/pierre-ai/pierre/internal/memory"
	"github.com/pierre-ai/pierre/internal/settings"
	"github.com/pierre-ai/pierre/internal/tools"
)

// ErrRunInFlight is returned when a turn is requested for a
// conversation that already has one running.
var ErrRunInFlight = errors.New("a run is already in flight for this conversation")

const (
	// fallbackText finalizes a run that produced no assistant text.
	fallbackText = "I'm sorry, I couldn't generate a response."

	// errorPrefix starts the user-visible message a failed run leaves
	// in the conversation.
	errorPrefix = "I encountered an error: "
)

// capabilityTools maps an enabled-tools capability name to the
// dispatcher tool names it unlocks.
var capabilityTools = map[string][]string{
	"memory": {"memory_search", "memory_save", "memory_update", "memory_delete", "memory_list"},
	"slack":  {"slack_search_messages", "slack_list_channels", "slack_read_channel", "slack_get_unread"},
	"gmail":  {"gmail_search", "gmail_read_email", "gmail_list_unread", "gmail_list_labels"},
}

// SDKRunner abstracts the agent CLI subprocess for testing.
type SDKRunner interface {
	Run(ctx context.Context, opts agentsdk.Options, handler agentsdk.Handler) error
}

// RunResult is the outcome of one conversational turn.
type RunResult struct {
	Success      bool    `json:"success"`
	SessionID    string  `json:"session_id,omitempty"`
	CostUSD      float64 `json:"cost_usd,omitempty"`
	ErrorMessage string  `json:"error_message,omitempty"`
}

// Config wires an Orchestrator.
type Config struct {
	Logger        *slog.Logger
	Conversations *conversation.Store
	Memories      *memory.Store
	Settings      *settings.Store

	// Registry is the full tool catalogue; each turn narrows it by the
	// user's enabled capabilities.
	Registry *tools.Registry

	// LLM, when non-nil, selects the direct-API strategy for every
	// run. When nil the agent-SDK strategy is used.
	LLM llm.Client

	SDK          SDKRunner
	DefaultModel string
	MaxTurns     int
}

// Orchestrator runs conversational turns.
type Orchestrator struct {
	logger        *slog.Logger
	conversations *conversation.Store
	memories      *memory.Store
	settings      *settings.Store
	registry      *tools.Registry
	llm           llm.Client
	sdk           SDKRunner
	defaultModel  string
	maxTurns      int

	mu       sync.Mutex
	inFlight map[string]bool
}

// New creates an orchestrator.
func New(cfg Config) *Orchestrator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		logger:        logger,
		conversations: cfg.Conversations,
		memories:      cfg.Memories,
		settings:      cfg.Settings,
		registry:      cfg.Registry,
		llm:           cfg.LLM,
		sdk:           cfg.SDK,
		defaultModel:  cfg.DefaultModel,
		maxTurns:      cfg.MaxTurns,
		inFlight:      make(map[string]bool),
	}
}

// Strategy reports which run strategy this orchestrator uses. The
// choice is process-wide: it depends only on whether a direct API
// client was configured, never on per-message state.
func (o *Orchestrator) Strategy() Strategy {
	return SelectStrategy(o.llm != nil)
}

// RunTurn executes one conversational turn. The caller has already
// appended the user's prompt to the conversation log. At most one turn
// may be in flight per conversation.
func (o *Orchestrator) RunTurn(ctx context.Context, conversationID, userID, prompt string) (*RunResult, error) {
	if err := o.acquire(conversationID); err != nil {
		return nil, err
	}
	defer o.release(conversationID)

	tc, err := o.assembleContext(ctx, conversationID, userID, prompt)
	if err != nil {
		// Context-load failures propagate as run failure.
		return nil, err
	}

	ctx = tools.WithUser(ctx, userID)
	ctx = tools.WithConversationID(ctx, conversationID)

	o.logger.Info("turn started",
		"conversation_id", conversationID,
		"user_id", userID,
		"strategy", o.Strategy(),
		"memories", len(tc.memories),
	)

	var result *RunResult
	if o.Strategy() == StrategyDirect {
		result = o.runDirect(ctx, tc)
	} else {
		result = o.runSDK(ctx, tc)
	}

	o.generateTitle(ctx, tc.conv, prompt)

	o.logger.Info("turn finished",
		"conversation_id", conversationID,
		"success", result.Success,
		"cost_usd", result.CostUSD,
	)
	return result, nil
}

func (o *Orchestrator) acquire(conversationID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.inFlight[conversationID] {
		return ErrRunInFlight
	}
	o.inFlight[conversationID] = true
	return nil
}

func (o *Orchestrator) release(conversationID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.inFlight, conversationID)
}

// failRun finalizes the pending assistant message with a user-visible
// error and returns a failed result. messageID may be empty when the
// run failed before any streaming write.
func (o *Orchestrator) failRun(tc *turnContext, messageID string, runErr error) *RunResult {
	o.logger.Error("run failed",
		"conversation_id", tc.conv.ID,
		"error", runErr,
	)
	if _, err := o.conversations.UpsertStreaming(tc.conv.ID, messageID, errorPrefix+runErr.Error(), false, nil); err != nil {
		o.logger.Error("failed to finalize error message",
			"conversation_id", tc.conv.ID,
			"error", err,
		)
	}
	return &RunResult{
		Success:      false,
		SessionID:    tc.conv.SessionID,
		ErrorMessage: runErr.Error(),
	}
}
