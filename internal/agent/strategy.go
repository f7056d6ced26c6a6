package agent

// Strategy identifies which run strategy executes a turn.
type Strategy string

const (
	// StrategyAgentSDK delegates the turn to the managed agent runtime
	// as a subprocess. Tool execution happens inside the runtime.
	StrategyAgentSDK Strategy = "agent-sdk"

	// StrategyDirect drives the raw chat-completion endpoint in a loop,
	// executing tool calls through the local dispatcher.
	StrategyDirect Strategy = "direct"
)

// SelectStrategy deterministically picks the run strategy for the whole
// process: a direct-API credential selects the direct strategy, its
// absence selects the agent-SDK strategy. Strategies never mix within
// one run.
func SelectStrategy(hasAPICredential bool) Strategy {
	if hasAPICredential {
		return StrategyDirect
	}
	return StrategyAgentSDK
}
