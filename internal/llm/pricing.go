package llm

import "strings"

// Per-million-token prices in USD. Matched by model family substring;
// anything unrecognized gets the default (sonnet-class) rate.
const (
	opusInputPerMtok  = 15.0
	opusOutputPerMtok = 75.0

	haikuInputPerMtok  = 0.80
	haikuOutputPerMtok = 4.0

	defaultInputPerMtok  = 3.0
	defaultOutputPerMtok = 15.0
)

// Cost estimates the USD cost of a request from its token usage.
func Cost(model string, inputTokens, outputTokens int) float64 {
	in, out := ratesFor(model)
	return float64(inputTokens)/1e6*in + float64(outputTokens)/1e6*out
}

func ratesFor(model string) (inputPerMtok, outputPerMtok float64) {
	m := strings.ToLower(model)
	switch {
	case strings.Contains(m, "opus"):
		return opusInputPerMtok, opusOutputPerMtok
	case strings.Contains(m, "haiku"):
		return haikuInputPerMtok, haikuOutputPerMtok
	default:
		return defaultInputPerMtok, defaultOutputPerMtok
	}
}
