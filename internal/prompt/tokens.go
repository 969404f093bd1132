package prompt

import "strings"

// TokenCounter estimates how many tokens a string costs against a backend's
// context window. Counters are deterministic heuristics; the compiled prompt
// reports its totals so callers can observe how tight the budget ran.
type TokenCounter interface {
	Count(s string) int
}

const (
	CounterEstimate = "estimate"
	CounterWords    = "words"
)

// estimateCounter approximates one token per four characters, the usual
// rule of thumb for BPE vocabularies on English text.
type estimateCounter struct{}

func (estimateCounter) Count(s string) int {
	if s == "" {
		return 0
	}
	n := len(s) / 4
	if n == 0 {
		n = 1
	}
	return n
}

// wordCounter counts whitespace-delimited words scaled up by a third, which
// tracks closer on prose-heavy roleplay text.
type wordCounter struct{}

func (wordCounter) Count(s string) int {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return 0
	}
	return len(fields) + len(fields)/3 + 1
}

// CounterFor returns the counter selected by name on the connection row.
// Unknown names fall back to the estimate counter.
func CounterFor(name string) TokenCounter {
	switch name {
	case CounterWords:
		return wordCounter{}
	default:
		return estimateCounter{}
	}
}
