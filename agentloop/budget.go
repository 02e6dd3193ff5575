package agentloop

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter counts the tokens of a text.
type TokenCounter func(text string) int

var (
	encodingCache = make(map[string]*tiktoken.Tiktoken)
	cacheMu       sync.Mutex
)

// NewTiktokenCounter returns a counter for model, falling back to the
// cl100k_base encoding, then to a four-characters-per-token estimate when
// no encoding can be loaded.
func NewTiktokenCounter(model string) TokenCounter {
	cacheMu.Lock()
	enc, ok := encodingCache[model]
	if !ok {
		var err error
		enc, err = tiktoken.EncodingForModel(model)
		if err != nil {
			enc, err = tiktoken.GetEncoding("cl100k_base")
		}
		if err != nil {
			enc = nil
		}
		encodingCache[model] = enc
	}
	cacheMu.Unlock()

	if enc == nil {
		return EstimateTokens
	}
	return func(text string) int {
		return len(enc.Encode(text, nil, nil))
	}
}

// EstimateTokens approximates four characters per token.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}

// fitHistory drops the oldest turns until their digest fits within budget
// tokens. It returns the kept turns and how many were dropped.
func fitHistory(turns []Turn, budget int, count TokenCounter) ([]Turn, int) {
	if budget <= 0 {
		return nil, len(turns)
	}
	for start := 0; start < len(turns); start++ {
		kept := turns[start:]
		if count(HistoryDigest(kept)) <= budget {
			return kept, start
		}
	}
	return nil, len(turns)
}
