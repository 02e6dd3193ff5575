package agentloop

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"strings"

	"github.com/martinemde/repoagent/response"
)

// batchSignature computes a deterministic signature for the operations of
// one iteration. Order inside the batch does not matter.
func batchSignature(ops []response.Operation) string {
	if len(ops) == 0 {
		return ""
	}
	sigs := make([]string, len(ops))
	for i, op := range ops {
		sigs[i] = op.Signature()
	}
	sort.Strings(sigs)
	h := sha256.Sum256([]byte(strings.Join(sigs, "\n")))
	return fmt.Sprintf("%x", h[:8])
}

// DetectLoop checks if the last windowSize batch signatures follow a
// repeating pattern of length 1, 2, or 3. Empty batches never count as a
// loop; an agent that only thinks is not stuck on an operation.
func DetectLoop(signatures []string, windowSize int) bool {
	if windowSize <= 0 || len(signatures) < windowSize {
		return false
	}
	sigs := signatures[len(signatures)-windowSize:]
	for _, s := range sigs {
		if s == "" {
			return false
		}
	}

	for patternLen := 1; patternLen <= 3; patternLen++ {
		if windowSize%patternLen != 0 || patternLen == windowSize {
			continue
		}
		pattern := sigs[:patternLen]
		allMatch := true
		for i := patternLen; i < windowSize && allMatch; i += patternLen {
			for j := 0; j < patternLen; j++ {
				if sigs[i+j] != pattern[j] {
					allMatch = false
					break
				}
			}
		}
		if allMatch {
			return true
		}
	}
	return false
}

func loopWarning(window int) string {
	return fmt.Sprintf("Loop detected: the last %d iterations requested the same operations. "+
		"Their results will not change. Try a different approach, or set status to completed if the task is done.", window)
}
