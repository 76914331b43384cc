package chunker

import "strings"

// EstimateTokens gives a rough token count from the word count. It is only
// used for reporting; chunk sizes are measured in characters.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	// Roughly 1.33 tokens per word for English text.
	tokens := int(float64(len(strings.Fields(text))) * 1.33)
	if tokens < 1 {
		tokens = 1
	}
	return tokens
}
