package llm

import "strings"

var specialTokens = []string{"<|endoftext|>", "<|pad|>"}

// CleanResponse collapses whitespace runs, strips model marker tokens and trims the result.
// Generate does not apply it; callers opt in.
func CleanResponse(text string) string {
	text = strings.Join(strings.Fields(text), " ")

	for _, token := range specialTokens {
		text = strings.ReplaceAll(text, token, "")
	}

	return strings.TrimSpace(text)
}
