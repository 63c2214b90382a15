package store

import "regexp"

// mentionPattern matches an @-prefixed alias token. Matching is greedy over
// the allowed character class; the leading @ is captured separately so it
// can be stripped without another allocation.
var mentionPattern = regexp.MustCompile(`@([A-Za-z0-9:_./-]+)`)

// parseMentions extracts alias tokens from free-form message text, in
// first-seen order with duplicates collapsed. Empty tokens (a bare "@" with
// nothing from the allowed character class following it) never match and
// so never appear.
func parseMentions(text string) []string {
	matches := mentionPattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}

	seen := make(map[string]bool, len(matches))
	tokens := make([]string, 0, len(matches))
	for _, m := range matches {
		token := m[1]
		if token == "" || seen[token] {
			continue
		}
		seen[token] = true
		tokens = append(tokens, token)
	}
	return tokens
}
