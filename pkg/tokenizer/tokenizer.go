package tokenizer

import "unicode/utf8"

const charsPerToken = 4

// CountTokens estimates the token count of text at roughly four characters
// per token. It is used for providers that do not report usage.
func CountTokens(text string) int {
	return utf8.RuneCountInString(text) / charsPerToken
}

// CountPromptTokens estimates the tokens of a prompt sent as several parts
// (system and user text). The parts are measured together so short pieces do
// not each round down to zero.
func CountPromptTokens(parts ...string) int {
	n := 0
	for _, p := range parts {
		n += utf8.RuneCountInString(p)
	}
	return n / charsPerToken
}
