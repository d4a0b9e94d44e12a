// Package query answers questions against a tenant's published version:
// embed, search, assemble context, complete, and filter the completion down
// to sentences grounded in the retrieved chunks.
package query

import (
	"regexp"
	"strings"
)

var (
	sentenceEnd = regexp.MustCompile(`([.!?])\s+`)
	// Go's \w is ASCII-only; letters and digits from any script count as
	// word tokens here.
	wordToken = regexp.MustCompile(`[\p{L}\p{N}_]+`)
)

// SplitSentences splits text at whitespace that follows sentence-ending
// punctuation. The punctuation stays attached to its sentence.
func SplitSentences(text string) []string {
	marked := sentenceEnd.ReplaceAllString(text, "$1\x00")
	parts := strings.Split(marked, "\x00")
	sentences := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			sentences = append(sentences, p)
		}
	}
	return sentences
}

// Tokenize returns the set of lowercase word tokens in text.
func Tokenize(text string) map[string]struct{} {
	tokens := make(map[string]struct{})
	for _, w := range wordToken.FindAllString(strings.ToLower(text), -1) {
		tokens[w] = struct{}{}
	}
	return tokens
}

// GroundAnswer removes every sentence of answer that shares no word token
// with any of the retrieved chunks. Surviving sentences are rejoined with
// single spaces. When nothing survives, the unavailable sentinel is returned
// via the caller (an empty string here).
func GroundAnswer(answer string, chunks []string) string {
	chunkTokens := make([]map[string]struct{}, len(chunks))
	for i, c := range chunks {
		chunkTokens[i] = Tokenize(c)
	}

	var kept []string
	for _, sentence := range SplitSentences(answer) {
		if sentenceGrounded(sentence, chunkTokens) {
			kept = append(kept, sentence)
		}
	}
	return strings.Join(kept, " ")
}

func sentenceGrounded(sentence string, chunkTokens []map[string]struct{}) bool {
	for token := range Tokenize(sentence) {
		for _, set := range chunkTokens {
			if _, ok := set[token]; ok {
				return true
			}
		}
	}
	return false
}
