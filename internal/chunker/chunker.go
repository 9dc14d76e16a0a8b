package chunker

import "strings"

// DefaultMaxChunkLength bounds a chunk's size in bytes. Retrieval
// quality degrades with very large chunks, so the default stays small.
const DefaultMaxChunkLength = 500

// Split breaks prose into ordered chunks along sentence boundaries.
// Sentences are accumulated greedily: a chunk is flushed when adding
// the next sentence would push it past maxLen. A chunk only exceeds
// maxLen when a single sentence alone does; sentences are never split
// mid-way. Whitespace-only input yields no chunks.
func Split(text string, maxLen int) []string {
	if maxLen <= 0 {
		maxLen = DefaultMaxChunkLength
	}
	sentences := splitSentences(text)
	if len(sentences) == 0 {
		return nil
	}

	var chunks []string
	var current strings.Builder
	for _, sentence := range sentences {
		if current.Len() > 0 && current.Len()+1+len(sentence) > maxLen {
			chunks = append(chunks, current.String())
			current.Reset()
		}
		if current.Len() > 0 {
			current.WriteByte(' ')
		}
		current.WriteString(sentence)
	}
	if current.Len() > 0 {
		chunks = append(chunks, current.String())
	}
	return chunks
}

// splitSentences splits on sentence-terminal punctuation, keeping the
// terminator attached to its sentence. Trailing text without a
// terminator is treated as a final sentence.
func splitSentences(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	var sentences []string
	start := 0
	for i := 0; i < len(text); i++ {
		switch text[i] {
		case '.', '!', '?':
			// Consume any run of terminators ("..." or "?!").
			end := i + 1
			for end < len(text) && (text[end] == '.' || text[end] == '!' || text[end] == '?') {
				end++
			}
			sentence := strings.TrimSpace(text[start:end])
			if sentence != "" {
				sentences = append(sentences, sentence)
			}
			start = end
			i = end - 1
		}
	}
	if tail := strings.TrimSpace(text[start:]); tail != "" {
		sentences = append(sentences, tail)
	}
	return sentences
}
