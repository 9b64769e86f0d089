package extract

import "github.com/ppiankov/petitrace/internal/model"

// chunkSnippets packs snippets in order into chunks of at most maxChars
// characters and maxSnippets snippets. A single oversized snippet still
// gets its own chunk.
func chunkSnippets(snippets []model.Snippet, maxChars, maxSnippets int) [][]model.Snippet {
	if maxChars <= 0 {
		maxChars = 1500
	}
	if maxSnippets <= 0 {
		maxSnippets = 3
	}

	var chunks [][]model.Snippet
	var cur []model.Snippet
	size := 0
	for _, s := range snippets {
		n := len(s.Text)
		if len(cur) > 0 && (size+n > maxChars || len(cur) >= maxSnippets) {
			chunks = append(chunks, cur)
			cur, size = nil, 0
		}
		cur = append(cur, s)
		size += n
	}
	if len(cur) > 0 {
		chunks = append(chunks, cur)
	}
	return chunks
}
