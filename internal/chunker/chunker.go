// Package chunker splits normalized document text into overlapping token
// windows sized for embedding and prompt inclusion.
package chunker

import (
	"html"
	"regexp"
	"strings"

	"wikirag/internal/domain"
)

// Chunker splits a document into an ordered chunk sequence. Chunking must be
// deterministic: the same document and parameters always yield identical
// boundaries, because chunk IDs derive from (source ID, position).
type Chunker interface {
	Chunk(document domain.Document) ([]domain.Chunk, error)
}

// WindowChunker produces consecutive windows of at most maxTokens
// whitespace-delimited tokens, with overlapTokens shared between consecutive
// windows. Trailing windows shorter than minTokens are dropped, except when
// the whole document fits in a single window.
type WindowChunker struct {
	maxTokens     int
	overlapTokens int
	minTokens     int
}

// NewWindowChunker builds a chunker, clamping parameters so that the window
// always makes forward progress: overlap is forced strictly below the window.
func NewWindowChunker(maxTokens, overlapTokens, minTokens int) *WindowChunker {
	if maxTokens <= 0 {
		maxTokens = 256
	}
	if overlapTokens < 0 {
		overlapTokens = 0
	}
	if overlapTokens >= maxTokens {
		overlapTokens = maxTokens - 1
	}
	if minTokens < 0 {
		minTokens = 0
	}
	return &WindowChunker{
		maxTokens:     maxTokens,
		overlapTokens: overlapTokens,
		minTokens:     minTokens,
	}
}

// Chunk normalizes the document text and slides a token window over it.
// An empty document (after normalization) yields zero chunks and no error;
// a document shorter than one window yields exactly one chunk.
func (c *WindowChunker) Chunk(document domain.Document) ([]domain.Chunk, error) {
	tokens := strings.Fields(Normalize(document.Text))
	if len(tokens) == 0 {
		return nil, nil
	}

	step := c.maxTokens - c.overlapTokens
	var chunks []domain.Chunk
	pos := 0
	for start := 0; start < len(tokens); start += step {
		end := start + c.maxTokens
		if end > len(tokens) {
			end = len(tokens)
		}
		window := tokens[start:end]
		if len(window) < c.minTokens && pos > 0 {
			break
		}
		chunks = append(chunks, domain.Chunk{
			ChunkID:    domain.ChunkID(document.SourceID, pos),
			SourceID:   document.SourceID,
			Text:       strings.Join(window, " "),
			Position:   pos,
			TokenCount: len(window),
			Title:      document.Title,
			URL:        document.URL,
		})
		if end == len(tokens) {
			break
		}
		pos++
	}
	return chunks, nil
}

var (
	tagPattern    = regexp.MustCompile(`<[^>]*>`)
	spacedTagsSet = map[string]struct{}{
		"p": {}, "br": {}, "li": {}, "tr": {}, "td": {}, "th": {},
		"h1": {}, "h2": {}, "h3": {}, "h4": {}, "h5": {}, "h6": {},
		"div": {}, "table": {}, "ul": {}, "ol": {},
	}
	tagNamePattern = regexp.MustCompile(`^</?\s*([a-zA-Z0-9]+)`)
)

// Normalize strips markup from wiki storage-format text, unescapes HTML
// entities and collapses all whitespace runs into single spaces. Chunk text
// is always a contiguous substring of the normalized text.
func Normalize(text string) string {
	out := tagPattern.ReplaceAllStringFunc(text, func(tag string) string {
		m := tagNamePattern.FindStringSubmatch(tag)
		if m != nil {
			if _, ok := spacedTagsSet[strings.ToLower(m[1])]; ok {
				return " "
			}
		}
		return ""
	})
	out = html.UnescapeString(out)
	return strings.Join(strings.Fields(out), " ")
}
