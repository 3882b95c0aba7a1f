package chunker

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wikirag/internal/domain"
)

func doc(id, text string) domain.Document {
	return domain.Document{SourceID: id, Title: "Page " + id, URL: "https://wiki/" + id, Text: text}
}

func words(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("w%d", i)
	}
	return strings.Join(parts, " ")
}

func TestChunk_ShortDocumentYieldsSingleChunk(t *testing.T) {
	c := NewWindowChunker(64, 8, 4)
	chunks, err := c.Chunk(doc("P1", "one short sentence. another short sentence. a third one."))
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "P1:0", chunks[0].ChunkID)
	assert.Equal(t, 0, chunks[0].Position)
	assert.Equal(t, 9, chunks[0].TokenCount)
}

func TestChunk_EmptyDocumentYieldsNoChunks(t *testing.T) {
	c := NewWindowChunker(64, 8, 4)
	for _, text := range []string{"", "   \n\t ", "<p></p><br/>"} {
		chunks, err := c.Chunk(doc("P1", text))
		require.NoError(t, err)
		assert.Empty(t, chunks)
	}
}

func TestChunk_WindowsOverlap(t *testing.T) {
	c := NewWindowChunker(10, 3, 0)
	chunks, err := c.Chunk(doc("P1", words(24)))
	require.NoError(t, err)
	require.Len(t, chunks, 3)

	// Consecutive windows share exactly the overlap suffix/prefix.
	first := strings.Fields(chunks[0].Text)
	second := strings.Fields(chunks[1].Text)
	assert.Equal(t, first[len(first)-3:], second[:3])

	// Every token of the document appears in some chunk.
	last := chunks[len(chunks)-1]
	assert.Equal(t, "w23", strings.Fields(last.Text)[last.TokenCount-1])
}

func TestChunk_Deterministic(t *testing.T) {
	c := NewWindowChunker(10, 3, 2)
	d := doc("P1", words(57))
	a, err := c.Chunk(d)
	require.NoError(t, err)
	b, err := c.Chunk(d)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestChunk_PositionsAreOrdinal(t *testing.T) {
	c := NewWindowChunker(10, 2, 0)
	chunks, err := c.Chunk(doc("P9", words(40)))
	require.NoError(t, err)
	for i, ch := range chunks {
		assert.Equal(t, i, ch.Position)
		assert.Equal(t, fmt.Sprintf("P9:%d", i), ch.ChunkID)
		assert.Equal(t, "P9", ch.SourceID)
	}
}

func TestChunk_DropsShortTail(t *testing.T) {
	// 21 tokens, window 10, overlap 0: the third window would hold a single
	// token and falls below the minimum.
	c := NewWindowChunker(10, 0, 4)
	chunks, err := c.Chunk(doc("P1", words(21)))
	require.NoError(t, err)
	assert.Len(t, chunks, 2)
}

func TestChunk_TextIsSubstringOfNormalized(t *testing.T) {
	raw := "<h1>Title</h1><p>Some   body text with <b>markup</b> &amp; entities.</p>" + words(30)
	c := NewWindowChunker(8, 2, 0)
	normalized := Normalize(raw)
	chunks, err := c.Chunk(doc("P1", raw))
	require.NoError(t, err)
	require.NotEmpty(t, chunks)
	for _, ch := range chunks {
		assert.Contains(t, normalized, ch.Text)
	}
}

func TestNewWindowChunker_ClampsOverlap(t *testing.T) {
	c := NewWindowChunker(10, 99, 0)
	chunks, err := c.Chunk(doc("P1", words(30)))
	require.NoError(t, err)
	// overlap forced below window size, so chunking terminates
	assert.NotEmpty(t, chunks)
}

func TestNormalize(t *testing.T) {
	in := "<p>Hello&nbsp;world</p><table><tr><td>a</td><td>b</td></tr></table>"
	out := Normalize(in)
	// &nbsp; unescapes to a non-breaking space, which collapses like any
	// other whitespace.
	assert.Equal(t, "Hello world a b", out)

	assert.Equal(t, "a b", Normalize("a\n\n\t  b"))
	assert.Equal(t, "ab", Normalize("a<em>b</em>"))
}
