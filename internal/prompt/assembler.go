// Package prompt assembles the message list sent to the model: a grounding
// system message, recent conversation turns, and the user's question.
package prompt

import (
	"strings"

	"wikirag/internal/domain"
	"wikirag/internal/llm"
)

const systemTemplate = `You are an assistant answering questions about an internal wiki.
Use only the reference material between <<REF>> and <<END>> to answer.
If the material does not contain the answer, say you do not know.
Never invent document titles, URLs, or facts that are not in the material.

<<REF>>
%s
<<END>>`

const noContextNote = "No reference material matched the question. Tell the user the wiki has nothing relevant and suggest rephrasing."

// Assembler builds chat messages within token budgets. Budgets are counted
// in whitespace-separated tokens, matching how chunks are sized.
type Assembler struct {
	contextBudget int
	historyBudget int
}

// NewAssembler creates an Assembler. Non-positive budgets get defaults.
func NewAssembler(contextBudget, historyBudget int) *Assembler {
	if contextBudget <= 0 {
		contextBudget = 2048
	}
	if historyBudget <= 0 {
		historyBudget = 1024
	}
	return &Assembler{contextBudget: contextBudget, historyBudget: historyBudget}
}

// Assemble produces [system, history..., user]. Context chunks are included
// in relevance order until the context budget is exhausted; history turns
// are selected most recent first but emitted in chronological order.
func (a *Assembler) Assemble(question string, results []domain.RetrievalResult, history []domain.Turn) []llm.Message {
	messages := make([]llm.Message, 0, len(history)+2)
	messages = append(messages, llm.Message{
		Role:    "system",
		Content: a.systemMessage(results),
	})
	for _, turn := range a.selectHistory(history) {
		messages = append(messages, llm.Message{Role: string(turn.Role), Content: turn.Text})
	}
	messages = append(messages, llm.Message{Role: "user", Content: question})
	return messages
}

func (a *Assembler) systemMessage(results []domain.RetrievalResult) string {
	if len(results) == 0 {
		return strings.Replace(systemTemplate, "%s", noContextNote, 1)
	}
	var sections []string
	used := 0
	for _, res := range results {
		tokens := len(strings.Fields(res.Chunk.Text))
		if used+tokens > a.contextBudget && used > 0 {
			break
		}
		header := res.Chunk.Title
		if header == "" {
			header = res.Chunk.SourceID
		}
		sections = append(sections, "["+header+"]\n"+res.Chunk.Text)
		used += tokens
		if used >= a.contextBudget {
			break
		}
	}
	return strings.Replace(systemTemplate, "%s", strings.Join(sections, "\n\n"), 1)
}

// selectHistory walks turns newest first until the budget is spent, then
// returns the selection back in chronological order.
func (a *Assembler) selectHistory(history []domain.Turn) []domain.Turn {
	used := 0
	start := len(history)
	for i := len(history) - 1; i >= 0; i-- {
		tokens := len(strings.Fields(history[i].Text))
		if used+tokens > a.historyBudget {
			break
		}
		used += tokens
		start = i
	}
	return history[start:]
}
