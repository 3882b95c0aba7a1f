package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"wikirag/internal/domain"
	"wikirag/internal/llm"
	"wikirag/internal/prompt"
	"wikirag/internal/retriever"
)

// Session is one chat conversation over the index. Turns accumulate for the
// session lifetime; a failed question still leaves the session usable.
type Session struct {
	ID string

	retriever *retriever.Retriever
	assembler *prompt.Assembler
	generator llm.Generator
	log       *zap.SugaredLogger

	mu    sync.Mutex
	turns []domain.Turn
}

// NewSession creates a chat session with a fresh ID.
func NewSession(r *retriever.Retriever, a *prompt.Assembler, g llm.Generator, log *zap.SugaredLogger) *Session {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Session{
		ID:        uuid.NewString(),
		retriever: r,
		assembler: a,
		generator: g,
		log:       log,
	}
}

// Ask answers one question. The question and the answer (or a failure
// notice) are both recorded as turns. Generation outages are retried once;
// any final failure is reported to the user in the transcript and the error
// is returned for logging.
func (s *Session) Ask(ctx context.Context, question string) (string, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return "", domain.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	history := make([]domain.Turn, len(s.turns))
	copy(history, s.turns)
	s.appendTurn(domain.RoleUser, question)

	answer, err := s.answer(ctx, question, history)
	if err != nil {
		s.log.Warnw("question failed", "session", s.ID, "error", err)
		notice := failureMessage(err)
		s.appendTurn(domain.RoleAssistant, notice)
		return notice, err
	}
	s.appendTurn(domain.RoleAssistant, answer)
	return answer, nil
}

func (s *Session) answer(ctx context.Context, question string, history []domain.Turn) (string, error) {
	results, err := s.retriever.Retrieve(ctx, question)
	if err != nil {
		return "", err
	}
	messages := s.assembler.Assemble(question, results, history)

	answer, err := s.generator.Generate(ctx, messages)
	if errors.Is(err, domain.ErrGenerationUnavailable) {
		s.log.Debugw("generation retry", "session", s.ID)
		answer, err = s.generator.Generate(ctx, messages)
	}
	if err != nil {
		return "", err
	}
	return withSources(answer, results), nil
}

// withSources appends the unique source documents of the retrieved context,
// in rank order, so answers are attributable.
func withSources(answer string, results []domain.RetrievalResult) string {
	seen := make(map[string]struct{})
	var lines []string
	for _, res := range results {
		ref := res.Chunk.URL
		if ref == "" {
			ref = res.Chunk.Title
		}
		if ref == "" {
			continue
		}
		if _, ok := seen[res.Chunk.SourceID]; ok {
			continue
		}
		seen[res.Chunk.SourceID] = struct{}{}
		lines = append(lines, "- "+ref)
	}
	if len(lines) == 0 {
		return answer
	}
	return answer + "\n\nRelevant documents:\n" + strings.Join(lines, "\n")
}

// Turns returns a copy of the transcript.
func (s *Session) Turns() []domain.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Turn, len(s.turns))
	copy(out, s.turns)
	return out
}

func (s *Session) appendTurn(role domain.Role, text string) {
	s.turns = append(s.turns, domain.Turn{Role: role, Text: text, Timestamp: time.Now()})
}

func failureMessage(err error) string {
	switch {
	case errors.Is(err, domain.ErrEmbeddingUnavailable):
		return "The embedding service is unavailable, so I could not search the wiki. Please try again shortly."
	case errors.Is(err, domain.ErrGenerationUnavailable):
		return "The language model is unavailable, so I could not compose an answer. Please try again shortly."
	case errors.Is(err, domain.ErrSchemaMismatch):
		return "The index was built with a different embedding model. Re-run ingestion before asking questions."
	case errors.Is(err, domain.ErrAccessDenied):
		return "Access to the wiki was denied. Check the configured credentials."
	default:
		return "Something went wrong answering that question. Please try again."
	}
}
