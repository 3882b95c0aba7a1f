package domain

import "errors"

// Error categories shared across the ingestion and query pipelines.
// Components wrap these with %w so callers can classify with errors.Is.
var (
	// ErrAccessDenied means the configured credentials cannot read a
	// requested page or space. It aborts a whole ingestion batch.
	ErrAccessDenied = errors.New("access denied")

	// ErrNotFound means the source reports a page as deleted or missing.
	// The page is skipped; the rest of the batch proceeds.
	ErrNotFound = errors.New("page not found")

	// ErrSourceUnavailable is a transient wiki source failure. Retryable.
	ErrSourceUnavailable = errors.New("source unavailable")

	// ErrEmbeddingUnavailable is a transient embedding model failure. Retryable.
	ErrEmbeddingUnavailable = errors.New("embedding service unavailable")

	// ErrGenerationUnavailable is a generation model failure. The chat
	// session retries it at most once; nothing below it retries.
	ErrGenerationUnavailable = errors.New("generation service unavailable")

	// ErrSchemaMismatch means the embedding model or dimensionality no
	// longer matches the index. Fatal: the index must be re-created.
	ErrSchemaMismatch = errors.New("embedding schema mismatch")

	// ErrValidation means the caller supplied bad input, e.g. an empty
	// space key.
	ErrValidation = errors.New("invalid input")
)

// IsRetryable reports whether err belongs to a category that the bounded
// backoff policy may retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrSourceUnavailable) || errors.Is(err, ErrEmbeddingUnavailable)
}
