// Package loader defines how raw wiki pages enter the ingestion pipeline.
package loader

import (
	"context"

	"wikirag/internal/domain"
)

// Loader fetches pages from the wiki source and normalizes each into a
// Document. Both strategies of the ingestion CLI go through this interface:
// whole-space enumeration and explicit page ID lists.
type Loader interface {
	// LoadBySpace returns all pages of a space. An empty space key is a
	// validation error; missing read access fails the whole call with
	// domain.ErrAccessDenied.
	LoadBySpace(ctx context.Context, spaceKey string) ([]domain.Document, error)

	// LoadByIDs returns the named pages. Pages the source reports as
	// deleted or missing are skipped and logged; missing read access on
	// any page aborts the call with domain.ErrAccessDenied.
	LoadByIDs(ctx context.Context, pageIDs []string) ([]domain.Document, error)
}
