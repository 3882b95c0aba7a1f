// Package confluence implements the wiki page loader against the Confluence
// Cloud REST API.
package confluence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"wikirag/internal/domain"
)

const pageLimit = 50

// Config configures the Confluence client. Username and APIKey are passed
// through to HTTP basic auth and never inspected.
type Config struct {
	BaseURL           string
	Username          string
	APIKey            string
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
}

// Client is a rate-limited REST client for the Confluence content API.
type Client struct {
	baseURL  string
	username string
	apiKey   string
	client   *http.Client
	limiter  *rate.Limiter
	log      *zap.SugaredLogger
}

// NewClient creates a Confluence loader from the given configuration.
func NewClient(cfg Config, log *zap.SugaredLogger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("confluence base URL is empty: %w", domain.ErrValidation)
	}
	if cfg.Username == "" || cfg.APIKey == "" {
		return nil, fmt.Errorf("confluence credentials missing: %w", domain.ErrValidation)
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 5.0
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 10
	}
	return &Client{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		username: cfg.Username,
		apiKey:   cfg.APIKey,
		client:   &http.Client{Timeout: timeout},
		limiter:  rate.NewLimiter(rate.Limit(rps), burst),
		log:      log,
	}, nil
}

type contentPage struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Body  struct {
		Storage struct {
			Value string `json:"value"`
		} `json:"storage"`
	} `json:"body"`
	Version struct {
		When time.Time `json:"when"`
	} `json:"version"`
	Space struct {
		Key string `json:"key"`
	} `json:"space"`
	Links struct {
		WebUI string `json:"webui"`
	} `json:"_links"`
}

type contentListing struct {
	Results []contentPage `json:"results"`
	Size    int           `json:"size"`
	Links   struct {
		Next string `json:"next"`
	} `json:"_links"`
}

// LoadBySpace enumerates every page of a space, following pagination.
func (c *Client) LoadBySpace(ctx context.Context, spaceKey string) ([]domain.Document, error) {
	if strings.TrimSpace(spaceKey) == "" {
		return nil, fmt.Errorf("space key is empty: %w", domain.ErrValidation)
	}
	var docs []domain.Document
	start := 0
	for {
		q := url.Values{}
		q.Set("spaceKey", spaceKey)
		q.Set("type", "page")
		q.Set("limit", fmt.Sprint(pageLimit))
		q.Set("start", fmt.Sprint(start))
		q.Set("expand", "body.storage,version,space")

		var listing contentListing
		if err := c.getJSON(ctx, "/rest/api/content?"+q.Encode(), &listing); err != nil {
			return nil, fmt.Errorf("space %q: %w", spaceKey, err)
		}
		for _, p := range listing.Results {
			docs = append(docs, c.toDocument(p))
		}
		if listing.Links.Next == "" || listing.Size < pageLimit {
			break
		}
		start += pageLimit
	}
	c.log.Infow("loaded space", "space", spaceKey, "pages", len(docs))
	return docs, nil
}

// LoadByIDs fetches the named pages one by one. Pages reported missing by
// the source are logged and skipped without failing the batch.
func (c *Client) LoadByIDs(ctx context.Context, pageIDs []string) ([]domain.Document, error) {
	if len(pageIDs) == 0 {
		return nil, fmt.Errorf("page ID list is empty: %w", domain.ErrValidation)
	}
	var docs []domain.Document
	for _, id := range pageIDs {
		if strings.TrimSpace(id) == "" {
			return nil, fmt.Errorf("page ID is empty: %w", domain.ErrValidation)
		}
		var page contentPage
		err := c.getJSON(ctx, "/rest/api/content/"+url.PathEscape(id)+"?expand=body.storage,version,space", &page)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				c.log.Warnw("page missing at source, skipping", "page", id)
				continue
			}
			return nil, fmt.Errorf("page %q: %w", id, err)
		}
		docs = append(docs, c.toDocument(page))
	}
	return docs, nil
}

func (c *Client) toDocument(p contentPage) domain.Document {
	pageURL := ""
	if p.Links.WebUI != "" {
		pageURL = c.baseURL + p.Links.WebUI
	}
	return domain.Document{
		SourceID:     p.ID,
		Title:        p.Title,
		Text:         p.Body.Storage.Value,
		SpaceKey:     p.Space.Key,
		URL:          pageURL,
		LastModified: p.Version.When,
	}
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.SetBasicAuth(c.username, c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("confluence request failed: %w: %v", domain.ErrSourceUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("confluence returned %s: %w", resp.Status, domain.ErrAccessDenied)
	case resp.StatusCode == http.StatusNotFound:
		return domain.ErrNotFound
	case resp.StatusCode >= 300:
		return fmt.Errorf("confluence returned %s: %w", resp.Status, domain.ErrSourceUnavailable)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode confluence response: %w: %v", domain.ErrSourceUnavailable, err)
	}
	return nil
}
