package confluence

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"wikirag/internal/domain"
)

func testClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	c, err := NewClient(Config{
		BaseURL:           baseURL,
		Username:          "svc@example.com",
		APIKey:            "token",
		Timeout:           5 * time.Second,
		RequestsPerSecond: 1000,
		Burst:             1000,
	}, zap.NewNop().Sugar())
	require.NoError(t, err)
	return c
}

func pageJSON(id, title, body string) map[string]any {
	return map[string]any{
		"id":    id,
		"title": title,
		"body":  map[string]any{"storage": map[string]any{"value": body}},
		"version": map[string]any{
			"when": "2024-05-01T10:00:00.000Z",
		},
		"space":  map[string]any{"key": "ENG"},
		"_links": map[string]any{"webui": "/spaces/ENG/pages/" + id},
	}
}

func TestLoadBySpace_Paginates(t *testing.T) {
	var starts []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/rest/api/content", r.URL.Path)
		require.Equal(t, "ENG", r.URL.Query().Get("spaceKey"))
		user, key, ok := r.BasicAuth()
		require.True(t, ok)
		require.Equal(t, "svc@example.com", user)
		require.Equal(t, "token", key)

		start := r.URL.Query().Get("start")
		starts = append(starts, start)
		var resp map[string]any
		if start == "0" {
			results := make([]any, pageLimit)
			for i := range results {
				results[i] = pageJSON(fmt.Sprintf("1%02d", i), "Page", "<p>text</p>")
			}
			resp = map[string]any{
				"results": results,
				"size":    pageLimit,
				"_links":  map[string]any{"next": "/rest/api/content?start=50"},
			}
		} else {
			resp = map[string]any{
				"results": []any{pageJSON("999", "Last", "<p>tail</p>")},
				"size":    1,
				"_links":  map[string]any{},
			}
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	docs, err := testClient(t, srv.URL).LoadBySpace(context.Background(), "ENG")
	require.NoError(t, err)
	assert.Len(t, docs, pageLimit+1)
	assert.Equal(t, []string{"0", "50"}, starts)
	assert.Equal(t, "999", docs[pageLimit].SourceID)
	assert.Equal(t, "ENG", docs[0].SpaceKey)
	assert.Equal(t, srv.URL+"/spaces/ENG/pages/100", docs[0].URL)
	assert.Equal(t, 2024, docs[0].LastModified.Year())
}

func TestLoadBySpace_EmptyKeyIsValidationError(t *testing.T) {
	c := testClient(t, "http://localhost:1")
	_, err := c.LoadBySpace(context.Background(), "  ")
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestLoadBySpace_ForbiddenIsAccessDenied(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := testClient(t, srv.URL).LoadBySpace(context.Background(), "SECRET")
	require.ErrorIs(t, err, domain.ErrAccessDenied)
	assert.Contains(t, err.Error(), "SECRET")
}

func TestLoadBySpace_ServerErrorIsSourceUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := testClient(t, srv.URL).LoadBySpace(context.Background(), "ENG")
	require.ErrorIs(t, err, domain.ErrSourceUnavailable)
	assert.True(t, domain.IsRetryable(err))
}

func TestLoadByIDs_SkipsMissingPages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/rest/api/content/1":
			_ = json.NewEncoder(w).Encode(pageJSON("1", "Alive", "<p>a</p>"))
		case "/rest/api/content/2":
			w.WriteHeader(http.StatusNotFound)
		case "/rest/api/content/3":
			_ = json.NewEncoder(w).Encode(pageJSON("3", "Alive too", "<p>b</p>"))
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	docs, err := testClient(t, srv.URL).LoadByIDs(context.Background(), []string{"1", "2", "3"})
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "1", docs[0].SourceID)
	assert.Equal(t, "3", docs[1].SourceID)
}

func TestLoadByIDs_AccessDeniedAbortsBatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/rest/api/content/2" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(pageJSON("1", "Alive", "<p>a</p>"))
	}))
	defer srv.Close()

	_, err := testClient(t, srv.URL).LoadByIDs(context.Background(), []string{"1", "2", "3"})
	require.ErrorIs(t, err, domain.ErrAccessDenied)
	assert.Contains(t, err.Error(), `"2"`)
}

func TestLoadByIDs_EmptyListIsValidationError(t *testing.T) {
	c := testClient(t, "http://localhost:1")
	_, err := c.LoadByIDs(context.Background(), nil)
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestNewClient_RequiresCredentials(t *testing.T) {
	_, err := NewClient(Config{BaseURL: "https://wiki"}, zap.NewNop().Sugar())
	require.ErrorIs(t, err, domain.ErrValidation)
}
