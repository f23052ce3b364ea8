// Package fetch loads descriptor trees: over HTTP for hosted apps and
// from local files for the preview workflow.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ucinar/exepad-runtime/internal/descriptor"
	"github.com/ucinar/exepad-runtime/internal/log"
)

// Instance modes. Preview instances re-fetch aggressively; published
// instances let intermediaries cache.
const (
	ModePreview   = "preview"
	ModePublished = "published"
)

// TreeSource loads the descriptor tree for one app.
type TreeSource interface {
	FetchTree(ctx context.Context, appID, mode, routeSlug string) (*descriptor.Tree, error)
}

// HTTPSource fetches trees from the hosting service.
type HTTPSource struct {
	baseURL string
	client  *http.Client
}

// NewHTTPSource creates an HTTP tree source. A nil client gets a
// default with a sane timeout.
func NewHTTPSource(baseURL string, client *http.Client) *HTTPSource {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &HTTPSource{baseURL: baseURL, client: client}
}

func (s *HTTPSource) FetchTree(ctx context.Context, appID, mode, routeSlug string) (*descriptor.Tree, error) {
	url := fmt.Sprintf("%s/apps/%s/config?mode=%s&route=%s", s.baseURL, appID, mode, routeSlug)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("fetch: build request: %w", err)
	}
	if mode == ModePreview {
		// Preview always sees the latest draft.
		req.Header.Set("Cache-Control", "no-cache")
	}

	start := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch: unexpected status %d for app %s", resp.StatusCode, appID)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("fetch: read body: %w", err)
	}
	tree, err := descriptor.ParseTree(data)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	log.Debug(log.CatFetch, "tree fetched",
		"appId", appID, "mode", mode, "bytes", len(data),
		"elapsed", time.Since(start).String())
	return tree, nil
}
