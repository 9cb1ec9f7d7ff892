package conflict

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/haasonsaas/tandem/pkg/models"
)

// ResourceReader is the subset of the store a StoreFetcher needs.
type ResourceReader interface {
	Get(ctx context.Context, resourceType, id string) (*models.Resource, error)
	LastModifiedBy(ctx context.Context, resourceType, id string) (*models.User, error)
}

// StoreFetcher reads directly from an in-process store.
type StoreFetcher struct {
	Store ResourceReader
}

func (f StoreFetcher) Latest(ctx context.Context, resourceType, resourceID string) (*models.Resource, error) {
	return f.Store.Get(ctx, resourceType, resourceID)
}

func (f StoreFetcher) LastModifiedBy(ctx context.Context, resourceType, resourceID string) (*models.User, error) {
	return f.Store.LastModifiedBy(ctx, resourceType, resourceID)
}

// HTTPFetcher reads resources through the REST API and can save resolved
// results back.
type HTTPFetcher struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func NewHTTPFetcher(baseURL, token string) *HTTPFetcher {
	return &HTTPFetcher{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func resourcePath(resourceType, resourceID string) string {
	return "/api/resources/" + url.PathEscape(resourceType) + "/" + url.PathEscape(resourceID)
}

func (f *HTTPFetcher) Latest(ctx context.Context, resourceType, resourceID string) (*models.Resource, error) {
	var res models.Resource
	if err := f.do(ctx, http.MethodGet, resourcePath(resourceType, resourceID), nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (f *HTTPFetcher) LastModifiedBy(ctx context.Context, resourceType, resourceID string) (*models.User, error) {
	var user models.User
	if err := f.do(ctx, http.MethodGet, resourcePath(resourceType, resourceID)+"/last-modified-by", nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// Save stores data as the new snapshot of the resource.
func (f *HTTPFetcher) Save(ctx context.Context, resourceType, resourceID string, data map[string]any) (*models.Resource, error) {
	body, err := json.Marshal(map[string]any{"data": data})
	if err != nil {
		return nil, err
	}
	var res models.Resource
	if err := f.do(ctx, http.MethodPut, resourcePath(resourceType, resourceID), body, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (f *HTTPFetcher) do(ctx context.Context, method, path string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, f.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if f.token != "" {
		req.Header.Set("Authorization", "Bearer "+f.token)
	}
	resp, err := f.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096)) //nolint:errcheck
		return fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, strings.TrimSpace(string(msg)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
