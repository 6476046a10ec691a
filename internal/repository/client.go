package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/satindergrewal/whitenoise/internal/timeline"
)

// Client talks to a remote composition repository over HTTP/JSON.
type Client struct {
	baseURL string
	opts    timeline.DecodeOptions
	log     *zap.Logger
	http    *http.Client
}

// NewClient creates a repository client. opts supplies the clip defaults
// applied to fetched documents.
func NewClient(baseURL string, opts timeline.DecodeOptions, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		opts:    opts,
		log:     log,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

// List fetches GET /api/compositions.
func (c *Client) List(ctx context.Context) ([]timeline.Summary, error) {
	data, err := c.getEnvelope(ctx, "/api/compositions")
	if err != nil {
		return nil, &LoadError{Err: err}
	}
	var list []timeline.Summary
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, &LoadError{Err: fmt.Errorf("decode list: %w", err)}
	}
	return list, nil
}

// Get fetches GET /api/compositions/{id}.
func (c *Client) Get(ctx context.Context, id string) (*timeline.Composition, error) {
	data, err := c.getEnvelope(ctx, "/api/compositions/"+url.PathEscape(id))
	if err != nil {
		return nil, &LoadError{ID: id, Err: err}
	}
	comp, err := timeline.DecodeJSON(data, c.opts)
	if err != nil {
		return nil, &LoadError{ID: id, Err: err}
	}
	if comp.ID == "" {
		comp.ID = id
	}
	return comp, nil
}

func (c *Client) getEnvelope(ctx context.Context, path string) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", path, err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		if resp.StatusCode == http.StatusNotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("decode response (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrNotFound
	}
	if !env.Success {
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, env.Error)
	}
	return env.Data, nil
}

// Render asks the repository to export a composition:
// POST /api/compositions/{id}/render {force}.
func (c *Client) Render(ctx context.Context, id string, force bool) (RenderResult, error) {
	body, err := json.Marshal(map[string]bool{"force": force})
	if err != nil {
		return RenderResult{}, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/compositions/"+url.PathEscape(id)+"/render", bytes.NewReader(body))
	if err != nil {
		return RenderResult{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.doRender(req)
}

// RenderStatus fetches GET /api/compositions/{id}/render/status.
func (c *Client) RenderStatus(ctx context.Context, id string) (RenderResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/api/compositions/"+url.PathEscape(id)+"/render/status", nil)
	if err != nil {
		return RenderResult{}, fmt.Errorf("create request: %w", err)
	}
	return c.doRender(req)
}

func (c *Client) doRender(req *http.Request) (RenderResult, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return RenderResult{}, fmt.Errorf("render request: %w", err)
	}
	defer resp.Body.Close()

	var res RenderResult
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return RenderResult{}, fmt.Errorf("decode render response: %w", err)
	}
	if res.Failed() {
		return res, fmt.Errorf("render failed: %s", res.Error)
	}
	return res, nil
}

// Export starts a render and, when the repository is still rendering,
// polls until the file is ready. It returns the download URL.
func (c *Client) Export(ctx context.Context, id string, force bool, interval time.Duration) (string, error) {
	res, err := c.Render(ctx, id, force)
	if err != nil {
		return "", err
	}
	if !res.Rendering {
		if res.URL == "" {
			return "", errors.New("render answered without a url")
		}
		return res.URL, nil
	}
	return c.PollRender(ctx, id, interval)
}

// PollRender polls the render status until it reports ready. Transient
// request errors are logged and retried.
func (c *Client) PollRender(ctx context.Context, id string, interval time.Duration) (string, error) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}

		res, err := c.RenderStatus(ctx, id)
		if err != nil {
			if res.Failed() || errors.Is(err, context.Canceled) {
				return "", err
			}
			c.log.Warn("render status poll failed, retrying", zap.String("id", id), zap.Error(err))
			continue
		}
		if res.Ready {
			return res.URL, nil
		}
	}
}
