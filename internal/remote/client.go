// Package remote is a thin client over the Papeterie backend HTTP surface.
// It performs no retries and imposes no timeouts of its own.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/ivlev/papeterie/internal/model"
)

// DeleteMode selects what a DELETE does with dependent assets.
type DeleteMode string

const (
	DeleteSprite  DeleteMode = "delete"
	DeleteCascade DeleteMode = "cascade"
	DeleteKeep    DeleteMode = "keep"
)

// ProcessingMode selects how a scene optimization runs.
type ProcessingMode string

const (
	ProcessingLocal ProcessingMode = "local"
	ProcessingLLM   ProcessingMode = "llm"
)

type ProcessOptions struct {
	Optimize         bool `json:"optimize"`
	RemoveBackground bool `json:"remove_background"`
}

type OptimizeOptions struct {
	PromptGuidance string         `json:"prompt_guidance"`
	ProcessingMode ProcessingMode `json:"processing_mode"`
}

type DeleteResult struct {
	KeptSprites []string `json:"kept_sprites,omitempty"`
}

type RotateResult struct {
	Message string `json:"message"`
}

type LogResult struct {
	Content string `json:"content"`
}

// Client talks to one backend.
type Client struct {
	baseURL string
	client  *http.Client
}

// NewClient creates a client for baseURL (e.g. "http://localhost:8000/api").
// A nil httpClient uses http.DefaultClient.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  httpClient,
	}
}

// GetConfig fetches the editable document of an asset: the scene itself, or a sprite's metadata.
func (c *Client) GetConfig(ctx context.Context, kind model.AssetKind, name string) (json.RawMessage, error) {
	var body json.RawMessage
	if err := c.do(ctx, http.MethodGet, assetPath(kind, name), nil, nil, &body); err != nil {
		return nil, err
	}
	if kind != model.KindSprite {
		return body, nil
	}

	var sprite struct {
		Metadata json.RawMessage `json:"metadata"`
	}
	if err := json.Unmarshal(body, &sprite); err != nil {
		return nil, fmt.Errorf("decode sprite %s: %w", name, err)
	}
	if len(sprite.Metadata) == 0 || string(sprite.Metadata) == "null" {
		return json.RawMessage(fmt.Sprintf(`{"name":%q,"behaviors":[]}`, name)), nil
	}
	return sprite.Metadata, nil
}

// PutConfig replaces the editable document of an asset.
func (c *Client) PutConfig(ctx context.Context, kind model.AssetKind, name string, config []byte) error {
	return c.do(ctx, http.MethodPut, assetPath(kind, name)+"/config", nil, json.RawMessage(config), nil)
}

// Delete removes an asset.
func (c *Client) Delete(ctx context.Context, kind model.AssetKind, name string, mode DeleteMode) (DeleteResult, error) {
	var res DeleteResult
	q := url.Values{}
	if mode != "" {
		q.Set("mode", string(mode))
	}
	err := c.do(ctx, http.MethodDelete, assetPath(kind, name), q, nil, &res)
	return res, err
}

// Process runs the sprite image pipeline.
func (c *Client) Process(ctx context.Context, name string, opts ProcessOptions) error {
	return c.do(ctx, http.MethodPost, assetPath(model.KindSprite, name)+"/process", nil, opts, nil)
}

// OptimizeScene starts the scene optimization job and returns when it finishes.
func (c *Client) OptimizeScene(ctx context.Context, name string, opts OptimizeOptions) error {
	return c.do(ctx, http.MethodPost, assetPath(model.KindScene, name)+"/optimize", nil, opts, nil)
}

// Rotate bakes a rotation into the asset's image files.
func (c *Client) Rotate(ctx context.Context, kind model.AssetKind, name string, angle float64) (RotateResult, error) {
	var res RotateResult
	body := struct {
		Angle float64 `json:"angle"`
	}{angle}
	err := c.do(ctx, http.MethodPost, assetPath(kind, name)+"/rotate", nil, body, &res)
	return res, err
}

// Revert restores a sprite's original image.
func (c *Client) Revert(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodPost, assetPath(model.KindSprite, name)+"/revert", nil, nil, nil)
}

// Logs returns the processing log of an asset.
func (c *Client) Logs(ctx context.Context, kind model.AssetKind, name string) (LogResult, error) {
	var res LogResult
	err := c.do(ctx, http.MethodGet, "/logs/"+kind.Collection()+"/"+url.PathEscape(name), nil, nil, &res)
	return res, err
}

// AssetURL builds the static URL of an asset file. A non-zero cacheBuster is
// appended so previews reload after the file is rewritten.
func (c *Client) AssetURL(kind model.AssetKind, name, file string, cacheBuster int64) string {
	u := c.baseURL + "/assets/" + kind.Collection() + "/" + url.PathEscape(name) + "/" + url.PathEscape(file)
	if cacheBuster != 0 {
		u += "?t=" + strconv.FormatInt(cacheBuster, 10)
	}
	return u
}

func assetPath(kind model.AssetKind, name string) string {
	return "/" + kind.Collection() + "/" + url.PathEscape(name)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, in, out any) error {
	op := method + " " + path
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: encode body: %w", op, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return &Error{Kind: KindNetwork, Op: op, Cause: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &Error{Kind: KindNetwork, Op: op, Cause: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &Error{Kind: KindHTTP, Op: op, Status: resp.StatusCode, Detail: parseDetail(data)}
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if raw, ok := out.(*json.RawMessage); ok {
		*raw = append((*raw)[:0], data...)
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}

// parseDetail extracts {detail} from an error body. FastAPI-style validation
// errors carry a list of {msg} objects instead of a string.
func parseDetail(data []byte) string {
	var body struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(data, &body); err != nil || len(body.Detail) == 0 {
		return strings.TrimSpace(string(data))
	}

	var s string
	if json.Unmarshal(body.Detail, &s) == nil {
		return s
	}
	var items []struct {
		Msg string `json:"msg"`
	}
	if json.Unmarshal(body.Detail, &items) == nil && len(items) > 0 {
		msgs := make([]string, 0, len(items))
		for _, it := range items {
			msgs = append(msgs, it.Msg)
		}
		return strings.Join(msgs, "; ")
	}
	return string(body.Detail)
}
