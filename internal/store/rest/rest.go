// Package rest talks to the hosted tree store over its REST surface and
// subscribes to live change events over websocket. Paths map onto
// /v1/tree/{path}; an absent node reads as JSON null.
package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"github.com/m3loqt/unihealth-app-sub008/internal/store"
	"github.com/m3loqt/unihealth-app-sub008/internal/syncerr"
)

// Client implements the store boundary against a remote endpoint.
type Client struct {
	base  string
	token string
	http  *resty.Client
	log   zerolog.Logger
}

var _ store.Store = (*Client)(nil)

// New constructs a Client for baseURL. token, when non-empty, is sent as a
// bearer token on every request including the watch handshake.
func New(baseURL, token string, timeout time.Duration, log zerolog.Logger) *Client {
	r := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")
	if token != "" {
		r.SetAuthToken(token)
	}
	return &Client{base: baseURL, token: token, http: r, log: log}
}

// treeURL escapes each path segment so keys carrying URL metacharacters
// (legal per the store's key grammar) address the intended node instead of
// a truncated one.
func treeURL(path string) string {
	segs := strings.Split(path, "/")
	for i, seg := range segs {
		segs[i] = url.PathEscape(seg)
	}
	return "/v1/tree/" + strings.Join(segs, "/")
}

// Read returns the JSON value stored at path, or nil when absent.
func (c *Client) Read(ctx context.Context, path string) (any, error) {
	resp, err := c.http.R().SetContext(ctx).Get(treeURL(path))
	if err != nil {
		return nil, syncerr.Transport("read", path, err)
	}
	if err := statusErr("read", path, resp); err != nil {
		return nil, err
	}
	return decodeBody(resp.Body())
}

// Write stores value at path. The value is marshaled here rather than by
// the HTTP client so scalar leaves (booleans, strings, numbers) round-trip
// the same as objects.
func (c *Client) Write(ctx context.Context, path string, value any) error {
	body, err := json.Marshal(value)
	if err != nil {
		return syncerr.Transport("write", path, err)
	}
	resp, err := c.http.R().SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		Put(treeURL(path))
	if err != nil {
		return syncerr.Transport("write", path, err)
	}
	return statusErr("write", path, resp)
}

// Push stores value under a store-assigned key below path and returns the
// key.
func (c *Client) Push(ctx context.Context, path string, value any) (string, error) {
	body, err := json.Marshal(value)
	if err != nil {
		return "", syncerr.Transport("push", path, err)
	}
	resp, err := c.http.R().SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(body).
		Post(treeURL(path))
	if err != nil {
		return "", syncerr.Transport("push", path, err)
	}
	if err := statusErr("push", path, resp); err != nil {
		return "", err
	}
	var out struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(resp.Body(), &out); err != nil || out.Name == "" {
		return "", syncerr.Transport("push", path, fmt.Errorf("malformed push response: %q", resp.Body()))
	}
	return out.Name, nil
}

// Delete removes the node at path. Deleting an absent node succeeds.
func (c *Client) Delete(ctx context.Context, path string) error {
	resp, err := c.http.R().SetContext(ctx).Delete(treeURL(path))
	if err != nil {
		return syncerr.Transport("delete", path, err)
	}
	return statusErr("delete", path, resp)
}

// Snapshot returns a single consistent materialization of the whole tree.
func (c *Client) Snapshot(ctx context.Context) (store.Tree, error) {
	resp, err := c.http.R().SetContext(ctx).Get("/v1/snapshot")
	if err != nil {
		return nil, syncerr.Transport("snapshot", "", err)
	}
	if err := statusErr("snapshot", "", resp); err != nil {
		return nil, err
	}
	var tree store.Tree
	if err := json.Unmarshal(resp.Body(), &tree); err != nil {
		return nil, syncerr.Transport("snapshot", "", err)
	}
	return tree, nil
}

func decodeBody(body []byte) (any, error) {
	if len(body) == 0 {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return nil, syncerr.Transport("decode", "", err)
	}
	return v, nil
}

func statusErr(op, path string, resp *resty.Response) error {
	code := resp.StatusCode()
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return fmt.Errorf("%w: %s %s: HTTP %d", syncerr.ErrUnauthorized, op, path, code)
	case code == http.StatusBadRequest:
		return fmt.Errorf("%w: %s %s rejected: %s", syncerr.ErrInvalidIdentifier, op, path, resp.Body())
	default:
		return syncerr.Transport(op, path, fmt.Errorf("HTTP %d: %s", code, resp.Body()))
	}
}
