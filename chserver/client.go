package chserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tv42/httpunix"
)

// Client calls a node's HTTP API.
type Client struct {
	base string
	http *http.Client
}

// unixLocation is the httpunix location name for socket-addressed nodes.
const unixLocation = "chaosd"

// NewClient returns a client for the node at addr.
// An addr of the form "unix:///path/to/socket" dials a unix socket;
// anything else is treated as a TCP host:port.
func NewClient(addr string) *Client {
	if path, ok := strings.CutPrefix(addr, "unix://"); ok {
		u := &httpunix.Transport{
			DialTimeout:           time.Second,
			RequestTimeout:        10 * time.Second,
			ResponseHeaderTimeout: 10 * time.Second,
		}
		u.RegisterLocation(unixLocation, path)

		t := &http.Transport{}
		t.RegisterProtocol(httpunix.Scheme, u)
		return &Client{
			base: httpunix.Scheme + "://" + unixLocation,
			http: &http.Client{Transport: t},
		}
	}

	return &Client{
		base: "http://" + addr,
		http: &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *Client) Status(ctx context.Context) (StatusResponse, error) {
	var res StatusResponse
	err := c.do(ctx, http.MethodGet, "/status", nil, http.StatusOK, &res)
	return res, err
}

func (c *Client) Tip(ctx context.Context) (BlockResponse, error) {
	var res BlockResponse
	err := c.do(ctx, http.MethodGet, "/blocks/tip", nil, http.StatusOK, &res)
	return res, err
}

func (c *Client) BlockAt(ctx context.Context, height uint64) (BlockResponse, error) {
	var res BlockResponse
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/blocks/%d", height), nil, http.StatusOK, &res)
	return res, err
}

func (c *Client) Intent(ctx context.Context, id string) (IntentResponse, error) {
	var res IntentResponse
	err := c.do(ctx, http.MethodGet, "/intents/"+id, nil, http.StatusOK, &res)
	return res, err
}

// SubmitIntent submits a codec-encoded intent.
func (c *Client) SubmitIntent(ctx context.Context, encoded []byte) (SubmitResponse, error) {
	var res SubmitResponse
	err := c.do(ctx, http.MethodPost, "/intents", encoded, http.StatusAccepted, &res)
	return res, err
}

// HTTPError is returned for responses with an unexpected status code.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e HTTPError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, want int, out any) error {
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, r)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return HTTPError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
