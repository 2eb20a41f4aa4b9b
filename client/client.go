// Package client talks to a key-retrieval server on behalf of one user.
package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mozilla-services/keyretrieval/keyservice"
)

type options struct {
	address    string
	password   string
	token      string
	httpClient *http.Client
}

type Option func(*options)

// WithAddress sets the base URL of the server, e.g. "http://localhost:8080".
func WithAddress(value string) Option {
	return func(o *options) {
		o.address = value
	}
}

// WithPassword authenticates with HTTP Basic credentials.
func WithPassword(value string) Option {
	return func(o *options) {
		o.password = value
	}
}

// WithToken authenticates with a bearer token.
func WithToken(value string) Option {
	return func(o *options) {
		o.token = value
	}
}

func WithHTTPClient(value *http.Client) Option {
	return func(o *options) {
		o.httpClient = value
	}
}

// Client reads and writes the key-retrieval data of a single user. Errors
// match the keyservice sentinels, e.g., keyservice.ErrNotFound.
type Client struct {
	user string
	opts options
}

func New(user string, opts ...Option) *Client {
	c := &Client{user: user}
	c.opts.address = "http://127.0.0.1:8080"
	c.opts.httpClient = &http.Client{Timeout: 30 * time.Second}
	for _, o := range opts {
		o(&c.opts)
	}
	return c
}

func (c *Client) url() string {
	return strings.TrimSuffix(c.opts.address, "/") + "/" + url.PathEscape(c.user)
}

func (c *Client) do(ctx context.Context, method string, body []byte) (*http.Response, error) {
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	request, err := http.NewRequestWithContext(ctx, method, c.url(), r)
	if err != nil {
		return nil, err
	}
	if body != nil {
		request.Header.Set("Content-Type", "text/plain")
		request.ContentLength = int64(len(body))
	}
	switch {
	case c.opts.token != "":
		request.Header.Set("Authorization", "Bearer "+c.opts.token)
	case c.opts.password != "":
		request.SetBasicAuth(c.user, c.opts.password)
	}
	response, err := c.opts.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w: %w", method, c.url(), keyservice.ErrUnavailable, err)
	}
	return response, nil
}

// Get returns the stored data.
func (c *Client) Get(ctx context.Context) ([]byte, error) {
	response, err := c.do(ctx, http.MethodGet, nil)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = response.Body.Close()
	}()
	body, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, err
	}
	if response.StatusCode != http.StatusOK {
		return nil, statusError(response.StatusCode, body)
	}
	return body, nil
}

// Put replaces the stored data.
func (c *Client) Put(ctx context.Context, payload []byte) error {
	if payload == nil {
		payload = []byte{}
	}
	return c.expectNoContent(c.do(ctx, http.MethodPut, payload))
}

// Delete removes the stored data.
func (c *Client) Delete(ctx context.Context) error {
	return c.expectNoContent(c.do(ctx, http.MethodDelete, nil))
}

func (c *Client) expectNoContent(response *http.Response, err error) error {
	if err != nil {
		return err
	}
	defer func() {
		_ = response.Body.Close()
	}()
	body, err := io.ReadAll(response.Body)
	if err != nil {
		return err
	}
	if response.StatusCode != http.StatusNoContent {
		return statusError(response.StatusCode, body)
	}
	return nil
}

var statusErrors = map[int]error{
	http.StatusBadRequest:            keyservice.ErrBadRequest,
	http.StatusUnauthorized:          keyservice.ErrUnauthorized,
	http.StatusForbidden:             keyservice.ErrForbidden,
	http.StatusNotFound:              keyservice.ErrNotFound,
	http.StatusLengthRequired:        keyservice.ErrLengthRequired,
	http.StatusRequestEntityTooLarge: keyservice.ErrPayloadTooLarge,
	http.StatusUnsupportedMediaType:  keyservice.ErrUnsupportedMediaType,
}

func statusError(status int, body []byte) error {
	sentinel, ok := statusErrors[status]
	if !ok {
		sentinel = keyservice.ErrUnavailable
	}
	return fmt.Errorf("%d %.80q: %w", status, body, sentinel)
}
