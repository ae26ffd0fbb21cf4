// Package supabase implements the backend contract against a hosted
// Supabase project: GoTrue for auth, PostgREST for rows, Storage for
// files and the Phoenix realtime socket for live inserts.
package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/saravenpi/supachat/internal/backend"
	"github.com/saravenpi/supachat/internal/clock"
	"github.com/saravenpi/supachat/internal/models"
)

// DefaultBucket is the storage bucket chat attachments go to.
const DefaultBucket = "supachat+"

type ClientConfig struct {
	URL     string
	AnonKey string
	Bucket  string

	HTTPClient *http.Client
	Dialer     *websocket.Dialer
	Sessions   backend.SessionStore
	Clock      clock.Clock
	Logger     *slog.Logger
}

// Client holds the connection settings and the signed-in session shared
// by the four platform surfaces.
type Client struct {
	baseURL    *url.URL
	anonKey    string
	bucket     string
	httpClient *http.Client
	dialer     *websocket.Dialer
	sessions   backend.SessionStore
	clock      clock.Clock
	logger     *slog.Logger

	listeners backend.AuthListeners

	mu      sync.Mutex
	session *models.Session
	loaded  bool
	// refreshing serialises token refreshes.
	refreshing sync.Mutex
}

func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.URL == "" || cfg.AnonKey == "" {
		return nil, errors.New("supabase url and anon key are required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.URL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid supabase url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("invalid supabase url %q: scheme must be http or https", cfg.URL)
	}

	c := &Client{
		baseURL:    base,
		anonKey:    cfg.AnonKey,
		bucket:     cfg.Bucket,
		httpClient: cfg.HTTPClient,
		dialer:     cfg.Dialer,
		sessions:   cfg.Sessions,
		clock:      cfg.Clock,
		logger:     cfg.Logger,
	}
	if c.bucket == "" {
		c.bucket = DefaultBucket
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if c.dialer == nil {
		c.dialer = websocket.DefaultDialer
	}
	if c.sessions == nil {
		c.sessions = &backend.MemorySessionStore{}
	}
	if c.clock == nil {
		c.clock = clock.Real()
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	c.logger = c.logger.With("component", "supabase")
	return c, nil
}

// New builds a Platform backed by the hosted project.
func New(cfg ClientConfig) (*backend.Platform, error) {
	c, err := NewClient(cfg)
	if err != nil {
		return nil, err
	}
	return backend.NewPlatform(&Auth{c}, &Rest{c}, &Storage{c}, &Realtime{c}, nil), nil
}

// endpoint joins path onto the project URL.
func (c *Client) endpoint(path string, query url.Values) string {
	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + path
	if query != nil {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

type requestOptions struct {
	query   url.Values
	body    any
	raw     io.Reader
	headers map[string]string
	// anon sends the anon key as the bearer even when signed in.
	anon bool
}

// do sends a request and decodes a JSON response into out when non-nil.
func (c *Client) do(ctx context.Context, method, path string, opts requestOptions, out any) error {
	var body io.Reader
	switch {
	case opts.raw != nil:
		body = opts.raw
	case opts.body != nil:
		data, err := json.Marshal(opts.body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path, opts.query), body)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}

	bearer := c.anonKey
	if !opts.anon {
		bearer, err = c.accessToken(ctx)
		if err != nil {
			return err
		}
	}
	req.Header.Set("apikey", c.anonKey)
	req.Header.Set("Authorization", "Bearer "+bearer)
	req.Header.Set("Accept", "application/json")
	if opts.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range opts.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := parseError(resp.StatusCode, data)
		c.logger.Debug("request failed", "method", method, "path", path, "status", resp.StatusCode, "code", apiErr.Code)
		return apiErr
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("failed to decode response from %s: %w", path, err)
		}
	}
	return nil
}

// errorBody is the union of the GoTrue, PostgREST and Storage error shapes.
type errorBody struct {
	Code             json.RawMessage `json:"code"`
	ErrorCode        string          `json:"error_code"`
	Error            string          `json:"error"`
	ErrorDescription string          `json:"error_description"`
	Msg              string          `json:"msg"`
	Message          string          `json:"message"`
	StatusCode       json.RawMessage `json:"statusCode"`
}

func parseError(status int, data []byte) *backend.APIError {
	apiErr := &backend.APIError{StatusCode: status}

	var body errorBody
	if err := json.Unmarshal(data, &body); err != nil {
		apiErr.Message = strings.TrimSpace(string(data))
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(status)
		}
		return apiErr
	}

	code := rawString(body.Code)
	switch {
	case body.ErrorCode != "":
		apiErr.Code = body.ErrorCode
	case code != "" && code != strconv.Itoa(status):
		apiErr.Code = code
	case body.Error != "":
		apiErr.Code = body.Error
	}
	// Storage reports the real status in the body and answers 400.
	if s, err := strconv.Atoi(rawString(body.StatusCode)); err == nil && s != status {
		apiErr.StatusCode = s
	}

	for _, msg := range []string{body.Msg, body.Message, body.ErrorDescription, body.Error} {
		if msg != "" {
			apiErr.Message = msg
			break
		}
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(status)
	}
	// GoTrue's password grant reports bad credentials as invalid_grant.
	if apiErr.Code == "invalid_grant" {
		apiErr.Code = backend.CodeInvalidCredentials
	}
	return apiErr
}

func rawString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(raw))
}
