// Package client talks to a jobchat server over HTTP and WebSocket and serves
// as the chat.Backend of conversation views.
package client

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

	"github.com/rs/zerolog"

	"github.com/vovakirdan/jobchat/internal/proto"
)

// Client is safe for concurrent use.
type Client struct {
	base    *url.URL
	http    *http.Client
	session *Session
	log     zerolog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client used for API calls.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTimeout bounds every API call.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.Timeout = d }
}

// WithLogger sets the client logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) { c.log = logger }
}

// New builds a client for the server at serverURL.
func New(serverURL string, opts ...Option) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(serverURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("server url %q: scheme must be http or https", serverURL)
	}
	c := &Client{
		base:    base,
		http:    &http.Client{Timeout: 15 * time.Second},
		session: newSession(),
		log:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Session returns the client's session.
func (c *Client) Session() *Session { return c.session }

// Register creates an account and signs in as it.
func (c *Client) Register(ctx context.Context, req proto.RegisterRequest) (proto.User, error) {
	var resp proto.AuthResponse
	if err := c.do(ctx, http.MethodPost, "/api/register", req, &resp); err != nil {
		return proto.User{}, fmt.Errorf("register: %w", err)
	}
	c.session.set(resp.Token, &resp.User)
	return resp.User, nil
}

// SignIn exchanges credentials for a session.
func (c *Client) SignIn(ctx context.Context, email, password string) (proto.User, error) {
	var resp proto.AuthResponse
	if err := c.do(ctx, http.MethodPost, "/api/login", proto.LoginRequest{Email: email, Password: password}, &resp); err != nil {
		return proto.User{}, fmt.Errorf("sign in: %w", err)
	}
	c.session.set(resp.Token, &resp.User)
	return resp.User, nil
}

// UseToken resumes a session from a stored token and verifies it.
func (c *Client) UseToken(ctx context.Context, token string) (proto.User, error) {
	c.session.setToken(token)
	user, err := c.CurrentUser(ctx)
	if err != nil {
		c.session.setToken("")
		return proto.User{}, err
	}
	c.session.set(token, &user)
	return user, nil
}

// CurrentUser asks the server who the session belongs to.
func (c *Client) CurrentUser(ctx context.Context) (proto.User, error) {
	var user proto.User
	if err := c.do(ctx, http.MethodGet, "/api/me", nil, &user); err != nil {
		return proto.User{}, fmt.Errorf("current user: %w", err)
	}
	return user, nil
}

// SignOut drops the session. Views opened for the old user should be closed
// by the session listeners.
func (c *Client) SignOut() {
	c.session.Clear()
}

// CreateJob books a photographer.
func (c *Client) CreateJob(ctx context.Context, req proto.CreateJobRequest) (proto.Job, error) {
	var job proto.Job
	if err := c.do(ctx, http.MethodPost, "/api/jobs", req, &job); err != nil {
		return proto.Job{}, fmt.Errorf("create job: %w", err)
	}
	return job, nil
}

// AcceptJob accepts a pending booking as its photographer.
func (c *Client) AcceptJob(ctx context.Context, jobID string) (proto.Job, error) {
	var job proto.Job
	if err := c.do(ctx, http.MethodPost, "/api/jobs/"+url.PathEscape(jobID)+"/accept", nil, &job); err != nil {
		return proto.Job{}, fmt.Errorf("accept job: %w", err)
	}
	return job, nil
}

// ListJobs returns the jobs the signed-in user takes part in.
func (c *Client) ListJobs(ctx context.Context) ([]proto.Job, error) {
	var jobs []proto.Job
	if err := c.do(ctx, http.MethodGet, "/api/jobs", nil, &jobs); err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, nil
}

func (c *Client) endpoint(path string, query url.Values) string {
	u := *c.base
	u.Path = strings.TrimRight(c.base.Path, "/") + path
	u.RawQuery = query.Encode()
	return u.String()
}

// resolve makes server-relative URLs absolute.
func (c *Client) resolve(ref string) string {
	if ref == "" {
		return ""
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return c.base.ResolveReference(u).String()
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	contentType := ""
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
		contentType = "application/json"
	}
	return c.doRaw(ctx, method, c.endpoint(path, nil), reader, contentType, out)
}

func (c *Client) doRaw(ctx context.Context, method, target string, body io.Reader, contentType string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	if token := c.session.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	c.log.Debug().
		Str("method", method).
		Str("path", req.URL.Path).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("api call")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeAPIError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode}
	var body proto.ErrorResponse
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if json.Unmarshal(data, &body) == nil {
		apiErr.Code = body.Code
		apiErr.Message = body.Error
	} else {
		apiErr.Message = strings.TrimSpace(string(data))
	}
	return apiErr
}
