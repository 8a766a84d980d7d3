package casjobs

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
	"time"

	"sciserver-casjobs/internal/auth"
	"sciserver-casjobs/internal/config"
	"sciserver-casjobs/internal/telemetry"
)

const (
	headerAuthToken   = "X-Auth-Token"
	headerContentType = "Content-Type"
	headerAccept      = "Accept"
	contentJSON       = "application/json"

	// DefaultContext is the user's own database.
	DefaultContext = "MyDB"

	taskPrefix        = "SciScript-Go.CasJobs."
	computeTaskPrefix = "Compute." + taskPrefix
)

// TokenProvider supplies the SciServer token sent with every request.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// UserResolver maps a token to its keystone user.
type UserResolver interface {
	KeystoneUser(ctx context.Context, token string) (auth.KeystoneUser, error)
}

// Client talks to the CasJobs REST API. It is safe for concurrent use.
type Client struct {
	httpClient     *http.Client
	urls           urlTemplates
	tokens         TokenProvider
	users          UserResolver
	logger         *slog.Logger
	defaultContext string
	compute        bool
	sleep          func(ctx context.Context, d time.Duration) error
}

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the connection pool used for every call.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithTokenProvider replaces the default token chain.
func WithTokenProvider(p TokenProvider) Option {
	return func(c *Client) { c.tokens = p }
}

// WithUserResolver replaces the login-portal lookup used by GetSchemaName.
func WithUserResolver(r UserResolver) Option {
	return func(c *Client) { c.users = r }
}

// New builds a client for cfg.RESTURI. Without options the token comes from cfg.Token,
// then $SCISERVER_TOKEN, then the keystone token file.
func New(cfg config.Config, opts ...Option) (*Client, error) {
	u, err := url.Parse(cfg.RESTURI)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid CasJobs REST URI %q", cfg.RESTURI)
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConnsPerHost = 32
	c := &Client{
		httpClient:     &http.Client{Timeout: cfg.HTTPTimeout, Transport: transport},
		urls:           buildTemplates(cfg.RESTURI),
		tokens:         auth.Chain{auth.Static(cfg.Token), auth.Env("SCISERVER_TOKEN"), auth.File(cfg.TokenFile)},
		logger:         slog.Default(),
		defaultContext: cfg.DefaultContext,
		compute:        cfg.ComputeEnvironment,
		sleep:          sleepContext,
	}
	if c.defaultContext == "" {
		c.defaultContext = DefaultContext
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.users == nil && cfg.AuthURL != "" {
		c.users = &auth.PortalUserResolver{
			BaseURL:    cfg.AuthURL,
			HTTPClient: c.httpClient,
			TaskName:   c.TaskName("GetKeystoneUser"),
		}
	}
	return c, nil
}

// WithToken returns a copy of c that authenticates with p and shares c's connection pool.
func (c *Client) WithToken(p TokenProvider) *Client {
	cp := *c
	cp.tokens = p
	return &cp
}

// TaskName returns the default task name reported for operation.
func (c *Client) TaskName(operation string) string {
	if c.compute {
		return computeTaskPrefix + operation
	}
	return taskPrefix + operation
}

// CallOption adjusts a single call.
type CallOption func(*callOptions)

type callOptions struct {
	taskName string
}

// WithTaskName reports name to CasJobs instead of the operation's default task name.
func WithTaskName(name string) CallOption {
	return func(o *callOptions) { o.taskName = name }
}

func (c *Client) taskName(operation string, opts []CallOption) string {
	var o callOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.taskName != "" {
		return o.taskName
	}
	return c.TaskName(operation)
}

func (c *Client) resolveContext(dbContext string) string {
	if dbContext == "" {
		return c.defaultContext
	}
	return dbContext
}

// token fails closed: any provider error or an empty token yields ErrNotLoggedIn.
func (c *Client) token(ctx context.Context) (string, error) {
	if c.tokens == nil {
		return "", ErrNotLoggedIn
	}
	tok, err := c.tokens.Token(ctx)
	if err != nil {
		if errors.Is(err, auth.ErrNoToken) {
			return "", ErrNotLoggedIn
		}
		return "", fmt.Errorf("%w: %v", ErrNotLoggedIn, err)
	}
	if tok == "" {
		return "", ErrNotLoggedIn
	}
	return tok, nil
}

// requestHeader builds the auth, JSON content-type and Accept headers. Any format without
// an Accept value, the zero Format included, fails here before a request is made.
func requestHeader(token string, format Format) (http.Header, error) {
	accept, err := format.AcceptHeader()
	if err != nil {
		return nil, err
	}
	h := jsonHeader(token)
	h.Set(headerAccept, accept)
	return h, nil
}

// jsonHeader carries auth and content type only, for calls that read no result.
func jsonHeader(token string) http.Header {
	h := authHeader(token)
	h.Set(headerContentType, contentJSON)
	return h
}

func authHeader(token string) http.Header {
	h := http.Header{}
	h.Set(headerAuthToken, token)
	return h
}

// call is one request against the API.
type call struct {
	operation string
	method    string
	url       string
	header    http.Header
	body      []byte
	onError   string
}

// do issues the request and returns the body of a 200 response.
func (c *Client) do(ctx context.Context, cl call) ([]byte, error) {
	var body io.Reader = http.NoBody
	if cl.body != nil {
		body = bytes.NewReader(cl.body)
	}
	req, err := http.NewRequestWithContext(ctx, cl.method, cl.url, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header = cl.header.Clone()

	started := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		telemetry.ObserveRequest(cl.operation, 0, started)
		return nil, fmt.Errorf("%s %w", cl.onError, err)
	}
	defer resp.Body.Close()
	telemetry.ObserveRequest(cl.operation, resp.StatusCode, started)

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s read response: %w", cl.onError, err)
	}
	c.logger.Debug("casjobs call", "operation", cl.operation, "method", cl.method, "status", resp.StatusCode, "bytes", len(data), "elapsed", time.Since(started))
	if resp.StatusCode != http.StatusOK {
		return nil, &HTTPError{Message: cl.onError, StatusCode: resp.StatusCode, Body: string(data)}
	}
	return data, nil
}

// getJSON is the authenticated GET used by the read-only endpoints.
func (c *Client) getJSON(ctx context.Context, operation, url, onError, token string, out any) error {
	data, err := c.do(ctx, call{
		operation: operation,
		method:    http.MethodGet,
		url:       url,
		header:    authHeader(token),
		onError:   onError,
	})
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%s decode response: %w", onError, err)
	}
	return nil
}

// queryBody is the JSON request body for queries and job submissions.
type queryBody struct {
	Query    string `json:"Query"`
	TaskName string `json:"TaskName"`
}

func encodeQuery(sql, taskName string) ([]byte, error) {
	b, err := json.Marshal(queryBody{Query: sql, TaskName: taskName})
	if err != nil {
		return nil, fmt.Errorf("encode query: %w", err)
	}
	return b, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
