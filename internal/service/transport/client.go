package transport

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/http2"

	"github.com/zhouzirui/asr-client/internal/metrics"
	"github.com/zhouzirui/asr-client/internal/service/session"
)

// RequestInterceptor runs before a request is sent. An error aborts the call.
type RequestInterceptor func(ctx context.Context, req *Request) error

// ResponseInterceptor observes every finished exchange, success or failure.
// It cannot replace the error returned to the caller.
type ResponseInterceptor func(ctx context.Context, ex *Exchange)

// Config contains REST client configuration
type Config struct {
	BaseURL     string
	Timeout     time.Duration
	EnableHTTP2 bool
	UserAgent   string
}

// Client sends every REST call through the interceptor chain.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	store      *session.Store
	metrics    *metrics.Metrics

	request  []RequestInterceptor
	response []ResponseInterceptor

	extraRequest  []RequestInterceptor
	extraResponse []ResponseInterceptor
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithMetrics records request metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithRequestInterceptor appends fn after the built-in request interceptors.
func WithRequestInterceptor(fn RequestInterceptor) Option {
	return func(c *Client) { c.extraRequest = append(c.extraRequest, fn) }
}

// WithResponseInterceptor appends fn after the built-in response interceptors.
func WithResponseInterceptor(fn ResponseInterceptor) Option {
	return func(c *Client) { c.extraResponse = append(c.extraResponse, fn) }
}

// NewClient builds a Client around store. The store is read on every request.
func NewClient(cfg Config, store *session.Store, opts ...Option) (*Client, error) {
	if store == nil {
		return nil, fmt.Errorf("session store cannot be nil")
	}

	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Host == "" {
		return nil, fmt.Errorf("invalid base url %q", cfg.BaseURL)
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	tr := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}
	if cfg.EnableHTTP2 {
		if err := http2.ConfigureTransport(tr); err != nil {
			return nil, fmt.Errorf("configure http2: %w", err)
		}
	}

	c := &Client{
		baseURL:    base,
		httpClient: &http.Client{Timeout: cfg.Timeout, Transport: tr},
		store:      store,
	}

	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = "asr-client/1.0"
	}

	for _, opt := range opts {
		opt(c)
	}

	c.request = append([]RequestInterceptor{
		defaultHeaders(userAgent),
		BearerToken(store),
		ContentType(),
	}, c.extraRequest...)

	// The policy runs first so observers see the session state it leaves behind.
	c.response = append([]ResponseInterceptor{
		UnauthorizedPolicy(store),
		recordMetrics(c.metrics),
		logExchange(),
	}, c.extraResponse...)

	if c.metrics != nil {
		m := c.metrics
		store.OnInvalidated(func(ev session.Invalidation) {
			m.RecordSessionInvalidation(string(ev.Reason))
		})
	}

	return c, nil
}

// BaseURL returns the backend base URL.
func (c *Client) BaseURL() *url.URL {
	u := *c.baseURL
	return &u
}

// Store returns the credential store shared by this client.
func (c *Client) Store() *session.Store {
	return c.store
}

// Do runs the request phase, sends the request, then runs the response
// phase. Non-2xx statuses are returned as *Error together with the response.
func (c *Client) Do(ctx context.Context, req *Request) (*Response, error) {
	if req.Header == nil {
		req.Header = http.Header{}
	}
	if req.Route == "" {
		req.Route = req.Path
	}

	for _, intercept := range c.request {
		if err := intercept(ctx, req); err != nil {
			return nil, err
		}
	}

	httpReq, err := c.buildHTTPRequest(ctx, req)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, sendErr := c.httpClient.Do(httpReq)
	ex := &Exchange{Request: req}

	if sendErr != nil {
		ex.Err = &Error{Kind: ErrNetwork, Method: req.Method, Path: req.Path, Err: sendErr}
	} else {
		ex.Response, ex.Err = readResponse(req, resp)
	}
	ex.Elapsed = time.Since(start)

	for _, intercept := range c.response {
		intercept(ctx, ex)
	}

	return ex.Response, ex.Err
}

func (c *Client) buildHTTPRequest(ctx context.Context, req *Request) (*http.Request, error) {
	target := c.baseURL.JoinPath(req.Path)
	if len(req.Query) > 0 {
		target.RawQuery = req.Query.Encode()
	}

	var body io.Reader
	if req.Body != nil {
		r, err := req.Body.Reader()
		if err != nil {
			return nil, fmt.Errorf("%s %s: %w", req.Method, req.Path, err)
		}
		body = r
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target.String(), body)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	httpReq.Header = req.Header.Clone()
	return httpReq, nil
}

func readResponse(req *Request, resp *http.Response) (*Response, error) {
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Kind: ErrNetwork, Status: resp.StatusCode, Method: req.Method, Path: req.Path,
			Err: fmt.Errorf("failed to read response body: %w", err)}
	}

	out := &Response{Status: resp.StatusCode, Header: resp.Header, Body: data}
	if kind := kindForStatus(resp.StatusCode); kind != nil {
		return out, &Error{
			Kind:   kind,
			Status: resp.StatusCode,
			Method: req.Method,
			Path:   req.Path,
			Detail: parseDetail(data),
		}
	}
	return out, nil
}
