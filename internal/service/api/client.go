package api

import (
	"context"
	"errors"
	"fmt"

	"github.com/zhouzirui/asr-client/internal/service/transport"
)

// Errors specific to the resource clients. Each one also matches the
// transport kind it refines.
var (
	ErrInvalidCredentials = fmt.Errorf("invalid username or password: %w", transport.ErrUnauthorized)
	ErrUsernameTaken      = fmt.Errorf("username already registered: %w", transport.ErrConflict)
	ErrPayloadTooLarge    = fmt.Errorf("file too large: %w", transport.ErrPayloadRejected)
	ErrUnsupportedFormat  = fmt.Errorf("unsupported file format: %w", transport.ErrPayloadRejected)
)

// Client groups the resource clients that share one transport.
type Client struct {
	Auth     *AuthClient
	Tasks    *TaskClient
	Hotwords *HotwordClient
}

// Option customizes the resource clients.
type Option func(*options)

type options struct {
	loginForm bool
}

// WithLoginForm sends login and register as an OAuth2 password form
// instead of JSON.
func WithLoginForm(enabled bool) Option {
	return func(o *options) { o.loginForm = enabled }
}

// New builds all resource clients over tc.
func New(tc *transport.Client, opts ...Option) *Client {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	return &Client{
		Auth:     &AuthClient{tc: tc, loginForm: o.loginForm},
		Tasks:    &TaskClient{tc: tc},
		Hotwords: &HotwordClient{tc: tc},
	}
}

// validationError fails a call locally, before any network I/O.
func validationError(method, path, detail string) error {
	return &transport.Error{
		Kind:   transport.ErrValidation,
		Method: method,
		Path:   path,
		Detail: detail,
	}
}

// refine attaches a resource specific sentinel to a transport error while
// keeping the original error in the chain.
func refine(err, sentinel error) error {
	return fmt.Errorf("%w: %w", sentinel, err)
}

// call sends req and decodes the JSON body into out when out is non-nil.
func call(ctx context.Context, tc *transport.Client, req *transport.Request, out any) error {
	resp, err := tc.Do(ctx, req)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := resp.Decode(out); err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.Path, err)
	}
	return nil
}

func isStatus(err error, codes ...int) bool {
	var apiErr *transport.Error
	if !errors.As(err, &apiErr) {
		return false
	}
	for _, code := range codes {
		if apiErr.Status == code {
			return true
		}
	}
	return false
}
