package transport

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/zhouzirui/asr-client/internal/metrics"
	"github.com/zhouzirui/asr-client/internal/service/session"
)

func defaultHeaders(userAgent string) RequestInterceptor {
	return func(_ context.Context, req *Request) error {
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", userAgent)
		return nil
	}
}

// BearerToken reads the store at send time and attaches the token. With no
// session any Authorization header is removed.
func BearerToken(store *session.Store) RequestInterceptor {
	return func(_ context.Context, req *Request) error {
		if token, ok := store.Token(); ok {
			req.Header.Set("Authorization", "Bearer "+token)
			req.token = token
		} else {
			req.Header.Del("Authorization")
			req.token = ""
		}
		return nil
	}
}

// ContentType forces the body's own content type (multipart boundary
// included) and falls back to JSON.
func ContentType() RequestInterceptor {
	return func(_ context.Context, req *Request) error {
		if req.Body == nil {
			req.Header.Del("Content-Type")
			return nil
		}
		ct := req.Body.ContentType()
		if ct == "" {
			ct = "application/json"
		}
		req.Header.Set("Content-Type", ct)
		return nil
	}
}

// UnauthorizedPolicy tears down the session on a 401 for the token the
// request carried. The store only notifies subscribers on the first clear,
// so concurrent 401s redirect once. A 401 that arrives after a re-login
// does not clear the new token.
func UnauthorizedPolicy(store *session.Store) ResponseInterceptor {
	return func(_ context.Context, ex *Exchange) {
		if exchangeStatus(ex) != http.StatusUnauthorized {
			return
		}
		if store.ClearToken(ex.Request.token, session.ReasonUnauthorized) {
			log.Printf("[http] %s %s unauthorized, session invalidated", ex.Request.Method, ex.Request.Path)
		}
	}
}

func recordMetrics(m *metrics.Metrics) ResponseInterceptor {
	return func(_ context.Context, ex *Exchange) {
		if m == nil {
			return
		}
		code := "error"
		if status := exchangeStatus(ex); status != 0 {
			code = strconv.Itoa(status)
		}
		m.RecordHTTPRequest(ex.Request.Method, ex.Request.Route, code, ex.Elapsed.Seconds())
		if ex.Err != nil {
			m.RecordHTTPError(ex.Request.Method, ex.Request.Route, kindName(ex.Err))
		}
	}
}

func logExchange() ResponseInterceptor {
	return func(_ context.Context, ex *Exchange) {
		if ex.Err != nil && errors.Is(ex.Err, ErrNetwork) {
			log.Printf("[http] %s %s failed after %s: %v", ex.Request.Method, ex.Request.Path, ex.Elapsed, ex.Err)
			return
		}
		log.Printf("[http] %s %s -> %d (%s)", ex.Request.Method, ex.Request.Path, exchangeStatus(ex), ex.Elapsed)
	}
}

func exchangeStatus(ex *Exchange) int {
	if ex.Response != nil {
		return ex.Response.Status
	}
	return StatusOf(ex.Err)
}
