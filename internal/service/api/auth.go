package api

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/zhouzirui/asr-client/internal/model/asr"
	"github.com/zhouzirui/asr-client/internal/service/transport"
)

const (
	loginPath      = "/auth/login"
	tokenPath      = "/auth/token"
	registerPath   = "/auth/register"
	currentUserURL = "/auth/me"
)

// AuthClient covers login, registration and the current user.
type AuthClient struct {
	tc        *transport.Client
	loginForm bool
}

// Login exchanges credentials for a token. Backends that only expose the
// OAuth2 token endpoint answer 404/405 on /auth/login; the call is then
// repeated once against /auth/token. The token is not stored.
func (a *AuthClient) Login(ctx context.Context, username, password string) (asr.Token, error) {
	if err := checkCredentials(http.MethodPost, loginPath, username, password); err != nil {
		return asr.Token{}, err
	}

	token, err := a.postCredentials(ctx, loginPath, username, password)
	if isStatus(err, http.StatusNotFound, http.StatusMethodNotAllowed) {
		token, err = a.postCredentials(ctx, tokenPath, username, password)
	}
	if err != nil {
		if isStatus(err, http.StatusUnauthorized) {
			return asr.Token{}, refine(err, ErrInvalidCredentials)
		}
		return asr.Token{}, err
	}
	return token, nil
}

// Register creates an account and returns its first token.
func (a *AuthClient) Register(ctx context.Context, username, password string) (asr.Token, error) {
	if err := checkCredentials(http.MethodPost, registerPath, username, password); err != nil {
		return asr.Token{}, err
	}

	token, err := a.postCredentials(ctx, registerPath, username, password)
	if err != nil {
		if isStatus(err, http.StatusConflict) {
			return asr.Token{}, refine(err, ErrUsernameTaken)
		}
		return asr.Token{}, err
	}
	return token, nil
}

// Me returns the user the current token belongs to.
func (a *AuthClient) Me(ctx context.Context) (asr.User, error) {
	var user asr.User
	err := call(ctx, a.tc, &transport.Request{Method: http.MethodGet, Path: currentUserURL}, &user)
	return user, err
}

func (a *AuthClient) postCredentials(ctx context.Context, path, username, password string) (asr.Token, error) {
	req := &transport.Request{Method: http.MethodPost, Path: path}
	if a.loginForm {
		req.Body = transport.FormBody{Values: url.Values{
			"username": {username},
			"password": {password},
		}}
	} else {
		req.Body = transport.JSONBody{Value: asr.Credentials{Username: username, Password: password}}
	}

	var token asr.Token
	if err := call(ctx, a.tc, req, &token); err != nil {
		return asr.Token{}, err
	}
	if token.AccessToken == "" {
		return asr.Token{}, &transport.Error{
			Kind:   transport.ErrUnexpected,
			Method: req.Method,
			Path:   path,
			Detail: "response carries no access_token",
		}
	}
	return token, nil
}

func checkCredentials(method, path, username, password string) error {
	if strings.TrimSpace(username) == "" {
		return validationError(method, path, "username is required")
	}
	if password == "" {
		return validationError(method, path, "password is required")
	}
	return nil
}
