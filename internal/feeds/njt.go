package feeds

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"tripcards.app/internal/cache"
)

// Token namespaces for the two form-authenticated NJ Transit APIs.
const (
	NJRailTokenFamily = "njt-rail"
	NJBusTokenFamily  = "njt-bus"
)

type NJTConfig struct {
	BaseURL  string
	Username string
	Password string
}

// njtSession authenticates against one NJ Transit API and runs token-bearing
// form posts, re-authenticating once when the token is refused.
type njtSession struct {
	upstream
	cfg       NJTConfig
	family    string
	loginPath string
	tokens    *cache.TokenCache
}

type njtLoginResponse struct {
	Authenticated string `json:"Authenticated"`
	UserToken     string `json:"UserToken"`
	ErrorMessage  string `json:"errorMessage"`
}

func (s *njtSession) endpoint(path string) string {
	return strings.TrimRight(s.cfg.BaseURL, "/") + "/" + path
}

func (s *njtSession) login(ctx context.Context) (string, error) {
	if s.cfg.Username == "" || s.cfg.Password == "" {
		return "", fmt.Errorf("%w: %s credentials not configured", ErrAuth, s.family)
	}
	body, err := s.do(ctx, request{
		method: http.MethodPost,
		url:    s.endpoint(s.loginPath),
		form:   url.Values{"username": {s.cfg.Username}, "password": {s.cfg.Password}},
	})
	if err != nil {
		if isAuthStatus(err) {
			return "", fmt.Errorf("%w: %s login refused: %v", ErrAuth, s.family, err)
		}
		return "", err
	}

	var resp njtLoginResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("%w: %s login response: %v", ErrDecode, s.family, err)
	}
	if !strings.EqualFold(resp.Authenticated, "true") || resp.UserToken == "" {
		return "", fmt.Errorf("%w: %s login refused: %s", ErrAuth, s.family, resp.ErrorMessage)
	}
	return resp.UserToken, nil
}

// post sends form plus the session token to path.
func (s *njtSession) post(ctx context.Context, path string, form url.Values) ([]byte, error) {
	body, err := cache.WithToken(ctx, s.tokens, s.family, s.login, func(ctx context.Context, token string) ([]byte, error) {
		values := url.Values{"token": {token}}
		for k, v := range form {
			values[k] = v
		}
		body, err := s.do(ctx, request{method: http.MethodPost, url: s.endpoint(path), form: values})
		if err != nil {
			if isAuthStatus(err) {
				return nil, cache.ErrTokenRejected
			}
			return nil, err
		}
		if tokenRefused(body) {
			return nil, cache.ErrTokenRejected
		}
		return body, nil
	})
	if errors.Is(err, cache.ErrTokenRejected) {
		return nil, fmt.Errorf("%w: %s token refused after re-authentication", ErrAuth, s.family)
	}
	return body, err
}

func isAuthStatus(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && (se.Status == http.StatusUnauthorized || se.Status == http.StatusForbidden)
}

// tokenRefused spots the 200 answer NJ Transit sends for an expired token.
func tokenRefused(body []byte) bool {
	body = bytes.TrimSpace(body)
	if len(body) == 0 || body[0] != '{' {
		return false
	}
	var resp struct {
		ErrorMessage string `json:"errorMessage"`
	}
	if json.Unmarshal(body, &resp) != nil {
		return false
	}
	return strings.Contains(strings.ToLower(resp.ErrorMessage), "token")
}
