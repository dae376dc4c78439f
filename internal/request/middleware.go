package request

import (
	"context"
	"fmt"
	"net/http"
)

// RequestMiddleware decorates an outgoing request before each attempt.
type RequestMiddleware func(*http.Request) error

// ResponseMiddleware inspects a response after each attempt. An error fails
// the attempt without retry.
type ResponseMiddleware func(*http.Response) error

// TokenSource supplies the bearer token, typically from secure storage.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a TokenSource returning a fixed token.
type StaticToken string

func (t StaticToken) Token(context.Context) (string, error) { return string(t), nil }

// DeviceHeaders sets the device identity headers and User-Agent.
func DeviceHeaders(d DeviceInfo) RequestMiddleware {
	ua := d.UserAgent()
	return func(req *http.Request) error {
		for _, h := range d.headers() {
			if h[1] != "" {
				req.Header[h[0]] = []string{h[1]}
			}
		}
		req.Header.Set("User-Agent", ua)
		return nil
	}
}

// BearerAuth sets Authorization from src. An empty token sends no header.
func BearerAuth(src TokenSource) RequestMiddleware {
	return func(req *http.Request) error {
		if src == nil {
			return nil
		}
		token, err := src.Token(req.Context())
		if err != nil {
			return fmt.Errorf("request: load auth token: %w", err)
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		return nil
	}
}

// JSONContent marks bodies as JSON and asks for JSON back.
func JSONContent() RequestMiddleware {
	return func(req *http.Request) error {
		req.Header.Set("Accept", "application/json")
		if req.Body != nil && req.Body != http.NoBody {
			req.Header.Set("Content-Type", "application/json")
		}
		return nil
	}
}
