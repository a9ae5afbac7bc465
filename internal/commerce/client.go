// Package commerce is the GraphQL client for the WooCommerce-style backend
// that owns sessions, carts and orders. Every call threads the shopper's
// session token through the woocommerce-session header; the backend may rotate
// the token on any response, so callers must adopt the returned token.
package commerce

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// SessionHeader is the header the commerce backend uses to carry its session token.
const SessionHeader = "woocommerce-session"

const defaultTimeout = 15 * time.Second

// Logger defines the logging contract for commerce client operations.
type Logger func(ctx context.Context, event string, fields map[string]any)

// ErrBackendUnavailable indicates the commerce backend could not be reached or
// answered with a non-success HTTP status.
var ErrBackendUnavailable = errors.New("commerce: backend unavailable")

// GraphQLError captures errors returned inside a GraphQL response envelope.
type GraphQLError struct {
	Messages []string
}

// Error implements the error interface.
func (e *GraphQLError) Error() string {
	if e == nil || len(e.Messages) == 0 {
		return "commerce: graphql error"
	}
	return "commerce: " + strings.Join(e.Messages, "; ")
}

// Config configures the commerce Client.
type Config struct {
	GraphQLURL string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     Logger
}

// Client executes GraphQL operations against the commerce backend.
type Client struct {
	endpoint string
	http     *http.Client
	logger   Logger
}

// NewClient constructs a commerce Client from the given configuration.
func NewClient(cfg Config) (*Client, error) {
	endpoint := strings.TrimSpace(cfg.GraphQLURL)
	if endpoint == "" {
		return nil, errors.New("commerce: graphql url is required")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &Client{
		endpoint: endpoint,
		http:     httpClient,
		logger:   logger,
	}, nil
}

type gqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type gqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// callOptions carries the per-request credentials.
type callOptions struct {
	sessionToken string
	authToken    string
}

// do executes one GraphQL operation and decodes its data payload into out.
// The returned string is the session token after the call: either the rotated
// token from the response header or the one that was sent.
func (c *Client) do(ctx context.Context, opts callOptions, operation, query string, variables map[string]any, out any) (string, error) {
	if c == nil {
		return "", errors.New("commerce: client is nil")
	}

	body, err := json.Marshal(gqlRequest{Query: query, Variables: variables})
	if err != nil {
		return opts.sessionToken, fmt.Errorf("commerce: encode %s request: %w", operation, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return opts.sessionToken, fmt.Errorf("commerce: build %s request: %w", operation, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token := strings.TrimSpace(opts.sessionToken); token != "" {
		req.Header.Set(SessionHeader, "Session "+token)
	}
	if token := strings.TrimSpace(opts.authToken); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger(ctx, "commerce.request.failed", map[string]any{
			"operation": operation,
			"error":     err.Error(),
		})
		return opts.sessionToken, fmt.Errorf("%w: %s: %v", ErrBackendUnavailable, operation, err)
	}
	defer resp.Body.Close()

	session := opts.sessionToken
	if rotated := extractSessionToken(resp.Header.Get(SessionHeader)); rotated != "" {
		session = rotated
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return session, fmt.Errorf("commerce: read %s response: %w", operation, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger(ctx, "commerce.request.failed", map[string]any{
			"operation": operation,
			"status":    resp.StatusCode,
		})
		return session, fmt.Errorf("%w: %s returned status %d", ErrBackendUnavailable, operation, resp.StatusCode)
	}

	var envelope gqlResponse
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return session, fmt.Errorf("commerce: decode %s response: %w", operation, err)
	}

	if len(envelope.Errors) > 0 {
		messages := make([]string, 0, len(envelope.Errors))
		for _, e := range envelope.Errors {
			if msg := strings.TrimSpace(e.Message); msg != "" {
				messages = append(messages, msg)
			}
		}
		c.logger(ctx, "commerce.request.rejected", map[string]any{
			"operation": operation,
			"errors":    messages,
		})
		return session, &GraphQLError{Messages: messages}
	}

	if out != nil && len(envelope.Data) > 0 {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return session, fmt.Errorf("commerce: decode %s data: %w", operation, err)
		}
	}

	return session, nil
}

func extractSessionToken(header string) string {
	header = strings.TrimSpace(header)
	if rest, ok := strings.CutPrefix(header, "Session "); ok {
		return strings.TrimSpace(rest)
	}
	return header
}
