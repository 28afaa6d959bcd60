// Package api is the client for the fines backend. Every call takes the
// operator session explicitly; nothing is read from ambient state.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/AlverezYari/finecam/internal/session"
)

var (
	ErrUnauthorized = errors.New("session expired or unauthorized")
	ErrForbidden    = errors.New("operation not allowed for this role")
	ErrFineNotFound = errors.New("fine not found")
	ErrConnection   = errors.New("failed to reach server")
)

const RequestIDHeader = "X-Request-ID"

type Config struct {
	BaseURL string
	Timeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		BaseURL: "http://localhost:5075/api/",
		Timeout: 30 * time.Second,
	}
}

type Client struct {
	base       *url.URL
	httpClient *http.Client
	logger     zerolog.Logger
}

func NewClient(cfg Config, logger zerolog.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultConfig().BaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	// Paths are joined relative to the base, so it must end in a slash.
	if !strings.HasSuffix(cfg.BaseURL, "/") {
		cfg.BaseURL += "/"
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid api base url: %w", err)
	}
	return &Client{
		base:       base,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger.With().Str("component", "api-client").Logger(),
	}, nil
}

// ErrorCode is a backend error code. The backend sends it either as a string
// or as a number.
type ErrorCode string

func (c *ErrorCode) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*c = ErrorCode(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*c = ErrorCode(n.String())
	return nil
}

type ErrorItem struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// envelope wraps every backend response.
type envelope struct {
	IsSuccess bool            `json:"isSuccess"`
	Results   json.RawMessage `json:"results"`
	Errors    []ErrorItem     `json:"errors"`
}

func (e *envelope) empty() bool {
	r := bytes.TrimSpace(e.Results)
	return len(r) == 0 || bytes.Equal(r, []byte("null"))
}

// APIError is returned for any response that is not a success envelope.
type APIError struct {
	Status   int
	Codes    []string
	Messages []string
}

func (e *APIError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "api error (status %d)", e.Status)
	if len(e.Codes) > 0 {
		fmt.Fprintf(&b, " codes=%s", strings.Join(e.Codes, ","))
	}
	if len(e.Messages) > 0 {
		fmt.Fprintf(&b, ": %s", strings.Join(e.Messages, "; "))
	}
	return b.String()
}

// Code returns the first backend error code, or the HTTP status when the
// backend sent none.
func (e *APIError) Code() string {
	if len(e.Codes) > 0 && e.Codes[0] != "" {
		return e.Codes[0]
	}
	if e.Status != 0 {
		return fmt.Sprint(e.Status)
	}
	return ""
}

func (e *APIError) Is(target error) bool {
	switch target {
	case ErrUnauthorized:
		return e.Status == http.StatusUnauthorized || e.Code() == "401"
	case ErrForbidden:
		return e.Status == http.StatusForbidden || e.Code() == "403"
	}
	return false
}

func newAPIError(status int, items []ErrorItem) *APIError {
	e := &APIError{Status: status}
	for _, it := range items {
		e.Codes = append(e.Codes, string(it.Code))
		if it.Message != "" {
			e.Messages = append(e.Messages, it.Message)
		}
	}
	return e
}

type request struct {
	method      string
	path        string
	query       url.Values
	body        io.Reader
	contentType string
	session     *session.Session
}

func jsonRequest(method, path string, s *session.Session, v any) (request, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return request{}, fmt.Errorf("failed to marshal request: %w", err)
	}
	return request{
		method:      method,
		path:        path,
		body:        bytes.NewReader(data),
		contentType: "application/json",
		session:     s,
	}, nil
}

// pathSegment escapes an ID for use as one path segment. Dot segments are
// refused because resolution would collapse them.
func pathSegment(id string) (string, error) {
	switch id {
	case "":
		return "", errors.New("id is required")
	case ".", "..":
		return "", fmt.Errorf("invalid id %q", id)
	}
	return url.PathEscape(id), nil
}

// do sends r and returns the success envelope. Transport failures wrap
// ErrConnection; everything else that is not a success is an *APIError.
func (c *Client) do(ctx context.Context, r request) (*envelope, error) {
	// path is already escaped; see pathSegment
	ref, err := url.Parse(r.path)
	if err != nil {
		return nil, fmt.Errorf("invalid request path: %w", err)
	}
	if len(r.query) > 0 {
		ref.RawQuery = r.query.Encode()
	}
	target := c.base.ResolveReference(ref)

	req, err := http.NewRequestWithContext(ctx, r.method, target.String(), r.body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	reqID := uuid.NewString()
	req.Header.Set(RequestIDHeader, reqID)
	req.Header.Set("Accept", "application/json")
	if r.contentType != "" {
		req.Header.Set("Content-Type", r.contentType)
	}
	if r.session != nil && r.session.AccessToken != "" {
		req.Header.Set("Authorization", "Bearer "+r.session.AccessToken)
	}

	log := c.logger.With().Str("request_id", reqID).Str("method", r.method).Str("path", r.path).Logger()
	start := time.Now()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Error().Err(err).Msg("Request failed")
		return nil, fmt.Errorf("%w: %v", ErrConnection, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %v", ErrConnection, err)
	}
	log.Debug().Int("status", resp.StatusCode).Dur("elapsed", time.Since(start)).Msg("Request completed")

	var env envelope
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &env); err != nil {
			if resp.StatusCode >= 400 {
				return nil, &APIError{Status: resp.StatusCode, Messages: []string{strings.TrimSpace(string(body))}}
			}
			return nil, fmt.Errorf("failed to decode response: %w", err)
		}
	}

	if resp.StatusCode >= 400 || !env.IsSuccess {
		apiErr := newAPIError(resp.StatusCode, env.Errors)
		log.Warn().Int("status", resp.StatusCode).Strs("codes", apiErr.Codes).Msg("Request rejected")
		return nil, apiErr
	}
	return &env, nil
}

func decodeResults(env *envelope, v any) error {
	if env.empty() {
		return nil
	}
	if err := json.Unmarshal(env.Results, v); err != nil {
		return fmt.Errorf("failed to decode results: %w", err)
	}
	return nil
}

// authorize checks the session before any request is made.
func authorize(s *session.Session, roles ...session.Role) error {
	if !s.Valid() {
		return session.ErrNoSession
	}
	if !s.Allows(roles...) {
		return ErrForbidden
	}
	return nil
}
