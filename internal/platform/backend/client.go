package backend

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

	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/citasulsa/citas/internal/domain/scheduling"
	"github.com/citasulsa/citas/internal/platform/session"
)

// Config holds backend connection settings.
type Config struct {
	BaseURL   string
	Timeout   time.Duration
	Transport http.RoundTripper
}

// Client talks to the appointments backend over REST. It implements the
// scheduling repositories and the appointment store. Every call forwards the
// bearer token of the session found in the request context.
type Client struct {
	baseURL string
	http    *http.Client
	logger  zerolog.Logger
	now     func() time.Time
}

func NewClient(cfg Config, logger zerolog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	transport := cfg.Transport
	if transport == nil {
		transport = otelhttp.NewTransport(http.DefaultTransport)
	}
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		http: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
		logger: logger.With().Str("component", "backend").Logger(),
		now:    time.Now,
	}
}

var (
	_ scheduling.RuleRepository     = (*Client)(nil)
	_ scheduling.OccupiedTimeLookup = (*Client)(nil)
	_ scheduling.AppointmentStore   = (*Client)(nil)
)

type request struct {
	method string
	path   string
	query  url.Values
	body   any

	// anonymous requests skip the session check and do not treat 401 as
	// an expired session.
	anonymous bool
}

func (c *Client) do(ctx context.Context, r request, out any) error {
	var token string
	if !r.anonymous {
		sess := session.FromContext(ctx)
		if !sess.Authenticated(c.now()) {
			return fmt.Errorf("%s %s: %w", r.method, r.path, scheduling.ErrAuthExpired)
		}
		token = sess.Token
	}

	u := c.baseURL + r.path
	if len(r.query) > 0 {
		u += "?" + r.query.Encode()
	}

	var body io.Reader
	if r.body != nil {
		raw, err := json.Marshal(r.body)
		if err != nil {
			return fmt.Errorf("encode %s body: %w", r.path, err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, r.method, u, body)
	if err != nil {
		return fmt.Errorf("build request %s %s: %w", r.method, r.path, err)
	}
	req.Header.Set("Accept", "application/json")
	if r.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%s %s: %w: %v", r.method, r.path, scheduling.ErrNetwork, err)
	}
	defer resp.Body.Close()

	c.logger.Debug().
		Str("method", r.method).
		Str("path", r.path).
		Int("status", resp.StatusCode).
		Dur("latency", time.Since(start)).
		Msg("backend call")

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s %s: read body: %w: %v", r.method, r.path, scheduling.ErrNetwork, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s %s: %w", r.method, r.path, statusError(resp.StatusCode, raw, r.anonymous))
	}
	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s response: %w", r.path, err)
	}
	return nil
}

// StatusError is a non-2xx backend response that maps to no collaborator
// error of its own.
type StatusError struct {
	Code   int
	Detail string
}

func (e *StatusError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("backend returned %d", e.Code)
	}
	return fmt.Sprintf("backend returned %d: %s", e.Code, e.Detail)
}

func statusError(code int, body []byte, anonymous bool) error {
	messages := detailMessages(body)
	detail := strings.Join(messages, "; ")
	switch {
	case code == http.StatusUnauthorized && !anonymous:
		return scheduling.ErrAuthExpired
	case code == http.StatusForbidden:
		return withDetail(scheduling.ErrForbidden, detail)
	case code == http.StatusNotFound && !anonymous:
		return withDetail(scheduling.ErrNotFound, detail)
	case code == http.StatusConflict:
		return withDetail(scheduling.ErrServerConflict, detail)
	case code == http.StatusBadRequest || code == http.StatusUnprocessableEntity:
		return &scheduling.ValidationError{Messages: messages}
	case code >= 500:
		return fmt.Errorf("%w: %s", scheduling.ErrNetwork, (&StatusError{Code: code, Detail: detail}).Error())
	}
	return &StatusError{Code: code, Detail: detail}
}

func withDetail(err error, detail string) error {
	if detail == "" {
		return err
	}
	return fmt.Errorf("%w: %s", err, detail)
}

// detailMessages flattens an error body's "detail" field, which is either a
// string or a list of {loc, msg} entries.
func detailMessages(body []byte) []string {
	var envelope struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil || len(envelope.Detail) == 0 {
		return nil
	}

	var text string
	if err := json.Unmarshal(envelope.Detail, &text); err == nil {
		return []string{text}
	}

	var items []struct {
		Loc []any  `json:"loc"`
		Msg string `json:"msg"`
	}
	if err := json.Unmarshal(envelope.Detail, &items); err != nil {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		field := "field"
		if len(it.Loc) > 0 {
			parts := make([]string, len(it.Loc))
			for i, p := range it.Loc {
				parts[i] = fmt.Sprint(p)
			}
			field = strings.Join(parts, ".")
		}
		out = append(out, field+": "+it.Msg)
	}
	return out
}

// IsStatus reports whether err is a StatusError with the given code.
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == code
}
