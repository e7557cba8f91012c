// Package backend reads events from and posts triage actions to the incident
// REST API.
package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/apex/log"

	"github.com/sentinelcore/sentinel-stream/pkg/config"
	"github.com/sentinelcore/sentinel-stream/pkg/intel"
)

var (
	ErrUnauthorized  = errors.New("backend: unauthorized")
	ErrUnknownAction = errors.New("backend: unknown status action")
)

// StatusError is any other non-2xx response.
type StatusError struct {
	Code   int
	Status string
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("backend: %s: %s", e.Status, e.Body)
	}
	return "backend: " + e.Status
}

type Action string

const (
	ActionVerify   Action = "verify"
	ActionEscalate Action = "escalate"
	ActionArchive  Action = "archive"
)

// Status is the event status the action leads to.
func (a Action) Status() (intel.Status, bool) {
	switch a {
	case ActionVerify:
		return intel.StatusVerified, true
	case ActionEscalate:
		return intel.StatusEscalated, true
	case ActionArchive:
		return intel.StatusArchived, true
	}
	return "", false
}

type Client struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
}

func NewClient(c config.BackendConfig) *Client {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		BaseURL: strings.TrimRight(c.BaseURL, "/"),
		Token:   c.Token,
		HTTP:    &http.Client{Timeout: timeout},
	}
}

// FetchEvents loads the full event list. Both a bare array and a paginated
// {"results": [...]} body are accepted.
func (c *Client) FetchEvents(ctx context.Context) ([]intel.Event, error) {
	body, err := c.do(ctx, http.MethodGet, "/admin/events/")
	if err != nil {
		return nil, err
	}
	events, err := intel.DecodeEvents(body)
	if err != nil {
		return nil, fmt.Errorf("decoding event list: %w", err)
	}
	log.WithField("count", len(events)).Debug("[backend] events fetched")
	return events, nil
}

// UpdateStatus applies a triage action and returns the event as the backend
// now holds it.
func (c *Client) UpdateStatus(ctx context.Context, id string, a Action) (intel.Event, error) {
	if _, ok := a.Status(); !ok {
		return intel.Event{}, fmt.Errorf("%w: %q", ErrUnknownAction, a)
	}
	if id == "" {
		return intel.Event{}, fmt.Errorf("%s: %w", a, intel.ErrNotFound)
	}
	body, err := c.do(ctx, http.MethodPost, "/admin/events/"+url.PathEscape(id)+"/"+string(a)+"/")
	if err != nil {
		return intel.Event{}, err
	}
	ev, err := intel.NormalizeJSON(body)
	if err != nil {
		return intel.Event{}, fmt.Errorf("decoding %s response: %w", a, err)
	}
	return ev, nil
}

func (c *Client) do(ctx context.Context, method, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	httpClient := c.HTTP
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.WithError(err).Warn("[backend] closing response body")
		}
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, fmt.Errorf("%s %s: reading body: %w", method, path, err)
	}

	switch code := resp.StatusCode; {
	case code >= 200 && code < 300:
		return body, nil
	case code == http.StatusUnauthorized:
		log.WithField("path", path).Warn("[backend] unauthorized, token rejected")
		return nil, ErrUnauthorized
	case code == http.StatusTooManyRequests:
		log.WithField("path", path).Error("[backend] throttled, rate limit exceeded")
	case code == http.StatusServiceUnavailable:
		log.WithField("path", path).Error("[backend] service temporarily unavailable")
	}
	snippet := strings.TrimSpace(string(body))
	if len(snippet) > 200 {
		snippet = snippet[:200]
	}
	return nil, &StatusError{Code: resp.StatusCode, Status: resp.Status, Body: snippet}
}
