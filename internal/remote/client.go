package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ConnectForLife/vxnaid-sub000/internal/metrics"
)

// DefaultTimeout bounds every remote call unless overridden.
const DefaultTimeout = 30 * time.Second

// maxErrorBody caps how much of an error response body is read.
const maxErrorBody = 4096

// Opts holds client configuration.
type Opts struct {
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
	Metrics    *metrics.Metrics
}

// Option configures a Client.
type Option func(*Opts)

// WithBaseURL sets the backend base URL.
func WithBaseURL(u string) Option {
	return func(o *Opts) { o.BaseURL = u }
}

// WithTimeout sets the per-call timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *Opts) { o.Timeout = d }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Opts) { o.HTTPClient = c }
}

// WithMetrics records call latencies.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Opts) { o.Metrics = m }
}

// Client talks JSON over HTTP to the backend.
type Client struct {
	httpClient *http.Client
	baseURL    string
	metrics    *metrics.Metrics
}

var _ API = (*Client)(nil)

// NewClient creates a Client. The base URL is required.
func NewClient(opts ...Option) (*Client, error) {
	cfg := Opts{Timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("remote base URL not set")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid remote base URL: %w", err)
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}
	slog.Debug("remote.NewClient: client configured", "baseURL", cfg.BaseURL, "timeout", cfg.Timeout)
	return &Client{
		httpClient: hc,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		metrics:    cfg.Metrics,
	}, nil
}

type uuidResponse struct {
	UUID string `json:"uuid"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// RegisterParticipant creates a participant and returns its uuid.
func (c *Client) RegisterParticipant(ctx context.Context, req ParticipantRequest) (string, error) {
	var out uuidResponse
	if err := c.do(ctx, "registerParticipant", http.MethodPost, "/participants", keyOr(req.RequestID, req.ParticipantUUID), req, &out); err != nil {
		return "", err
	}
	if out.UUID == "" {
		out.UUID = req.ParticipantUUID
	}
	return out.UUID, nil
}

// UpdateParticipant replaces a participant's demographics.
func (c *Client) UpdateParticipant(ctx context.Context, req ParticipantRequest) error {
	path := "/participants/" + url.PathEscape(req.ParticipantUUID)
	return c.do(ctx, "updateParticipant", http.MethodPut, path, keyOr(req.RequestID, req.ParticipantUUID), req, nil)
}

// CreateVisit creates a visit and returns its uuid.
func (c *Client) CreateVisit(ctx context.Context, req VisitRequest) (string, error) {
	var out uuidResponse
	if err := c.do(ctx, "createVisit", http.MethodPost, "/visits", keyOr(req.RequestID, req.VisitUUID), req, &out); err != nil {
		return "", err
	}
	if out.UUID == "" {
		out.UUID = req.VisitUUID
	}
	return out.UUID, nil
}

// UpdateVisit replaces a visit's status and observations.
func (c *Client) UpdateVisit(ctx context.Context, req VisitRequest) error {
	path := "/visits/" + url.PathEscape(req.VisitUUID)
	return c.do(ctx, "updateVisit", http.MethodPut, path, keyOr(req.RequestID, req.VisitUUID), req, nil)
}

// GetParticipantsByUUIDs fetches participants, reporting deleted ones with a marker.
func (c *Client) GetParticipantsByUUIDs(ctx context.Context, uuids []string) ([]ParticipantResult, error) {
	if len(uuids) == 0 {
		return nil, nil
	}
	var out []participantDTO
	body := map[string][]string{"uuids": uuids}
	if err := c.do(ctx, "getParticipantsByUuids", http.MethodPost, "/participants/batch", "", body, &out); err != nil {
		return nil, err
	}
	results := make([]ParticipantResult, 0, len(out))
	for _, dto := range out {
		if dto.Deleted {
			results = append(results, ParticipantResult{UUID: dto.UUID, Deleted: true})
			continue
		}
		p, err := dto.toModel()
		if err != nil {
			return nil, NewAPIError(CategoryInvalid, "getParticipantsByUuids", "malformed participant "+dto.UUID, err)
		}
		results = append(results, ParticipantResult{UUID: dto.UUID, Participant: p})
	}
	return results, nil
}

// Ping checks that the backend is reachable.
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, "ping", http.MethodGet, "/health", "", nil, nil)
}

func keyOr(key, fallback string) string {
	if key != "" {
		return key
	}
	return fallback
}

func (c *Client) do(ctx context.Context, op, method, path, idempotencyKey string, body, out any) error {
	start := time.Now()
	defer func() { c.metrics.ObserveRemoteLatency(op, time.Since(start)) }()

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return NewAPIError(CategoryInvalid, op, "encode request", err)
		}
		bodyReader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return NewAPIError(CategoryInvalid, op, "build request", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		slog.Warn("remote.Client.do: transport failure", "op", op, "error", err)
		return NewAPIError(CategoryTransient, op, "transport failure", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := classify(op, resp)
		slog.Debug("remote.Client.do: request rejected", "op", op, "status", resp.StatusCode, "category", apiErr.Category)
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return NewAPIError(CategoryTransient, op, "decode response", err)
	}
	return nil
}

// classify maps a non-2xx response onto the error taxonomy.
func classify(op string, resp *http.Response) *APIError {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var e errorResponse
	if len(data) > 0 {
		_ = json.Unmarshal(data, &e)
	}
	msg := e.Message
	if msg == "" {
		msg = strings.TrimSpace(string(data))
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	status := fmt.Errorf("http status %d", resp.StatusCode)

	switch {
	case e.Code == CodeDuplicateRequest:
		return NewAPIError(CategoryDuplicate, op, msg, status)
	case e.Code == CodeParticipantExists, resp.StatusCode == http.StatusConflict:
		return NewAPIError(CategoryAlreadyExists, op, msg, status)
	case resp.StatusCode == http.StatusGone:
		return NewAPIError(CategoryDeleted, op, msg, status)
	case resp.StatusCode == http.StatusNotFound:
		return NewAPIError(CategoryNotFound, op, msg, status)
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return NewAPIError(CategoryUnauthorized, op, msg, status)
	case resp.StatusCode == http.StatusRequestTimeout, resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode >= 500:
		return NewAPIError(CategoryTransient, op, msg, status)
	default:
		return NewAPIError(CategoryInvalid, op, msg, status)
	}
}
