package probe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	DefaultTimeout       = 15 * time.Second
	DefaultRetries       = 3
	DefaultRetryInterval = 2 * time.Second

	maxResponseBytes = 64 << 10
)

// Errors the server reports with a distinct status. None of them is retried.
var (
	ErrInvalidChallenge  = errors.New("challenge has an invalid format")
	ErrUnknownChallenge  = errors.New("no network-probe verification uses this challenge")
	ErrChallengeExpired  = errors.New("challenge expired; create a new verification request")
	ErrAlreadyFinalized  = errors.New("verification request already finalized")
	ErrOriginRejected    = errors.New("this host's address is not the node's address")
	ErrUnexpectedStatus  = errors.New("unexpected server response")
	ErrServerUnreachable = errors.New("verification server unreachable")
)

// APIError is a non-2xx response from the verification server.
type APIError struct {
	StatusCode int
	Message    string
	err        error
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%v (HTTP %d)", e.err, e.StatusCode)
	}
	return fmt.Sprintf("%v (HTTP %d): %s", e.err, e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error { return e.err }

func (e *APIError) retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

func statusError(code int) error {
	switch code {
	case http.StatusBadRequest:
		return ErrInvalidChallenge
	case http.StatusNotFound:
		return ErrUnknownChallenge
	case http.StatusGone:
		return ErrChallengeExpired
	case http.StatusConflict:
		return ErrAlreadyFinalized
	case http.StatusForbidden:
		return ErrOriginRejected
	default:
		return ErrUnexpectedStatus
	}
}

// ClientConfig holds probe client configuration.
type ClientConfig struct {
	// ServerURL is the base of the probe endpoints, e.g.
	// https://verify.example.org/v1/probe.
	ServerURL     string
	Timeout       time.Duration
	Retries       int
	RetryInterval time.Duration
	UserAgent     string
}

// Client drives the init/confirm exchange with the verification server.
type Client struct {
	config     ClientConfig
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// NewClient creates a probe client.
func NewClient(config ClientConfig, logger *slog.Logger) *Client {
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	if config.Retries < 0 {
		config.Retries = 0
	}
	if config.RetryInterval <= 0 {
		config.RetryInterval = DefaultRetryInterval
	}
	if config.UserAgent == "" {
		config.UserAgent = "nodeclaim-probe"
	}
	if logger == nil {
		logger = slog.Default()
	}
	config.ServerURL = strings.TrimRight(config.ServerURL, "/")

	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
			// The origin check binds the confirm call to this host; never
			// let a redirect send it elsewhere.
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		limiter: rate.NewLimiter(rate.Every(config.RetryInterval), 1),
		logger:  logger,
	}
}

// Init resolves the challenge to the node it was issued for.
func (c *Client) Init(ctx context.Context, req InitRequest) (*InitResponse, error) {
	var resp InitResponse
	if _, err := c.post(ctx, "/init", req, &resp); err != nil {
		return nil, err
	}
	if !resp.Success || resp.Node == nil {
		return nil, &APIError{StatusCode: http.StatusOK, Message: firstNonEmpty(resp.Error, resp.Message), err: ErrUnexpectedStatus}
	}
	return &resp, nil
}

// Confirm submits the local attestation. When an attempt whose outcome is
// unknown was resent and the server then answers 409, the earlier attempt is
// taken to have been accepted and the response is marked Presumed.
func (c *Client) Confirm(ctx context.Context, req ConfirmRequest) (*ConfirmResponse, error) {
	var resp ConfirmResponse
	resent, err := c.post(ctx, "/confirm", req, &resp)
	if resent && errors.Is(err, ErrAlreadyFinalized) {
		c.logger.Warn("confirm was resent and the request is already finalized; assuming the earlier attempt was accepted")
		return &ConfirmResponse{
			Success:  true,
			Status:   "pending_approval",
			Message:  "an earlier confirm attempt was most likely accepted; check the request status",
			Presumed: true,
		}, nil
	}
	if err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, &APIError{StatusCode: http.StatusOK, Message: firstNonEmpty(resp.Error, resp.Message), err: ErrUnexpectedStatus}
	}
	return &resp, nil
}

// post sends body to path, retrying transport failures, 429 and 5xx at most
// config.Retries times, paced by the limiter. resent reports whether a later
// attempt followed one the server may already have processed: a transport
// failure or a 5xx.
func (c *Client) post(ctx context.Context, path string, body, out any) (resent bool, err error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return false, fmt.Errorf("encode request: %w", err)
	}

	var lastErr error
	unknown := false
	for attempt := 0; attempt <= c.config.Retries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			if lastErr != nil {
				return resent, lastErr
			}
			return resent, err
		}

		resent = resent || unknown
		err := c.do(ctx, path, payload, out)
		if err == nil {
			return resent, nil
		}
		lastErr = err

		var apiErr *APIError
		if errors.As(err, &apiErr) {
			if !apiErr.retryable() {
				return resent, err
			}
			unknown = unknown || apiErr.StatusCode >= 500
		} else {
			unknown = true
		}
		if ctx.Err() != nil {
			return resent, err
		}
		c.logger.Debug("probe request failed, retrying", "path", path, "attempt", attempt+1, "error", err)
	}
	return resent, lastErr
}

func (c *Client) do(ctx context.Context, path string, payload []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.ServerURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.config.UserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrServerUnreachable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("%w: read response: %v", ErrServerUnreachable, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var body struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		_ = json.Unmarshal(data, &body)
		return &APIError{
			StatusCode: resp.StatusCode,
			Message:    firstNonEmpty(body.Error, body.Message),
			err:        statusError(resp.StatusCode),
		}
	}

	if err := json.Unmarshal(data, out); err != nil {
		return &APIError{StatusCode: resp.StatusCode, Message: "malformed response body", err: ErrUnexpectedStatus}
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
