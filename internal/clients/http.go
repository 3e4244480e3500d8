// Package clients talks to the business, user and messaging services.
package clients

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

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const (
	retryInitialInterval = 500 * time.Millisecond
	retryMaxInterval     = 5 * time.Second
	maxErrorBody         = 512
)

// Credentials configures the client-credentials grant. An empty TokenURL
// disables authentication.
type Credentials struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
}

// Options configures one downstream client
type Options struct {
	BaseURL     string
	Timeout     time.Duration
	MaxRetries  int
	Credentials Credentials
	Logger      zerolog.Logger
	// HTTPClient overrides the transport, used by tests
	HTTPClient *http.Client
}

// StatusError is returned for non-2xx responses
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s returned %d: %s", e.Method, e.URL, e.StatusCode, e.Body)
}

// IsRetryable reports whether an error is worth another attempt: network
// failures, 5xx and 429.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode >= 500 || se.StatusCode == http.StatusTooManyRequests
	}
	return true
}

// StatusCode extracts the HTTP status from an error, or 0
func StatusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode
	}
	return 0
}

// NewHTTPClient builds an *http.Client with timeout and, when configured,
// an oauth2 client-credentials token source that refreshes ahead of expiry.
func NewHTTPClient(timeout time.Duration, creds Credentials) *http.Client {
	base := &http.Client{Timeout: timeout}
	if creds.TokenURL == "" {
		return base
	}

	cc := &clientcredentials.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		TokenURL:     creds.TokenURL,
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, base)
	client := cc.Client(ctx)
	client.Timeout = timeout
	return client
}

// requester performs JSON requests with bounded exponential retry
type requester struct {
	client     *http.Client
	maxRetries int
	log        zerolog.Logger

	initialInterval time.Duration
	maxInterval     time.Duration
}

func newRequester(opts Options, name string) *requester {
	client := opts.HTTPClient
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		client = NewHTTPClient(timeout, opts.Credentials)
	}
	maxRetries := opts.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &requester{
		client:          client,
		maxRetries:      maxRetries,
		log:             opts.Logger.With().Str("client", name).Logger(),
		initialInterval: retryInitialInterval,
		maxInterval:     retryMaxInterval,
	}
}

// postJSON sends body and decodes a 2xx response into out (if non-nil)
func (r *requester) postJSON(ctx context.Context, url string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.initialInterval
	b.Multiplier = 2
	b.MaxInterval = r.maxInterval
	b.RandomizationFactor = 0

	attempt := 0
	op := func() ([]byte, error) {
		attempt++
		data, err := r.do(ctx, http.MethodPost, url, payload)
		if err == nil {
			return data, nil
		}
		if ctx.Err() != nil || !IsRetryable(err) {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}

	data, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(r.maxRetries+1)),
		backoff.WithNotify(func(err error, wait time.Duration) {
			r.log.Warn().Err(err).Int("attempt", attempt).Dur("retry_in", wait).Str("url", url).Msg("request failed, retrying")
		}),
	)
	if err != nil {
		return err
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response from %s: %w", url, err)
	}
	return nil
}

func (r *requester) do(ctx context.Context, method, url string, payload []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request to %s failed: %w", url, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response from %s: %w", url, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		text := strings.TrimSpace(string(data))
		if len(text) > maxErrorBody {
			text = text[:maxErrorBody]
		}
		return nil, &StatusError{Method: method, URL: url, StatusCode: resp.StatusCode, Body: text}
	}
	return data, nil
}

func trimBase(u string) string {
	return strings.TrimRight(strings.TrimSpace(u), "/")
}
