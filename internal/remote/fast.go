package remote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/BadgerOps/goesfill/internal/safety"
	"github.com/BadgerOps/goesfill/internal/timeindex"
)

// FastOptions configures a FastStore.
type FastOptions struct {
	BaseURL       string
	Band          string            // ABI band, "13" when empty
	RetryAttempts int               // 0 defaults to 3
	Headers       map[string]string // passed through on every request
	HTTPClient    *http.Client
}

// FastStore fetches recent observations from an HTTP CDN.
type FastStore struct {
	baseURL     *url.URL
	band        string
	attempts    int
	headers     map[string]string
	httpClient  *http.Client
	logger      *slog.Logger
	userAgent   string
	backoffFunc func(attempt int) time.Duration
}

// NewFastStore creates a CDN client for opts.BaseURL.
func NewFastStore(opts FastOptions, logger *slog.Logger) (*FastStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	base, err := safety.ValidateBaseURL(opts.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("fast store: %w", err)
	}
	if base.Scheme == "http" && !safety.IsLoopbackHost(base) {
		logger.Warn("fast store base URL does not use TLS", "url", base.String())
	}

	band, err := timeindex.ParseBand(opts.Band)
	if err != nil {
		return nil, fmt.Errorf("fast store: %w", err)
	}
	attempts := opts.RetryAttempts
	if attempts <= 0 {
		attempts = 3
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = safety.NewTransferClient()
	}

	return &FastStore{
		baseURL:     base,
		band:        band,
		attempts:    attempts,
		headers:     opts.Headers,
		httpClient:  httpClient,
		logger:      logger,
		userAgent:   "goesfill/1.0",
		backoffFunc: calculateBackoffDelay,
	}, nil
}

// Name implements Store.
func (s *FastStore) Name() string { return string(timeindex.SourceFast) }

// ObjectURL returns the CDN URL for obj.
func (s *FastStore) ObjectURL(obj Object) string {
	sat := "GOES" + obj.Satellite.Number()
	name := fmt.Sprintf("%s_%s-ABI-%s-%s.nc", timeindex.DayOfYearStamp(obj.Timestamp), sat, obj.Product, s.band)
	return s.baseURL.String() + "/" + strings.Join([]string{sat, "ABI", string(obj.Product), s.band, name}, "/")
}

// Exists issues a HEAD request for obj.
func (s *FastStore) Exists(ctx context.Context, obj Object) (bool, error) {
	objURL := s.ObjectURL(obj)
	var found bool

	err := s.withRetry(ctx, "exists", objURL, func(attempt int) error {
		resp, err := s.do(ctx, http.MethodHead, objURL)
		if err != nil {
			return err
		}
		resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			found = true
			return nil
		}
		if errors.Is(classifyStatus(resp.StatusCode), ErrNotFound) {
			found = false
			return nil
		}
		return &HTTPError{StatusCode: resp.StatusCode, Status: resp.Status}
	})
	if err != nil {
		return false, err
	}
	return found, nil
}

// Download fetches obj into dest, retrying transient failures with
// exponential backoff and jitter.
func (s *FastStore) Download(ctx context.Context, obj Object, dest string, onProgress ProgressFunc) (string, error) {
	objURL := s.ObjectURL(obj)
	start := time.Now()

	var size int64
	err := s.withRetry(ctx, "download", objURL, func(attempt int) error {
		resp, err := s.do(ctx, http.MethodGet, objURL)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return &HTTPError{StatusCode: resp.StatusCode, Status: resp.Status, Body: safety.ReadSnippet(resp.Body, 4096)}
		}

		total := resp.ContentLength
		if total < 0 {
			total = 0
		}
		n, err := writeObject(ctx, resp.Body, dest, total, onProgress)
		if err != nil {
			return err
		}
		size = n
		return nil
	})
	if err != nil {
		return "", err
	}

	s.logger.Debug("fast store download complete",
		"object", obj.String(), "path", dest, "bytes", size, "duration", time.Since(start))
	return dest, nil
}

func (s *FastStore) do(ctx context.Context, method, objURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, objURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", s.userAgent)
	for k, v := range s.headers {
		req.Header.Set(k, v)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	return resp, nil
}

// withRetry runs fn until it succeeds, fails terminally, or attempts run out.
// Every returned error is a *Error carrying its kind.
func (s *FastStore) withRetry(ctx context.Context, op, key string, fn func(attempt int) error) error {
	var lastErr error
	for attempt := 1; attempt <= s.attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return newError(s.Name(), op, key, ErrCancelled, err)
		}

		err := fn(attempt)
		if err == nil {
			return nil
		}

		kind := s.classify(ctx, err)
		if kind != ErrTransient {
			return newError(s.Name(), op, key, kind, err)
		}

		lastErr = err
		s.logger.Warn("fast store attempt failed", "op", op, "url", key, "attempt", attempt, "error", err)

		if attempt < s.attempts {
			delay := s.backoffFunc(attempt)
			s.logger.Debug("retrying", "op", op, "url", key, "delay", delay)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return newError(s.Name(), op, key, ErrCancelled, ctx.Err())
			}
		}
	}
	return newError(s.Name(), op, key, ErrTransient,
		fmt.Errorf("failed after %d attempts: %w", s.attempts, lastErr))
}

func (s *FastStore) classify(ctx context.Context, err error) error {
	if kind := contextKind(ctx); kind != nil {
		return kind
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return classifyStatus(httpErr.StatusCode)
	}
	if errors.Is(err, errLocal) {
		return nil
	}
	if k := transferKind(err); k != nil {
		return k
	}
	// Dial, TLS and reset errors from the transport.
	return ErrTransient
}

// calculateBackoffDelay calculates exponential backoff with jitter.
// Base delay is 1s, doubles each attempt, plus random jitter up to half the delay.
func calculateBackoffDelay(attempt int) time.Duration {
	baseDelay := time.Second
	exponentialDelay := time.Duration(math.Pow(2, float64(attempt-1))) * baseDelay
	maxJitter := exponentialDelay / 2
	jitter := time.Duration(rand.Int63n(int64(maxJitter)))
	return exponentialDelay + jitter
}
