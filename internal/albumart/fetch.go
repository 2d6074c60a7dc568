package albumart

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/danmuck/bragi/internal/backoff"
	"github.com/danmuck/bragi/internal/config"
	"github.com/rs/zerolog/log"
)

var (
	ErrURLRequired    = errors.New("albumart: image url required")
	ErrUnsupportedURL = errors.New("albumart: unsupported image url")
)

// maxImageBytes caps a single download.
const maxImageBytes = 32 << 20

// HTTPError captures a non-2xx image response.
type HTTPError struct {
	StatusCode int
	Body       []byte
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("albumart: unexpected status code %d for image download", e.StatusCode)
}

// Retryable reports whether the status is a transient server error.
func (e *HTTPError) Retryable() bool {
	switch e.StatusCode {
	case http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

type userAgentRoundTripper struct {
	wrapped   http.RoundTripper
	userAgent string
}

func (rt *userAgentRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	clone.Header.Set("User-Agent", rt.userAgent)
	return rt.wrapped.RoundTrip(clone)
}

// Fetcher downloads images, retrying server and network failures with
// exponential backoff.
type Fetcher struct {
	client   *http.Client
	attempts int
	backoff  backoff.Config
	sleep    func(ctx context.Context, d time.Duration) error
}

// NewFetcher builds a fetcher from config. A nil base gets a fresh client.
func NewFetcher(cfg config.AlbumArtConfig, base *http.Client) *Fetcher {
	if base == nil {
		base = &http.Client{}
	}
	client := *base
	transport := client.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	if cfg.UserAgent != "" {
		transport = &userAgentRoundTripper{wrapped: transport, userAgent: cfg.UserAgent}
	}
	client.Transport = transport
	client.Timeout = cfg.RequestTimeout

	attempts := cfg.Attempts
	if attempts < 1 || attempts > config.MaxDownloadAttempts {
		attempts = config.MaxDownloadAttempts
	}
	return &Fetcher{
		client:   &client,
		attempts: attempts,
		backoff:  backoff.Exponential(cfg.InitialDelay, cfg.MaxDelay),
		sleep:    backoff.Sleep,
	}
}

// Fetch returns the body of rawURL.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return nil, ErrURLRequired
	}
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedURL, rawURL)
	}

	var lastErr error
	for attempt := 1; attempt <= f.attempts; attempt++ {
		log.Debug().Int("attempt", attempt).Int("of", f.attempts).Str("url", rawURL).Msg("download attempt")
		data, err := f.get(ctx, rawURL)
		if err == nil {
			log.Debug().Int("bytes", len(data)).Msg("downloaded")
			return data, nil
		}
		lastErr = err
		if ctx.Err() != nil || !retryable(err) {
			return nil, err
		}
		if attempt == f.attempts {
			break
		}
		delay := backoff.NextDelay(f.backoff, attempt)
		log.Warn().Err(err).Dur("retry_in", delay).Msg("download failed, retrying")
		if err := f.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("albumart: failed after %d attempts: %w", f.attempts, lastErr)
}

func (f *Fetcher) get(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<10))
		return nil, &HTTPError{StatusCode: resp.StatusCode, Body: body}
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxImageBytes {
		return nil, fmt.Errorf("albumart: image exceeds %d bytes", maxImageBytes)
	}
	return data, nil
}

// retryable is true for 500/502/503/504 and for timeouts, refused or reset
// connections and truncated bodies.
func retryable(err error) bool {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Retryable()
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		if urlErr.Timeout() {
			return true
		}
		err = urlErr.Err
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
