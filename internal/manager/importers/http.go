package importers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/code-sleuth/ike-rag/internal/manager/interfaces"
	"github.com/code-sleuth/ike-rag/pkg/util"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	// HTTP client timeout in seconds; stage timeouts usually cut in first.
	defaultHTTPTimeout = 60
	// Default maximum body size in bytes (10MiB).
	defaultMaxBodyBytes = 10 << 20
	// Default requests per second per host.
	defaultRatePerHost = 2.0
	defaultUserAgent   = "ike-rag/1.0"
	maxRedirects       = 10
)

var (
	ErrUnsupportedScheme = errors.New("only http and https URLs are supported")
	ErrMissingHost       = errors.New("URL has no host")
	ErrBodyTooLarge      = errors.New("response body exceeds size limit")
	ErrTooManyRedirects  = errors.New("too many redirects")
)

// StatusError reports a non-2xx response.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status code %d from %s", e.StatusCode, e.URL)
}

// Retryable reports whether a later attempt may succeed. Client errors are
// final except request timeouts and rate limiting.
func (e *StatusError) Retryable() bool {
	if e.StatusCode == http.StatusRequestTimeout || e.StatusCode == http.StatusTooManyRequests {
		return true
	}
	return e.StatusCode < 400 || e.StatusCode >= 500
}

// HTTPFetcher retrieves URLs over HTTP, throttled per host.
type HTTPFetcher struct {
	client       *http.Client
	userAgent    string
	maxBodyBytes int64
	ratePerHost  float64

	mu       sync.Mutex
	limiters map[string]*rate.Limiter

	logger zerolog.Logger
}

var _ interfaces.Fetcher = (*HTTPFetcher)(nil)

// NewHTTPFetcher creates a fetcher with default limits.
func NewHTTPFetcher() *HTTPFetcher {
	f := &HTTPFetcher{
		userAgent:    defaultUserAgent,
		maxBodyBytes: defaultMaxBodyBytes,
		ratePerHost:  defaultRatePerHost,
		limiters:     make(map[string]*rate.Limiter),
		logger:       util.NewLogger(zerolog.ErrorLevel),
	}
	f.client = &http.Client{
		Timeout: defaultHTTPTimeout * time.Second,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return ErrTooManyRedirects
			}
			return f.checkURL(req.URL)
		},
	}
	return f
}

// SetMaxBodyBytes bounds how much of a response body is read.
func (f *HTTPFetcher) SetMaxBodyBytes(n int64) {
	if n > 0 {
		f.maxBodyBytes = n
	}
}

// SetRatePerHost sets the request rate allowed per host; zero disables throttling.
func (f *HTTPFetcher) SetRatePerHost(perSecond float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ratePerHost = perSecond
	f.limiters = make(map[string]*rate.Limiter)
}

func (f *HTTPFetcher) SetUserAgent(userAgent string) {
	if userAgent != "" {
		f.userAgent = userAgent
	}
}

// SetLogger replaces the fetcher logger.
func (f *HTTPFetcher) SetLogger(logger zerolog.Logger) {
	f.logger = logger
}

// ValidateSource accepts absolute http and https URLs with a host.
func (f *HTTPFetcher) ValidateSource(sourceURL string) error {
	u, err := url.Parse(strings.TrimSpace(sourceURL))
	if err != nil {
		return fmt.Errorf("%w: %w", interfaces.ErrInvalidURL, err)
	}
	if err := f.checkURL(u); err != nil {
		return fmt.Errorf("%w: %w", interfaces.ErrInvalidURL, err)
	}
	return nil
}

// Fetch issues a GET for sourceURL. Failures wrap interfaces.ErrFetch; those
// that cannot succeed on retry are additionally marked permanent.
func (f *HTTPFetcher) Fetch(ctx context.Context, sourceURL string) (*interfaces.FetchResult, error) {
	if err := f.ValidateSource(sourceURL); err != nil {
		return nil, interfaces.Permanent(fmt.Errorf("%w: %w", interfaces.ErrFetch, err))
	}
	return f.get(ctx, sourceURL, nil)
}

// get performs a throttled GET with optional extra headers.
func (f *HTTPFetcher) get(
	ctx context.Context,
	rawURL string,
	headers map[string]string,
) (*interfaces.FetchResult, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, interfaces.Permanent(fmt.Errorf("%w: %w", interfaces.ErrFetch, err))
	}

	if err := f.wait(ctx, u.Hostname()); err != nil {
		return nil, fmt.Errorf("%w: %w", interfaces.ErrFetch, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		f.logger.Error().Err(err).Str("url", rawURL).Msg("Failed to create request")
		return nil, interfaces.Permanent(fmt.Errorf("%w: %w", interfaces.ErrFetch, err))
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/json,text/plain;q=0.9,*/*;q=0.8")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		f.logger.Error().Err(err).Str("url", rawURL).Msg("Request failed")
		if errors.Is(err, ErrTooManyRedirects) || errors.Is(err, ErrUnsupportedScheme) {
			return nil, interfaces.Permanent(fmt.Errorf("%w: %w", interfaces.ErrFetch, err))
		}
		return nil, fmt.Errorf("%w: %w", interfaces.ErrFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		statusErr := &StatusError{URL: rawURL, StatusCode: resp.StatusCode}
		f.logger.Error().Int("status_code", resp.StatusCode).Str("url", rawURL).Msg("Unexpected status code")
		wrapped := fmt.Errorf("%w: %w", interfaces.ErrFetch, statusErr)
		if !statusErr.Retryable() {
			return nil, interfaces.Permanent(wrapped)
		}
		return nil, wrapped
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBodyBytes+1))
	if err != nil {
		f.logger.Error().Err(err).Str("url", rawURL).Msg("Failed to read response body")
		return nil, fmt.Errorf("%w: %w", interfaces.ErrFetch, err)
	}
	if int64(len(body)) > f.maxBodyBytes {
		return nil, interfaces.Permanent(fmt.Errorf("%w: %w", interfaces.ErrFetch, ErrBodyTooLarge))
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(body)
	}

	return &interfaces.FetchResult{
		URL:         rawURL,
		FinalURL:    resp.Request.URL.String(),
		StatusCode:  resp.StatusCode,
		ContentType: contentType,
		Body:        body,
	}, nil
}

func (f *HTTPFetcher) checkURL(u *url.URL) error {
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return ErrUnsupportedScheme
	}
	if u.Hostname() == "" {
		return ErrMissingHost
	}
	return nil
}

func (f *HTTPFetcher) wait(ctx context.Context, host string) error {
	f.mu.Lock()
	if f.ratePerHost <= 0 {
		f.mu.Unlock()
		return nil
	}
	limiter, ok := f.limiters[host]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(f.ratePerHost), 1)
		f.limiters[host] = limiter
	}
	f.mu.Unlock()
	return limiter.Wait(ctx)
}
