// Package fhirclient reads patient context from a FHIR R4 REST server.
package fhirclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"

	"github.com/ehr/medcalc/internal/platform/metrics"
)

var ErrNotFound = errors.New("fhir resource not found")

// StatusError is a non-2xx response.
type StatusError struct {
	Status int
	Path   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fhir %s: unexpected status %d", e.Path, e.Status)
}

// Config tunes a Client.
type Config struct {
	BaseURL            string
	RetryMax           int
	Timeout            time.Duration
	RateLimitRPS       float64
	RateLimitBurst     int
	BreakerMaxFailures uint32
	BreakerCooldown    time.Duration
	Logger             zerolog.Logger
	Metrics            *metrics.Collector
}

// Client is shared by every form; its breaker and limiter protect the FHIR
// server across patients.
type Client struct {
	base    *url.URL
	http    *retryablehttp.Client
	breaker *gobreaker.CircuitBreaker[[]byte]
	limiter *rate.Limiter
	logger  zerolog.Logger
}

func New(cfg Config) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid FHIR base url %q", cfg.BaseURL)
	}
	if cfg.RateLimitRPS <= 0 {
		cfg.RateLimitRPS = 20
	}
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = int(cfg.RateLimitRPS) * 2
	}
	if cfg.BreakerMaxFailures == 0 {
		cfg.BreakerMaxFailures = 5
	}
	if cfg.BreakerCooldown <= 0 {
		cfg.BreakerCooldown = 30 * time.Second
	}

	retryClient := retryablehttp.NewClient()
	retryClient.Logger = leveledLogger{cfg.Logger}
	retryClient.RetryMax = cfg.RetryMax
	retryClient.RetryWaitMin = 100 * time.Millisecond
	retryClient.RetryWaitMax = time.Second
	if cfg.Timeout > 0 {
		retryClient.HTTPClient.Timeout = cfg.Timeout
	}

	collector := cfg.Metrics
	breaker := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:    "fhir",
		Timeout: cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerMaxFailures
		},
		IsSuccessful: func(err error) bool { return !tripsBreaker(err) },
		OnStateChange: func(name string, from, to gobreaker.State) {
			cfg.Logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
			collector.SetBreakerState(name, int(to))
		},
	})

	return &Client{
		base:    base,
		http:    retryClient,
		breaker: breaker,
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst),
		logger:  cfg.Logger,
	}, nil
}

// tripsBreaker reports whether err counts against the shared breaker. Client
// errors such as a rejected caller token or a missing resource describe one
// request, not the server's health; only 429 among them does.
func tripsBreaker(err error) bool {
	if err == nil || errors.Is(err, ErrNotFound) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) && se.Status >= 400 && se.Status < 500 {
		return se.Status == http.StatusTooManyRequests
	}
	return true
}

// get fetches path relative to the base URL and returns the body.
func (c *Client) get(ctx context.Context, path string, query url.Values, token string) ([]byte, error) {
	ctx, span := otel.Tracer("github.com/ehr/medcalc/fhirclient").Start(ctx, "fhir.get")
	defer span.End()
	span.SetAttributes(attribute.String("fhir.path", path))

	body, err := c.breaker.Execute(func() ([]byte, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit: %w", err)
		}
		return c.do(ctx, path, query, token)
	})
	if err != nil && !errors.Is(err, ErrNotFound) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return body, err
}

func (c *Client) do(ctx context.Context, path string, query url.Values, token string) ([]byte, error) {
	u := *c.base
	u.Path = u.Path + "/" + strings.TrimLeft(path, "/")
	u.RawQuery = query.Encode()

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/fhir+json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fhir %s: %w", path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNotFound
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, &StatusError{Status: resp.StatusCode, Path: path}
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return body, nil
}

// ForPatient returns a clinical-data source bound to one patient. token is
// forwarded as a bearer credential when set.
func (c *Client) ForPatient(patientID, token string) *Source {
	return &Source{client: c, patientID: patientID, token: token}
}

// leveledLogger routes retryablehttp's logging through zerolog.
type leveledLogger struct {
	l zerolog.Logger
}

func (z leveledLogger) Error(msg string, kv ...interface{}) { z.l.Error().Fields(kv).Msg(msg) }
func (z leveledLogger) Info(msg string, kv ...interface{})  { z.l.Debug().Fields(kv).Msg(msg) }
func (z leveledLogger) Debug(msg string, kv ...interface{}) { z.l.Trace().Fields(kv).Msg(msg) }
func (z leveledLogger) Warn(msg string, kv ...interface{})  { z.l.Warn().Fields(kv).Msg(msg) }
