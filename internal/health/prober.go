// Package health probes the supervised web server over HTTP.
package health

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Status is the outcome of a single probe.
type Status string

const (
	StatusHealthy     Status = "healthy"
	StatusUnhealthy   Status = "unhealthy"
	StatusUnavailable Status = "unavailable"
)

// Check is a detailed probe result, used for logging.
type Check struct {
	URL        string
	Status     Status
	StatusCode int
	Latency    time.Duration
	Error      error
	Timestamp  time.Time
}

// Healthy reports whether the check counts as a live server.
func (c Check) Healthy() bool {
	return c.Status == StatusHealthy
}

// Prober issues HEAD requests against the server root.
type Prober struct {
	baseURL    string
	logger     *zap.SugaredLogger
	httpClient *http.Client
}

// NewProber creates a prober for baseURL, e.g. http://localhost:21000.
func NewProber(baseURL string, logger *zap.SugaredLogger) *Prober {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Prober{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		logger:  logger,
		httpClient: &http.Client{
			// A redirect is not a healthy answer; surface the 3xx as-is.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// BaseURL returns the probed address.
func (p *Prober) BaseURL() string {
	return p.baseURL
}

// Probe returns true for a 2xx or 304 answer within timeout. Timeouts, connection
// errors and every other status are unhealthy.
func (p *Prober) Probe(ctx context.Context, timeout time.Duration) bool {
	return p.Check(ctx, timeout).Healthy()
}

// Check performs one HEAD request and classifies the result.
func (p *Prober) Check(ctx context.Context, timeout time.Duration) Check {
	startTime := time.Now()
	url := p.baseURL + "/"

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, http.NoBody)
	if err != nil {
		return Check{
			URL:       url,
			Status:    StatusUnavailable,
			Latency:   time.Since(startTime),
			Error:     fmt.Errorf("failed to create request: %w", err),
			Timestamp: time.Now(),
		}
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		p.logger.Debugw("Health probe failed", "url", url, "error", err)
		return Check{
			URL:       url,
			Status:    StatusUnavailable,
			Latency:   time.Since(startTime),
			Error:     err,
			Timestamp: time.Now(),
		}
	}
	defer resp.Body.Close()

	status := StatusUnhealthy
	if IsHealthyCode(resp.StatusCode) {
		status = StatusHealthy
	}

	check := Check{
		URL:        url,
		Status:     status,
		StatusCode: resp.StatusCode,
		Latency:    time.Since(startTime),
		Timestamp:  time.Now(),
	}
	if status != StatusHealthy {
		check.Error = fmt.Errorf("unexpected status %d", resp.StatusCode)
		p.logger.Debugw("Health probe unhealthy", "url", url, "status_code", resp.StatusCode)
	}
	return check
}

// IsHealthyCode reports whether an HTTP status means the server is serving.
func IsHealthyCode(code int) bool {
	return (code >= 200 && code < 300) || code == http.StatusNotModified
}
