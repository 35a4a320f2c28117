package health

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func statusServer(t *testing.T, code int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodHead, r.Method)
		assert.Equal(t, "/", r.URL.Path)
		w.WriteHeader(code)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestProbeStatusCodes(t *testing.T) {
	tests := []struct {
		code    int
		healthy bool
	}{
		{http.StatusOK, true},
		{http.StatusNoContent, true},
		{http.StatusNotModified, true},
		{http.StatusFound, false},
		{http.StatusNotFound, false},
		{http.StatusInternalServerError, false},
		{http.StatusServiceUnavailable, false},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.code), func(t *testing.T) {
			srv := statusServer(t, tt.code)
			prober := NewProber(srv.URL, zaptest.NewLogger(t).Sugar())

			check := prober.Check(context.Background(), 3*time.Second)
			assert.Equal(t, tt.healthy, check.Healthy())
			assert.Equal(t, tt.code, check.StatusCode)
			assert.Equal(t, tt.healthy, prober.Probe(context.Background(), 3*time.Second))
		})
	}
}

func TestProbeRedirectNotFollowed(t *testing.T) {
	target := statusServer(t, http.StatusOK)
	srv := httptest.NewServer(http.RedirectHandler(target.URL, http.StatusMovedPermanently))
	t.Cleanup(srv.Close)

	prober := NewProber(srv.URL, nil)
	check := prober.Check(context.Background(), 3*time.Second)
	assert.False(t, check.Healthy())
	assert.Equal(t, http.StatusMovedPermanently, check.StatusCode)
}

func TestProbeConnectionRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	prober := NewProber("http://"+addr, zaptest.NewLogger(t).Sugar())
	check := prober.Check(context.Background(), 3*time.Second)

	assert.False(t, check.Healthy())
	assert.Equal(t, StatusUnavailable, check.Status)
	assert.Error(t, check.Error)
}

func TestProbeHangExceedsTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(5 * time.Second):
		case <-release:
		case <-r.Context().Done():
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})

	prober := NewProber(srv.URL, nil)
	start := time.Now()
	healthy := prober.Probe(context.Background(), 3*time.Second)
	elapsed := time.Since(start)

	assert.False(t, healthy)
	assert.GreaterOrEqual(t, elapsed, 3*time.Second)
	assert.Less(t, elapsed, 5*time.Second)
}

func TestProbeTrailingSlashBaseURL(t *testing.T) {
	srv := statusServer(t, http.StatusOK)
	prober := NewProber(srv.URL+"/", nil)
	assert.Equal(t, srv.URL, prober.BaseURL())
	assert.True(t, prober.Probe(context.Background(), time.Second))
}

func TestIsHealthyCode(t *testing.T) {
	assert.True(t, IsHealthyCode(200))
	assert.True(t, IsHealthyCode(299))
	assert.True(t, IsHealthyCode(304))
	assert.False(t, IsHealthyCode(199))
	assert.False(t, IsHealthyCode(301))
	assert.False(t, IsHealthyCode(500))
}
