package singleton

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/sigmaauth/sigma-launcher/internal/socket"
)

const (
	activatePath = "/activate"
	statusPath   = "/status"

	maxActivateBody = 64 << 10
)

// ActivateRequest carries the command-line arguments of a second launch.
type ActivateRequest struct {
	Args []string `json:"args"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// ActivationServer accepts activations from later launches over the local endpoint.
type ActivationServer struct {
	endpoint string
	logger   *zap.Logger
	router   chi.Router
	handler  http.Handler

	onActivate func(args []string)
	status     func() any

	listener net.Listener
	httpSrv  *http.Server
}

// NewActivationServer builds the router. onActivate runs on the request goroutine;
// callers that own state should hand the arguments to their own loop.
func NewActivationServer(endpoint string, onActivate func(args []string), status func() any, logger *zap.Logger) *ActivationServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &ActivationServer{
		endpoint:   endpoint,
		logger:     logger.Named("activation"),
		onActivate: onActivate,
		status:     status,
	}
	s.setupRoutes()
	return s
}

func (s *ActivationServer) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	r.Post(activatePath, s.handleActivate)
	r.Get(statusPath, s.handleStatus)
	s.router = r
	s.handler = r
}

// Mount adds a read-only route such as /metrics. Call before Start.
func (s *ActivationServer) Mount(pattern string, h http.Handler) {
	s.router.Method(http.MethodGet, pattern, h)
}

// Instrument wraps every request in mw. Call before Start.
func (s *ActivationServer) Instrument(mw func(http.Handler) http.Handler) {
	s.handler = mw(s.handler)
}

// ServeHTTP lets tests drive the router directly.
func (s *ActivationServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Start listens on the endpoint and serves in the background.
func (s *ActivationServer) Start() error {
	ln, err := socket.Listen(s.endpoint, s.logger)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.endpoint, err)
	}
	s.listener = ln
	s.httpSrv = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := s.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Activation server stopped", zap.Error(err))
		}
	}()
	s.logger.Info("Activation server listening", zap.String("endpoint", s.endpoint))
	return nil
}

// Shutdown stops the server and removes the socket file.
func (s *ActivationServer) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

func (s *ActivationServer) handleActivate(w http.ResponseWriter, r *http.Request) {
	var req ActivateRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxActivateBody)).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	s.logger.Info("Activated by another launch", zap.Int("args", len(req.Args)))
	if s.onActivate != nil {
		s.onActivate(req.Args)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *ActivationServer) handleStatus(w http.ResponseWriter, _ *http.Request) {
	if s.status == nil {
		s.writeJSON(w, http.StatusNotFound, errorResponse{Error: "status unavailable"})
		return
	}
	s.writeJSON(w, http.StatusOK, s.status())
}

func (s *ActivationServer) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("Failed to encode JSON response", zap.Error(err))
	}
}

// Client talks to a running instance's activation server.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient builds a client for the endpoint.
func NewClient(endpoint string, timeout time.Duration) (*Client, error) {
	dialer, baseURL, err := socket.CreateDialer(endpoint)
	if err != nil {
		return nil, err
	}
	if dialer == nil {
		return nil, fmt.Errorf("unsupported activation endpoint: %s", endpoint)
	}
	return &Client{
		baseURL: baseURL,
		http: &http.Client{
			Timeout:   timeout,
			Transport: &http.Transport{DialContext: dialer},
		},
	}, nil
}

// Activate forwards args to the running instance.
func (c *Client) Activate(ctx context.Context, args []string) error {
	body, err := json.Marshal(ActivateRequest{Args: args})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+activatePath, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("contact running instance: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return fmt.Errorf("running instance rejected activation: %s", resp.Status)
	}
	return nil
}

// Status decodes the running instance's status into out.
func (c *Client) Status(ctx context.Context, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+statusPath, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("contact running instance: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status request failed: %s", resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
