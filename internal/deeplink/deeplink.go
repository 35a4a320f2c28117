// Package deeplink parses OAuth callback URLs delivered through the sigmaauth:// and
// tokenpass:// schemes.
package deeplink

import (
	"context"
	"net/url"
	"strings"

	"go.uber.org/zap"
)

// Schemes are the equivalent custom URL schemes registered with the OS.
var Schemes = []string{"sigmaauth", "tokenpass"}

const callbackRoute = "/callback"

// Callback holds the parameters of an OAuth redirect.
type Callback struct {
	Scheme string
	Code   string
	State  string
}

// Parse extracts code and state from a callback URL. It reports false for malformed
// input, unknown schemes and other routes; it never returns an error.
func Parse(raw string) (Callback, bool) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || !IsRecognized(u.Scheme) {
		return Callback{}, false
	}
	if routeOf(u) != callbackRoute {
		return Callback{}, false
	}

	q := u.Query()
	return Callback{
		Scheme: strings.ToLower(u.Scheme),
		Code:   q.Get("code"),
		State:  q.Get("state"),
	}, true
}

// routeOf returns the callback path, accepting a doubled leading slash.
// sigmaauth://app/callback parses with Host "app" and Path "/callback";
// sigmaauth://app//callback yields Path "//callback".
func routeOf(u *url.URL) string {
	path := u.Path
	if path == "" && u.Opaque != "" {
		// sigmaauth:callback
		path = "/" + u.Opaque
	}
	if strings.HasPrefix(path, "//") {
		path = path[1:]
	}
	if path == "" && strings.EqualFold(u.Host, "callback") {
		// sigmaauth://callback?code=...
		path = callbackRoute
	}
	return strings.TrimSuffix(path, "/")
}

// IsRecognized reports whether scheme is one of Schemes.
func IsRecognized(scheme string) bool {
	for _, s := range Schemes {
		if strings.EqualFold(scheme, s) {
			return true
		}
	}
	return false
}

// FindInArgs returns the first argument that uses a recognized scheme.
func FindInArgs(args []string) (string, bool) {
	for _, arg := range args {
		i := strings.Index(arg, ":")
		if i <= 0 {
			continue
		}
		if IsRecognized(arg[:i]) {
			return arg, true
		}
	}
	return "", false
}

// Forwarder delivers a parsed callback to the running server.
type Forwarder interface {
	Forward(ctx context.Context, cb Callback) error
}

// Handler logs deep links and hands recognized callbacks to an optional Forwarder.
type Handler struct {
	logger    *zap.Logger
	forwarder Forwarder
}

// NewHandler creates a handler. A nil forwarder leaves callbacks logged only.
func NewHandler(logger *zap.Logger, forwarder Forwarder) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{logger: logger.Named("deeplink"), forwarder: forwarder}
}

// Handle processes one URL and reports whether it was a recognized callback.
func (h *Handler) Handle(ctx context.Context, raw string) bool {
	cb, ok := Parse(raw)
	if !ok {
		h.logger.Warn("Ignoring unrecognized deep link", zap.String("url", raw))
		return false
	}

	// The sanitizing core masks code and state values in the file log.
	h.logger.Info("Received OAuth callback",
		zap.String("scheme", cb.Scheme),
		zap.Bool("has_code", cb.Code != ""),
		zap.Bool("has_state", cb.State != ""))

	if h.forwarder == nil {
		h.logger.Info("Callback forwarding not implemented, callback dropped")
		return true
	}
	if err := h.forwarder.Forward(ctx, cb); err != nil {
		h.logger.Warn("Failed to forward callback", zap.Error(err))
	}
	return true
}

// HandleArgs handles the first deep link in args, if any.
func (h *Handler) HandleArgs(ctx context.Context, args []string) bool {
	raw, ok := FindInArgs(args)
	if !ok {
		return false
	}
	return h.Handle(ctx, raw)
}
