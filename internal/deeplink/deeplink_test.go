package deeplink

import (
	"context"
	"errors"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
	"pgregory.net/rapid"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name  string
		raw   string
		ok    bool
		code  string
		state string
	}{
		{"code and state", "sigmaauth://app/callback?code=abc&state=xyz", true, "abc", "xyz"},
		{"doubled slash", "tokenpass://app//callback?code=abc", true, "abc", ""},
		{"host as route", "sigmaauth://callback?code=abc", true, "abc", ""},
		{"trailing slash", "tokenpass://app/callback/?state=s1", true, "", "s1"},
		{"scheme case", "SigmaAuth://app/callback?code=abc", true, "abc", ""},
		{"opaque form", "sigmaauth:callback?code=abc", true, "abc", ""},
		{"not a url", "not a url", false, "", ""},
		{"empty", "", false, "", ""},
		{"other scheme", "https://app/callback?code=abc", false, "", ""},
		{"other route", "sigmaauth://app/settings?code=abc", false, "", ""},
		{"bad escape", "sigmaauth://app/callback?code=%zz", true, "", ""},
		{"broken authority", "sigmaauth://[::1/callback?code=abc", false, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cb, ok := Parse(tt.raw)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.code, cb.Code)
			assert.Equal(t, tt.state, cb.State)
		})
	}
}

func TestParseRoundTripProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		scheme := rapid.SampledFrom(Schemes).Draw(t, "scheme")
		slashes := rapid.SampledFrom([]string{"/", "//"}).Draw(t, "slashes")
		code := rapid.StringN(0, 40, -1).Draw(t, "code")
		state := rapid.StringN(0, 40, -1).Draw(t, "state")

		q := url.Values{}
		q.Set("code", code)
		q.Set("state", state)
		raw := scheme + "://app" + slashes + "callback?" + q.Encode()

		cb, ok := Parse(raw)
		if !ok {
			t.Fatalf("not recognized: %q", raw)
		}
		if cb.Code != code || cb.State != state {
			t.Fatalf("got %+v from %q", cb, raw)
		}
	})
}

func TestParseNeverPanics(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		raw := rapid.String().Draw(t, "raw")
		_, _ = Parse(raw)
	})
}

func TestFindInArgs(t *testing.T) {
	raw, ok := FindInArgs([]string{"--hidden", "-psn_0_12345", "tokenpass://app/callback?code=1", "sigmaauth://x"})
	assert.True(t, ok)
	assert.Equal(t, "tokenpass://app/callback?code=1", raw)

	_, ok = FindInArgs([]string{"--flag", "https://example.com", ":colon"})
	assert.False(t, ok)

	_, ok = FindInArgs(nil)
	assert.False(t, ok)
}

type recordingForwarder struct {
	got []Callback
	err error
}

func (r *recordingForwarder) Forward(_ context.Context, cb Callback) error {
	r.got = append(r.got, cb)
	return r.err
}

func TestHandlerWithoutForwarderLogsOnly(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	h := NewHandler(zap.New(core), nil)

	assert.True(t, h.Handle(context.Background(), "sigmaauth://app/callback?code=abc&state=xyz"))
	assert.Equal(t, 1, logs.FilterMessage("Received OAuth callback").Len())
	assert.Equal(t, 1, logs.FilterMessage("Callback forwarding not implemented, callback dropped").Len())

	assert.False(t, h.Handle(context.Background(), "not a url"))
	assert.Equal(t, 1, logs.FilterMessage("Ignoring unrecognized deep link").Len())
}

func TestHandlerForwards(t *testing.T) {
	fwd := &recordingForwarder{err: errors.New("server unreachable")}
	h := NewHandler(zaptest.NewLogger(t), fwd)

	assert.True(t, h.HandleArgs(context.Background(), []string{"launcher", "tokenpass://app//callback?code=abc"}))
	assert.Equal(t, []Callback{{Scheme: "tokenpass", Code: "abc"}}, fwd.got)

	assert.False(t, h.HandleArgs(context.Background(), []string{"launcher"}))
	assert.Len(t, fwd.got, 1)
}
