package logs

import (
	"regexp"
	"strings"

	"go.uber.org/zap/zapcore"
)

// SecretSanitizer wraps a zapcore.Core and masks OAuth callback parameters and
// tokens in messages and string fields before they are written.
type SecretSanitizer struct {
	zapcore.Core
	patterns []*secretPattern
}

type secretPattern struct {
	name     string
	regex    *regexp.Regexp
	maskFunc func(string) string
}

var defaultPatterns = []*secretPattern{
	{
		// code=..., state=..., access_token=... inside deep links and callback URLs
		name:  "oauth_query_param",
		regex: regexp.MustCompile(`\b(code|state|access_token|refresh_token|id_token)=([^&\s"']+)`),
		maskFunc: func(match string) string {
			key, value, _ := strings.Cut(match, "=")
			return key + "=" + maskValue(value)
		},
	},
	{
		name:  "github_token",
		regex: regexp.MustCompile(`\b(gh[poushr]_[A-Za-z0-9]{36,255})\b`),
		maskFunc: func(token string) string {
			return token[:7] + "***" + token[len(token)-2:]
		},
	},
	{
		name:  "bearer_token",
		regex: regexp.MustCompile(`\bBearer\s+[A-Za-z0-9\-\._~\+\/]+=*`),
		maskFunc: func(token string) string {
			_, value, _ := strings.Cut(token, " ")
			return "Bearer " + maskValue(strings.TrimSpace(value))
		},
	},
}

// NewSecretSanitizer creates a new sanitizing core that wraps the provided core
func NewSecretSanitizer(core zapcore.Core) *SecretSanitizer {
	return &SecretSanitizer{
		Core:     core,
		patterns: defaultPatterns,
	}
}

// Sanitize applies all registered patterns to str.
func (s *SecretSanitizer) Sanitize(str string) string {
	result := str
	for _, pattern := range s.patterns {
		result = pattern.regex.ReplaceAllStringFunc(result, pattern.maskFunc)
	}
	return result
}

// Write sanitizes the entry before writing
func (s *SecretSanitizer) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	entry.Message = s.Sanitize(entry.Message)
	return s.Core.Write(entry, s.sanitizeFields(fields))
}

func (s *SecretSanitizer) sanitizeFields(fields []zapcore.Field) []zapcore.Field {
	sanitized := make([]zapcore.Field, len(fields))
	for i, field := range fields {
		if field.Type == zapcore.StringType {
			field.String = s.Sanitize(field.String)
		}
		sanitized[i] = field
	}
	return sanitized
}

// With creates a sanitizing child core
func (s *SecretSanitizer) With(fields []zapcore.Field) zapcore.Core {
	return &SecretSanitizer{
		Core:     s.Core.With(s.sanitizeFields(fields)),
		patterns: s.patterns,
	}
}

// Check delegates to the wrapped core
func (s *SecretSanitizer) Check(entry zapcore.Entry, checkedEntry *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if s.Enabled(entry.Level) {
		return checkedEntry.AddCore(entry, s)
	}
	return checkedEntry
}

// maskValue masks a secret value showing at most the first 3 and last 2 characters
func maskValue(value string) string {
	if len(value) <= 5 {
		return "****"
	}
	if len(value) <= 8 {
		return value[:2] + "****"
	}
	return value[:3] + "***" + value[len(value)-2:]
}
