package logging

import "regexp"

// secretPatterns catches the shapes of value most likely to leak through
// shell output or chat text that ends up in a log line: bearer tokens,
// common API-key prefixes, and inline key=value credential pairs.
var secretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)bearer\s+[a-z0-9._-]+`),
	regexp.MustCompile(`sk-[a-zA-Z0-9]{10,}`),
	regexp.MustCompile(`(?i)(api[_-]?key|token|secret|password)\s*[:=]\s*\S+`),
}

const redacted = "[REDACTED]"

// mask replaces any secret-shaped substring of s with a redaction marker.
// Grounded on modules/logmasker/module.go's Logger-decorator approach,
// simplified from its configurable field-rule engine to a fixed pattern
// set since this being has no operator-configurable masking rules.
func mask(s string) string {
	for _, p := range secretPatterns {
		s = p.ReplaceAllString(s, redacted)
	}
	return s
}

func maskArgs(args []any) []any {
	out := make([]any, len(args))
	for i, a := range args {
		if s, ok := a.(string); ok {
			out[i] = mask(s)
			continue
		}
		if err, ok := a.(error); ok {
			out[i] = mask(err.Error())
			continue
		}
		out[i] = a
	}
	return out
}

// MaskingLogger wraps another Logger and redacts secret-shaped text from
// both the message and any string/error-valued arguments before
// delegating, so a shell command's output or a chat payload never lands
// an API key or bearer token in the process log.
type MaskingLogger struct {
	next Logger
}

// NewMasking wraps next in a MaskingLogger.
func NewMasking(next Logger) *MaskingLogger {
	return &MaskingLogger{next: next}
}

func (m *MaskingLogger) Info(msg string, args ...any) {
	m.next.Info(mask(msg), maskArgs(args)...)
}

func (m *MaskingLogger) Warn(msg string, args ...any) {
	m.next.Warn(mask(msg), maskArgs(args)...)
}

func (m *MaskingLogger) Error(msg string, args ...any) {
	m.next.Error(mask(msg), maskArgs(args)...)
}

func (m *MaskingLogger) Debug(msg string, args ...any) {
	m.next.Debug(mask(msg), maskArgs(args)...)
}
