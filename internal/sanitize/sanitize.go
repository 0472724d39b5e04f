package sanitize

import (
	"regexp"
	"strings"
	"unicode"
)

const DefaultMaxBytes = 64 * 1024

// Patterns ordered so broad matchers (token) run after specific ones have
// already replaced their text.
var piiPatterns = []struct {
	label   string
	pattern *regexp.Regexp
}{
	{"EMAIL", regexp.MustCompile(`(?i)\b[A-Z0-9._%+-]+@[A-Z0-9.-]+\.[A-Z]{2,}\b`)},
	{"SSN", regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)},
	{"CARD", regexp.MustCompile(`\b(?:\d[ -]?){13,19}\b`)},
	{"IBAN", regexp.MustCompile(`\b[A-Z]{2}\d{2}[A-Z0-9]{11,30}\b`)},
	{"PHONE", regexp.MustCompile(`\b\+?\d{1,3}[-. ]\(?\d{2,4}\)?[-. ]\d{3}[-. ]?\d{4}\b`)},
	{"TOKEN", regexp.MustCompile(`\b[A-Za-z0-9_\-]{32,}\b`)},
}

// Sanitizer redacts PII from tool output before it is recorded in step
// results or the trace store.
type Sanitizer struct {
	MaxBytes int
}

func New() *Sanitizer {
	return &Sanitizer{MaxBytes: DefaultMaxBytes}
}

// Sanitize truncates oversized text, redacts PII matches as
// [REDACTED:TYPE], and strips non-printable characters.
func (s *Sanitizer) Sanitize(text string) string {
	if text == "" {
		return text
	}
	if s.MaxBytes > 0 && len(text) > s.MaxBytes {
		text = text[:s.MaxBytes] + "\n[truncated: output exceeded size limit]"
	}
	for _, p := range piiPatterns {
		text = p.pattern.ReplaceAllString(text, "[REDACTED:"+p.label+"]")
	}
	return strings.Map(func(r rune) rune {
		if unicode.IsPrint(r) || r == '\n' || r == '\r' || r == '\t' {
			return r
		}
		return -1
	}, text)
}

// Detect returns the PII categories present in text, for observability.
func (s *Sanitizer) Detect(text string) []string {
	var found []string
	for _, p := range piiPatterns {
		if p.pattern.MatchString(text) {
			found = append(found, p.label)
		}
	}
	return found
}
