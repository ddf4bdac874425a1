package audit

import (
	"regexp"
	"strings"
)

// secretPatterns matches well-known secret shapes embedded in free text
// (snapshot strings, log messages). Each is replaced with
// "[REDACTED-<kind>]" before persistence.
var secretPatterns = []struct {
	kind string
	re   *regexp.Regexp
}{
	// Common API key prefixes: OpenAI/Anthropic-style, GitHub tokens, AWS
	// access keys, Slack tokens.
	{"api-key", regexp.MustCompile(`\b(sk-[A-Za-z0-9]{16,}|sk-ant-[A-Za-z0-9_-]{16,}|ghp_[A-Za-z0-9]{20,}|gho_[A-Za-z0-9]{20,}|github_pat_[A-Za-z0-9_]{20,}|AKIA[0-9A-Z]{16}|xox[baprs]-[A-Za-z0-9-]{10,})\b`)},
	// Bearer / Basic auth header values.
	{"bearer-token", regexp.MustCompile(`(?i)\b(Bearer|Basic)\s+[A-Za-z0-9\-_.=]{8,}`)},
	// JWT-shaped triplets: header.payload.signature, each base64url.
	{"jwt", regexp.MustCompile(`\b[A-Za-z0-9_-]{8,}\.[A-Za-z0-9_-]{8,}\.[A-Za-z0-9_-]{8,}\b`)},
}

// sensitiveKeyFragments are substrings (case-insensitive) that, when
// found in a metadata key, cause that key's entire value to be
// redacted regardless of its shape.
var sensitiveKeyFragments = []string{"secret", "token", "password", "api_key", "apikey"}

// RedactString replaces every recognized secret pattern in s with a
// "[REDACTED-<kind>]" placeholder.
func RedactString(s string) string {
	for _, p := range secretPatterns {
		s = p.re.ReplaceAllString(s, "[REDACTED-"+p.kind+"]")
	}
	return s
}

// isSensitiveKey reports whether key names a field that should have its
// value fully redacted, independent of the value's shape.
func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, frag := range sensitiveKeyFragments {
		if strings.Contains(lower, frag) {
			return true
		}
	}
	return false
}

// RedactMetadata returns a copy of meta with sensitive-keyed values
// fully redacted and every remaining string value scanned for secret
// patterns. Nested maps are walked recursively; other value kinds pass
// through unchanged.
func RedactMetadata(meta map[string]any) map[string]any {
	if meta == nil {
		return nil
	}
	out := make(map[string]any, len(meta))
	for k, v := range meta {
		if isSensitiveKey(k) {
			out[k] = "[REDACTED]"
			continue
		}
		switch val := v.(type) {
		case string:
			out[k] = RedactString(val)
		case map[string]any:
			out[k] = RedactMetadata(val)
		default:
			out[k] = v
		}
	}
	return out
}
