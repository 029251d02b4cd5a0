// Package redact strips credentials and personal data from text before it is
// persisted as error detail, logged, or returned to API callers. Pipeline and
// storage errors routinely echo connection strings and signed artifact URLs.
package redact

import (
	"encoding/json"
	"regexp"
)

// Placeholders substituted for redacted fragments.
const (
	RedactionPlaceholder          = "[REDACTED]"
	RedactedCredentialPlaceholder = "[REDACTED_CREDENTIAL]"
	RedactedKeyPlaceholder        = "[REDACTED_KEY]"
	RedactedSignaturePlaceholder  = "[REDACTED_SIGNATURE]"
	RedactedEmailPlaceholder      = "[REDACTED_EMAIL]"
	RedactedStackPlaceholder      = "[STACK_TRACE_REDACTED]"
)

type rule struct {
	pattern     *regexp.Regexp
	replacement string
}

// Rules run in order; connection strings go first so their passwords are not
// half-consumed by the generic password rule.
var rules = []rule{
	{
		regexp.MustCompile(`(?i)\b(postgres(?:ql)?|redis|rediss|amqp|amqps|mongodb)://[^@\s/]+@`),
		"${1}://" + RedactedCredentialPlaceholder + "@",
	},
	{
		regexp.MustCompile(`(?i)\b(password|passwd|pwd)([=:]\s*['"]?)[^'"&\s]{3,}`),
		RedactedCredentialPlaceholder,
	},
	{
		regexp.MustCompile(`(?i)\bbearer\s+[A-Za-z0-9_\-.~+/]+=*`),
		"Bearer " + RedactionPlaceholder,
	},
	{
		regexp.MustCompile(`(?i)([?&](?:x-goog-signature|x-amz-signature|x-goog-credential|x-amz-credential|signature|sig|token)=)[^&\s"]+`),
		"${1}" + RedactedSignaturePlaceholder,
	},
	{
		regexp.MustCompile(`(?i)\b(api[_-]?key|secret|access[_-]?token)(['"\s:=]+)[A-Za-z0-9_\-.~+/]{8,}`),
		RedactedKeyPlaceholder,
	},
	{
		regexp.MustCompile(`\bAKIA[A-Z0-9]{12,}`),
		RedactedKeyPlaceholder,
	},
	{
		regexp.MustCompile(`(?:goroutine \d+|panic:)[\s\S]*?(\n\t.*)+`),
		RedactedStackPlaceholder,
	},
	{
		regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`),
		RedactedEmailPlaceholder,
	},
}

// String redacts sensitive information from the input string.
func String(input string) string {
	if input == "" {
		return input
	}
	result := input
	for _, r := range rules {
		result = r.pattern.ReplaceAllString(result, r.replacement)
	}
	return result
}

// Error redacts sensitive information from an error's Error() output.
func Error(err error) string {
	if err == nil {
		return ""
	}
	return String(err.Error())
}

// JSON redacts every string value inside a JSON document, leaving keys and
// structure untouched. Input that is not valid JSON is returned as a JSON
// string of its redacted text.
func JSON(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return raw
	}

	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		out, _ := json.Marshal(String(string(raw)))
		return out
	}

	out, err := json.Marshal(walk(v))
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return out
}

func walk(v any) any {
	switch t := v.(type) {
	case string:
		return String(t)
	case map[string]any:
		for k, inner := range t {
			t[k] = walk(inner)
		}
		return t
	case []any:
		for i, inner := range t {
			t[i] = walk(inner)
		}
		return t
	default:
		return v
	}
}
