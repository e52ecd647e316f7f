// Package redact scrubs sensitive material from strings before they reach
// logs or error responses: site session cookies, vendor API keys, database
// connection strings, bearer tokens, and local audio file paths.
package redact

import "regexp"

// Redaction placeholders.
const (
	PathPlaceholder       = "[REDACTED_PATH]"
	CredentialPlaceholder = "[REDACTED_CREDENTIAL]"
	KeyPlaceholder        = "[REDACTED_KEY]"
	TokenPlaceholder      = "[REDACTED_TOKEN]"
	HostPlaceholder       = "[REDACTED_HOST]"
)

var redactions = []struct {
	pattern     *regexp.Regexp
	placeholder string
}{
	// Connection strings with inline credentials.
	{regexp.MustCompile(`(?i)(postgres|postgresql|mysql|redis)://[^@\s]+@`), CredentialPlaceholder},

	// Video-site session cookies. An expired SESSDATA is the usual cause of
	// credential-invalid failures and tends to end up inside error text.
	{regexp.MustCompile(`(?i)(SESSDATA|bili_jct|DedeUserID(__ckMd5)?)=[^;\s'"]+`), CredentialPlaceholder},

	// Generic key/secret assignments.
	{regexp.MustCompile(`(?i)(api[_-]?key|secret|token|access[_-]?key)(['"\s:=]+)[A-Za-z0-9_\-.~+/]{8,}`), KeyPlaceholder},

	// JWT bearer tokens.
	{regexp.MustCompile(`eyJ[a-zA-Z0-9_-]+\.eyJ[a-zA-Z0-9_-]+\.[a-zA-Z0-9_-]+`), TokenPlaceholder},

	// Signed/presigned URLs from file hosts and recognition result stores.
	{regexp.MustCompile(`(?i)([?&](X-Amz-Signature|Signature|sig|se|sv)=)[^&\s'"]+`), "${1}" + KeyPlaceholder},

	// Local filesystem paths, e.g. the temp audio file.
	{regexp.MustCompile(`(/[\w.-]+){2,}`), PathPlaceholder},

	// Host:port pairs from upload targets and callbacks.
	{regexp.MustCompile(`\b(?:[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?\.)+[a-zA-Z]{2,}(?::\d{1,5})?\b`), HostPlaceholder},
}

// String redacts sensitive information from the input string.
func String(input string) string {
	if input == "" {
		return input
	}
	result := input
	for _, r := range redactions {
		result = r.pattern.ReplaceAllString(result, r.placeholder)
	}
	return result
}

// Error redacts an error's message. Returns "" for a nil error.
func Error(err error) string {
	if err == nil {
		return ""
	}
	return String(err.Error())
}
