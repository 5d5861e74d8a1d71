// Package security masks credentials before they reach logs or the terminal.
package security

import (
	"net/url"
	"regexp"
	"strings"
)

// secretPatterns match key/value pairs whose value is a secret.
var secretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(api[_-]?key|api[_-]?secret|access[_-]?token|auth[_-]?token|password|passwd)(\s*[=:]\s*)("[^"]*"|'[^']*'|[^\s"']+)`),
}

// MaskCredential keeps the first and last four characters of long values
// and stars out the rest.
func MaskCredential(value string) string {
	if len(value) == 0 {
		return ""
	}
	if len(value) <= 4 {
		return strings.Repeat("*", len(value))
	}
	if len(value) <= 8 {
		return value[:2] + strings.Repeat("*", len(value)-2)
	}
	return value[:4] + strings.Repeat("*", len(value)-8) + value[len(value)-4:]
}

// MaskSecrets masks the values of secret key/value pairs in free text,
// such as keyword/value connection strings or error messages.
func MaskSecrets(input string) string {
	result := input
	for _, pattern := range secretPatterns {
		result = pattern.ReplaceAllStringFunc(result, func(match string) string {
			parts := pattern.FindStringSubmatch(match)
			value := strings.Trim(parts[3], `"'`)
			return parts[1] + parts[2] + MaskCredential(value)
		})
	}
	return result
}

// RedactDSN hides the password in a database or cache connection string.
// URL forms lose the password entirely; keyword/value forms are masked.
func RedactDSN(dsn string) string {
	if dsn == "" {
		return ""
	}
	if strings.Contains(dsn, "://") {
		if u, err := url.Parse(dsn); err == nil {
			q := u.Query()
			if q.Has("password") {
				q.Set("password", "xxxxx")
				u.RawQuery = q.Encode()
			}
			return u.Redacted()
		}
	}
	return MaskSecrets(dsn)
}
