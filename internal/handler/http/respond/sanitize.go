package respond

import (
	"regexp"
)

var (
	// DSN / Redis URL 内のパスワード
	dsnPasswordPattern = regexp.MustCompile(`://([^:/@]*):([^@]+)@`)

	// key=value 形式の DSN パスワード (pgx keyword/value form)
	kvPasswordPattern = regexp.MustCompile(`(?i)(password=)(\S+)`)
)

// SanitizeError returns err's message with connection-string passwords masked.
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}

	msg := err.Error()
	msg = dsnPasswordPattern.ReplaceAllString(msg, "://$1:****@")
	msg = kvPasswordPattern.ReplaceAllString(msg, "${1}****")
	return msg
}
