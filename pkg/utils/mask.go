package utils

import (
	"net/url"
	"regexp"
	"strings"
)

var dsnPasswordRegex = regexp.MustCompile(`(:)([^:@]+)(@)`)

// MaskDSN hides the password of a connection string before it is logged.
func MaskDSN(dsn string) string {
	return dsnPasswordRegex.ReplaceAllString(dsn, ":***@")
}

// MaskURL keeps scheme, host and the first path segment; webhook tokens live in the rest.
func MaskURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	segments := strings.SplitN(strings.TrimPrefix(u.Path, "/"), "/", 2)
	path := ""
	if segments[0] != "" {
		path = "/" + segments[0]
	}
	if len(segments) > 1 {
		path += "/***"
	}
	return u.Scheme + "://" + u.Host + path
}
