// Package htmlutil renders HTML error pages as short plain text.
package htmlutil

import (
	"mime"
	"strings"

	"github.com/k3a/html2text"
)

// ErrorText returns a single-line excerpt of an error response body of at
// most n bytes. HTML bodies (gateway error pages) are converted to text
// first.
func ErrorText(body []byte, contentType string, n int) string {
	s := string(body)
	if isHTML(s, contentType) {
		s = html2text.HTML2Text(s)
	}
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > n {
		s = s[:n]
	}
	return s
}

func isHTML(body, contentType string) bool {
	if mt, _, err := mime.ParseMediaType(contentType); err == nil && mt == "text/html" {
		return true
	}
	head := strings.ToLower(strings.TrimSpace(body))
	return strings.HasPrefix(head, "<!doctype html") || strings.HasPrefix(head, "<html")
}
