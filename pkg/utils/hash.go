package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
)

// Hash creates a SHA256 hex digest of s.
func Hash(s string) string {
	h := sha256.Sum256([]byte(s))
	return hex.EncodeToString(h[:])
}

// BuildURL fills a template with a single %d or %s verb. String arguments
// are path-escaped.
func BuildURL(template string, arg any) (string, error) {
	if strings.Count(template, "%") != 1 {
		return "", fmt.Errorf("url template %q must contain exactly one verb", template)
	}
	if s, ok := arg.(string); ok {
		arg = url.PathEscape(s)
	}
	out := fmt.Sprintf(template, arg)
	if strings.Contains(out, "%!") {
		return "", fmt.Errorf("url template %q does not accept %T", template, arg)
	}
	return out, nil
}
