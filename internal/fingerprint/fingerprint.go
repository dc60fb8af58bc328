// Package fingerprint canonicalizes a request into a stable cache key.
package fingerprint

import (
	"crypto/md5"
	"encoding/hex"
	"net/http"
	"sort"
	"strings"
)

// cacheableHeaders are the only request headers that participate in the
// fingerprint; everything else (including tracing/auth headers) is
// deliberately excluded so it cannot fragment the cache.
var cacheableHeaders = map[string]bool{
	"accept":       true,
	"content-type": true,
}

// Key derives a deterministic digest from method, path, the subset of
// headers that affect cacheability, body bytes, and the negotiated
// encoding. Permuting header insertion order or touching irrelevant headers
// never changes the result.
func Key(method, path string, headers http.Header, body []byte, encoding string) string {
	parts := []string{method, path, encoding}

	names := make([]string, 0, len(headers))
	for name := range headers {
		if cacheableHeaders[strings.ToLower(name)] {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	for _, name := range names {
		for _, value := range headers[name] {
			parts = append(parts, name+":"+value)
		}
	}

	if len(body) > 0 {
		parts = append(parts, string(body))
	}

	sum := md5.Sum([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}
