package store

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"strings"
)

// NormalizeURL drops the query, the fragment and trailing slashes. A bare
// host keeps a single "/".
func NormalizeURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return cleanURLString(rawURL)
	}
	u.RawQuery = ""
	u.Fragment = ""
	normalized := u.String()

	if u.Path == "" || u.Path == "/" {
		if !strings.HasSuffix(normalized, "/") {
			normalized += "/"
		}
		return normalized
	}
	return strings.TrimRight(normalized, "/")
}

func cleanURLString(rawURL string) string {
	if idx := strings.IndexAny(rawURL, "?#"); idx != -1 {
		rawURL = rawURL[:idx]
	}
	rawURL = strings.TrimRight(rawURL, "/")
	if rawURL == "" {
		return "/"
	}
	return rawURL
}

// FolderKey returns the path prefix of a URL:
//
//	/products/123                    -> /products/
//	/products/                       -> /products/
//	/products                        -> /
//	https://example.com/api/users/42 -> /api/users/
func FolderKey(rawURL string) string {
	endsWithSlash := strings.HasSuffix(rawURL, "/")

	u, err := url.Parse(NormalizeURL(rawURL))
	if err != nil {
		return "/"
	}
	path := u.Path
	if path == "" || path == "/" {
		return "/"
	}
	if endsWithSlash {
		return strings.TrimRight(path, "/") + "/"
	}

	segments := strings.Split(strings.Trim(path, "/"), "/")
	if len(segments) <= 1 {
		return "/"
	}
	return "/" + strings.Join(segments[:len(segments)-1], "/") + "/"
}

// ScopeKey derives the key for scope from a page URL: empty for global,
// the folder prefix for folder, the normalized URL for page.
func ScopeKey(scope, pageURL string) string {
	switch scope {
	case ScopeFolder:
		return FolderKey(pageURL)
	case ScopePage:
		return NormalizeURL(pageURL)
	}
	return ""
}

// SameDocument reports whether two page URLs name the same document,
// ignoring query, fragment and trailing slashes.
func SameDocument(a, b string) bool {
	return NormalizeURL(a) == NormalizeURL(b)
}

// hashScopeKey returns a filesystem-safe name for a scope key.
func hashScopeKey(scopeKey string) string {
	if scopeKey == "" {
		return "global"
	}
	sum := sha256.Sum256([]byte(scopeKey))
	return hex.EncodeToString(sum[:])[:16]
}
