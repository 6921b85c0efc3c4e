// Package auth extracts caller-supplied GitHub tokens from request headers.
package auth

import (
	"net/http"
	"strings"
)

var githubTokenPrefixes = []string{"ghp_", "gho_", "ghu_", "github_pat_"}

// LooksLikeGitHubToken reports whether s carries a known GitHub token prefix.
func LooksLikeGitHubToken(s string) bool {
	for _, p := range githubTokenPrefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

// ExtractGitHubToken pulls a GitHub token from request headers, checking
// x-api-key, then Authorization: Bearer, then api-key. Values without a known
// GitHub token prefix are ignored so unrelated API keys don't get exchanged.
func ExtractGitHubToken(h http.Header) string {
	if v := h.Get("x-api-key"); LooksLikeGitHubToken(v) {
		return v
	}

	if v := h.Get("Authorization"); v != "" {
		token := strings.TrimPrefix(strings.TrimPrefix(v, "Bearer "), "bearer ")
		if token != v && LooksLikeGitHubToken(token) {
			return token
		}
	}

	if v := h.Get("api-key"); LooksLikeGitHubToken(v) {
		return v
	}

	return ""
}
