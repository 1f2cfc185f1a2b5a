package security

import (
	"strings"
)

const docsPrefix = "/swagger/"

const apiPolicy = "default-src 'none'; frame-ancestors 'none'; base-uri 'none'; form-action 'none'"

// the swagger UI bundle ships inline bootstrap scripts and styles
const docsPolicy = "default-src 'self'; " +
	"script-src 'self' 'unsafe-inline'; " +
	"style-src 'self' 'unsafe-inline'; " +
	"img-src 'self' data:; " +
	"connect-src 'self'; " +
	"frame-ancestors 'none'; " +
	"base-uri 'self'; " +
	"form-action 'none'"

func isDocsPath(path string) bool {
	return strings.HasPrefix(path, docsPrefix)
}

func contentSecurityPolicy(path string) string {
	if isDocsPath(path) {
		return docsPolicy
	}
	return apiPolicy
}
