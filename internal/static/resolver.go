package static

import (
	"strings"
)

// Resolver turns a storage-relative rendition key into the url clients fetch it from.
type Resolver interface {
	URL(key string) string
}

// NewResolver returns a resolver that joins keys onto baseURL, eg "https://cdn.example.com/images".
// An empty baseURL resolves to this service's own /images/ route.
func NewResolver(baseURL string) Resolver {

	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if base == "" {
		base = strings.TrimRight(RoutePrefix, "/")
	}

	return &resolver{base: base}
}

var _ Resolver = (*resolver)(nil)

type resolver struct {
	base string
}

// URL is the concrete implementation of the interface method. Empty keys stay empty.
func (r *resolver) URL(key string) string {
	if key == "" {
		return ""
	}
	return r.base + "/" + strings.TrimLeft(key, "/")
}
