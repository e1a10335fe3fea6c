// Package cache stores rendered GET responses for a fixed time. Two backends
// exist: Redis for multi-instance deployments and an in-process map.
package cache

import (
	"context"
	"errors"
	"net/url"
	"sort"
	"strings"
	"time"
)

// ErrMiss is returned by Get when no live entry exists for a key
var ErrMiss = errors.New("cache miss")

// Entry is a cached HTTP response body
type Entry struct {
	Status      int    `json:"status"`
	ContentType string `json:"content_type"`
	Body        []byte `json:"body"`
}

// ResponseCache stores responses by key with a fixed TTL
type ResponseCache interface {
	Get(ctx context.Context, key string) (*Entry, error)
	Set(ctx context.Context, key string, entry *Entry) error
	// Clear drops every entry
	Clear(ctx context.Context) error
	Close() error
}

// RequestKey builds a cache key from a request path and its query, leaving
// out the parameters in exclude. Query keys are sorted so parameter order does
// not split the cache.
func RequestKey(path string, query url.Values, exclude ...string) string {
	skip := make(map[string]struct{}, len(exclude))
	for _, e := range exclude {
		skip[e] = struct{}{}
	}

	keys := make([]string, 0, len(query))
	for k := range query {
		if _, ok := skip[k]; !ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(path)
	for i, k := range keys {
		if i == 0 {
			b.WriteByte('?')
		} else {
			b.WriteByte('&')
		}
		vals := append([]string(nil), query[k]...)
		sort.Strings(vals)
		for j, v := range vals {
			if j > 0 {
				b.WriteByte('&')
			}
			b.WriteString(url.QueryEscape(k))
			b.WriteByte('=')
			b.WriteString(url.QueryEscape(v))
		}
	}
	return b.String()
}

// Stats are cumulative lookup counters
type Stats struct {
	Hits      int64
	Misses    int64
	Evictions int64
	Keys      int64
}

func expired(expiresAt time.Time, now time.Time) bool {
	return !now.Before(expiresAt)
}
