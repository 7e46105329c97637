package resolver

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"

	"github.com/openrules/openrules/pkg/engine"
)

// requestCache memoizes raw data-service responses for the lifetime of
// one resolution. Identical (endpoint, query, variables) calls hit the
// cache; the cache is dropped when the resolution ends.
type requestCache struct {
	mu      sync.Mutex
	entries map[string]*cacheEntry
}

// cacheEntry deduplicates concurrent identical calls: the first caller
// populates the entry, later callers wait on done.
type cacheEntry struct {
	done     chan struct{}
	response interface{}
	err      error
}

func newRequestCache() *requestCache {
	return &requestCache{entries: make(map[string]*cacheEntry)}
}

// cacheKey identifies one call shape: endpoint, a hash of the query or
// method, and the variables in sorted-key order.
func cacheKey(config *engine.DataServiceConfig, variables map[string]interface{}) string {
	h := sha256.New()
	h.Write([]byte(config.Endpoint))
	h.Write([]byte{0})
	h.Write([]byte(config.Query))
	h.Write([]byte{0})
	h.Write([]byte(config.Method))
	h.Write([]byte{0})

	names := make([]string, 0, len(variables))
	for name := range variables {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(h, "%s=%v\x00", name, variables[name])
	}
	return hex.EncodeToString(h.Sum(nil))
}

// do returns the memoized response for the key, invoking fetch exactly
// once per key.
func (c *requestCache) do(key string, fetch func() (interface{}, error)) (interface{}, error) {
	c.mu.Lock()
	if entry, ok := c.entries[key]; ok {
		c.mu.Unlock()
		<-entry.done
		return entry.response, entry.err
	}
	entry := &cacheEntry{done: make(chan struct{})}
	c.entries[key] = entry
	c.mu.Unlock()

	entry.response, entry.err = fetch()
	close(entry.done)
	return entry.response, entry.err
}
