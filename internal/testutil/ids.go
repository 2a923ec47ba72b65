package testutil

import (
	"fmt"
	"sync"
)

// CountingIDs generates "prefix-1", "prefix-2", ...
//
// Thread-safety: safe for concurrent use via internal mutex.
type CountingIDs struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewCountingIDs creates a generator. An empty prefix defaults to "client".
func NewCountingIDs(prefix string) *CountingIDs {
	if prefix == "" {
		prefix = "client"
	}
	return &CountingIDs{prefix: prefix}
}

// Generate returns the next id.
func (g *CountingIDs) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%d", g.prefix, g.n)
}
