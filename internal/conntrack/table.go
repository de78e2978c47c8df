package conntrack

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/Control-D-Inc/domainfilter"
)

var _ domainfilter.DomainLookup = (*Table)(nil)

// Table holds the domain resolved for each tracked connection.
// Least recently used connections are evicted once the table is full.
type Table struct {
	cacher *lru.ARCCache[domainfilter.ConnKey, string]
}

// NewTable creates a new Table instance with given size.
func NewTable(size int) (*Table, error) {
	cacher, err := lru.NewARC[domainfilter.ConnKey, string](size)
	if err != nil {
		return nil, err
	}
	return &Table{cacher: cacher}, nil
}

// Set attaches domain to the connection. An empty domain forgets the connection.
func (t *Table) Set(key domainfilter.ConnKey, domain string) {
	if domain == "" {
		t.Delete(key)
		return
	}
	t.cacher.Add(key, domain)
}

// Delete forgets the connection.
func (t *Table) Delete(key domainfilter.ConnKey) {
	t.cacher.Remove(key)
}

// LookupDomain returns the domain attached to the connection.
func (t *Table) LookupDomain(_ context.Context, key domainfilter.ConnKey) (string, bool) {
	return t.cacher.Get(key)
}

// Len returns the number of tracked connections.
func (t *Table) Len() int {
	return t.cacher.Len()
}

// Purge forgets all connections.
func (t *Table) Purge() {
	t.cacher.Purge()
}
