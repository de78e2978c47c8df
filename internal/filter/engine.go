package filter

import (
	"context"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/Control-D-Inc/domainfilter"
)

// Observer is notified of every evaluation made by an Engine.
type Observer func(*MatchResult)

// Engine evaluates connections against the current chain.
//
// The chain can be swapped at any time, evaluations in flight keep using
// the chain they started with.
type Engine struct {
	lookup   domainfilter.DomainLookup
	chain    atomic.Pointer[Chain]
	cache    *lru.Cache[cacheKey, MatchResult]
	observer Observer
}

type cacheKey struct {
	conn   domainfilter.ConnKey
	domain string
	chain  *Chain
}

// Option configures an Engine.
type Option func(*Engine) error

// WithVerdictCache caches up to size verdicts per connection and domain.
// A size of 0 disables the cache.
func WithVerdictCache(size int) Option {
	return func(e *Engine) error {
		if size == 0 {
			return nil
		}
		cache, err := lru.New[cacheKey, MatchResult](size)
		if err != nil {
			return err
		}
		e.cache = cache
		return nil
	}
}

// WithObserver sets the observer of evaluations.
func WithObserver(o Observer) Option {
	return func(e *Engine) error {
		e.observer = o
		return nil
	}
}

// NewEngine creates a new engine evaluating chain, using lookup to find
// the domain attached to a connection.
func NewEngine(chain *Chain, lookup domainfilter.DomainLookup, opts ...Option) (*Engine, error) {
	e := &Engine{lookup: lookup}
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}
	e.chain.Store(chain)
	return e, nil
}

// Chain returns the chain currently in use.
func (e *Engine) Chain() *Chain {
	return e.chain.Load()
}

// Swap installs a new chain, returning the previous one.
func (e *Engine) Swap(c *Chain) *Chain {
	old := e.chain.Swap(c)
	if e.cache != nil {
		e.cache.Purge()
	}
	return old
}

// EvaluateConn looks up the domain attached to conn and evaluates it.
func (e *Engine) EvaluateConn(ctx context.Context, conn domainfilter.ConnKey) *MatchResult {
	ctx = context.WithValue(ctx, domainfilter.ConnIDCtxKey{}, conn.String())
	domain, ok := e.lookup.LookupDomain(ctx, conn)
	if !ok {
		domain = ""
	}
	return e.evaluate(ctx, &MatchRequest{Conn: conn, Domain: domain})
}

// EvaluateDomain evaluates domain as if it was attached to a connection.
// The result is never cached.
func (e *Engine) EvaluateDomain(ctx context.Context, domain string) *MatchResult {
	res := e.Chain().Evaluate(ctx, &MatchRequest{Domain: domain})
	e.notify(res)
	return res
}

func (e *Engine) evaluate(ctx context.Context, req *MatchRequest) *MatchResult {
	chain := e.Chain()
	// A connection without domain may get one later, so its verdict is not final.
	if e.cache == nil || req.Domain == "" {
		res := chain.Evaluate(ctx, req)
		e.notify(res)
		return res
	}

	key := cacheKey{conn: req.Conn, domain: req.Domain, chain: chain}
	if cached, ok := e.cache.Get(key); ok {
		res := cached
		res.Cached = true
		e.notify(&res)
		return &res
	}
	res := chain.Evaluate(ctx, req)
	e.cache.Add(key, *res)
	e.notify(res)
	return res
}

func (e *Engine) notify(res *MatchResult) {
	if e.observer != nil {
		e.observer(res)
	}
}
