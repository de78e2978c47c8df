package filter

import (
	"context"
	"fmt"

	"github.com/Control-D-Inc/domainfilter"
)

// Chain is an ordered, immutable list of rules with a default policy.
type Chain struct {
	name    string
	policy  Verdict
	entries []Entry
}

// NewChain creates a new chain evaluating entries in the given order.
func NewChain(name string, policy Verdict, entries []Entry) *Chain {
	return &Chain{
		name:    name,
		policy:  policy,
		entries: append([]Entry(nil), entries...),
	}
}

// NewChainFromConfig builds the chain described by cfg.
// Filters are installed in numeric key order, any invalid filter rejects
// the whole chain.
func NewChainFromConfig(cfg *domainfilter.Config) (*Chain, error) {
	policy, err := ParseVerdict(cfg.Chain.DefaultPolicy)
	if err != nil {
		return nil, fmt.Errorf("chain %q: %w", cfg.Chain.Name, err)
	}
	keys := cfg.FilterKeys()
	entries := make([]Entry, 0, len(keys))
	for _, k := range keys {
		fc := cfg.Filter[k]
		if fc == nil {
			return nil, fmt.Errorf("filter.%s: missing config", k)
		}
		r, err := fc.Rule()
		if err != nil {
			return nil, fmt.Errorf("filter.%s: %w", k, err)
		}
		entries = append(entries, Entry{Key: k, Name: fc.Name, Rule: r})
	}
	return NewChain(cfg.Chain.Name, policy, entries), nil
}

// Name returns the chain name.
func (c *Chain) Name() string {
	return c.name
}

// Policy returns the verdict applied when no rule matches.
func (c *Chain) Policy() Verdict {
	return c.policy
}

// Entries returns a copy of the chain entries.
func (c *Chain) Entries() []Entry {
	return append([]Entry(nil), c.entries...)
}

// Evaluate returns the verdict of the first rule matching the request domain,
// or the chain policy if none does.
func (c *Chain) Evaluate(ctx context.Context, req *MatchRequest) *MatchResult {
	result := &MatchResult{
		Chain:       c.name,
		Domain:      req.Domain,
		Verdict:     c.policy,
		MatchedRule: noRule,
		RuleIndex:   -1,
	}
	// No domain known yet for this connection, no rule can match.
	if req.Domain == "" {
		return result
	}
	for i, e := range c.entries {
		if !e.Rule.Matches(req.Domain) {
			continue
		}
		result.Matched = true
		result.Verdict = verdictFor(e.Rule.Mode())
		result.MatchedRule = e.Rule.Pattern()
		result.RuleKey = e.Key
		result.RuleName = e.Name
		result.RuleIndex = i
		domainfilter.Log(ctx, domainfilter.ProxyLogger.Load().Debug(), "%s matched filter.%s (%s): %s", req.Domain, e.Key, e.Rule, result.Verdict)
		return result
	}
	domainfilter.Log(ctx, domainfilter.ProxyLogger.Load().Debug(), "%s matched no rule in chain %s, policy: %s", req.Domain, c.name, c.policy)
	return result
}
