package filter

import (
	"context"
	"net/netip"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Control-D-Inc/domainfilter"
	"github.com/Control-D-Inc/domainfilter/testhelper"
)

type mapLookup struct {
	mu      sync.Mutex
	domains map[domainfilter.ConnKey]string
	calls   int
}

func (m *mapLookup) LookupDomain(_ context.Context, key domainfilter.ConnKey) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	d, ok := m.domains[key]
	return d, ok
}

func (m *mapLookup) set(key domainfilter.ConnKey, domain string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.domains[key] = domain
}

var testConn = domainfilter.ConnKey{
	Network: "tcp",
	Src:     netip.MustParseAddrPort("10.0.0.2:53000"),
	Dst:     netip.MustParseAddrPort("93.184.216.34:443"),
}

func sampleChain(t *testing.T) *Chain {
	chain, err := NewChainFromConfig(testhelper.SampleConfig(t))
	require.NoError(t, err)
	return chain
}

func TestEngine_EvaluateConn(t *testing.T) {
	lookup := &mapLookup{domains: map[domainfilter.ConnKey]string{}}
	e, err := NewEngine(sampleChain(t), lookup)
	require.NoError(t, err)
	ctx := context.Background()

	// No domain resolved yet.
	res := e.EvaluateConn(ctx, testConn)
	assert.False(t, res.Matched)
	assert.Equal(t, VerdictAccept, res.Verdict)

	lookup.set(testConn, "ads.example.net")
	res = e.EvaluateConn(ctx, testConn)
	assert.True(t, res.Matched)
	assert.Equal(t, VerdictDrop, res.Verdict)
	assert.Equal(t, "%ads.%", res.MatchedRule)
	assert.False(t, res.Cached)
}

func TestEngine_VerdictCache(t *testing.T) {
	lookup := &mapLookup{domains: map[domainfilter.ConnKey]string{}}
	e, err := NewEngine(sampleChain(t), lookup, WithVerdictCache(8))
	require.NoError(t, err)
	ctx := context.Background()

	// Unknown domains are not cached.
	res := e.EvaluateConn(ctx, testConn)
	assert.False(t, res.Cached)
	res = e.EvaluateConn(ctx, testConn)
	assert.False(t, res.Cached)

	lookup.set(testConn, "tracker.example.org")
	res = e.EvaluateConn(ctx, testConn)
	assert.False(t, res.Cached)
	assert.Equal(t, VerdictDrop, res.Verdict)

	res = e.EvaluateConn(ctx, testConn)
	assert.True(t, res.Cached)
	assert.Equal(t, VerdictDrop, res.Verdict)
	assert.Equal(t, "tracker.%", res.MatchedRule)

	// Domain change for the same connection is evaluated again.
	lookup.set(testConn, "git.corp.example")
	res = e.EvaluateConn(ctx, testConn)
	assert.False(t, res.Cached)
	assert.Equal(t, VerdictAccept, res.Verdict)
}

func TestEngine_Swap(t *testing.T) {
	lookup := &mapLookup{domains: map[domainfilter.ConnKey]string{testConn: "example.com"}}
	e, err := NewEngine(sampleChain(t), lookup, WithVerdictCache(8))
	require.NoError(t, err)
	ctx := context.Background()

	res := e.EvaluateConn(ctx, testConn)
	assert.Equal(t, VerdictAccept, res.Verdict)
	_ = e.EvaluateConn(ctx, testConn)

	r, err := domainfilter.NewRule("example.com", domainfilter.FlagDeny)
	require.NoError(t, err)
	next := NewChain("OUTPUT", VerdictAccept, []Entry{{Key: "0", Name: "block", Rule: r}})
	old := e.Swap(next)
	assert.NotNil(t, old)
	assert.Same(t, next, e.Chain())

	res = e.EvaluateConn(ctx, testConn)
	assert.False(t, res.Cached)
	assert.Equal(t, VerdictDrop, res.Verdict)
	assert.Equal(t, "block", res.RuleName)
}

func TestEngine_Observer(t *testing.T) {
	lookup := &mapLookup{domains: map[domainfilter.ConnKey]string{testConn: "tracker.example.org"}}
	var seen []*MatchResult
	e, err := NewEngine(sampleChain(t), lookup,
		WithVerdictCache(8),
		WithObserver(func(res *MatchResult) { seen = append(seen, res) }),
	)
	require.NoError(t, err)
	ctx := context.Background()

	e.EvaluateConn(ctx, testConn)
	e.EvaluateConn(ctx, testConn)
	e.EvaluateDomain(ctx, "git.corp.example")

	require.Len(t, seen, 3)
	assert.False(t, seen[0].Cached)
	assert.True(t, seen[1].Cached)
	assert.Equal(t, VerdictAccept, seen[2].Verdict)
}

func TestEngine_LookupFunc(t *testing.T) {
	lookup := domainfilter.DomainLookupFunc(func(ctx context.Context, key domainfilter.ConnKey) (string, bool) {
		id, _ := ctx.Value(domainfilter.ConnIDCtxKey{}).(string)
		assert.Equal(t, key.String(), id)
		return "sub.ads.example.net", true
	})
	e, err := NewEngine(sampleChain(t), lookup)
	require.NoError(t, err)
	res := e.EvaluateConn(context.Background(), testConn)
	assert.Equal(t, VerdictDrop, res.Verdict)
}

func TestEngine_Concurrent(t *testing.T) {
	lookup := &mapLookup{domains: map[domainfilter.ConnKey]string{testConn: "ads.example.net"}}
	e, err := NewEngine(sampleChain(t), lookup, WithVerdictCache(8))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				res := e.EvaluateConn(context.Background(), testConn)
				if res.Verdict != VerdictDrop {
					t.Errorf("unexpected verdict: %s", res.Verdict)
					return
				}
			}
		}()
	}
	wg.Wait()
}

func TestNewEngine_InvalidCacheSize(t *testing.T) {
	_, err := NewEngine(sampleChain(t), &mapLookup{}, WithVerdictCache(-1))
	assert.Error(t, err)
}
