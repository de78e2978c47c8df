package cli

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Control-D-Inc/domainfilter/internal/filter"
	"github.com/Control-D-Inc/domainfilter/testhelper"
)

func TestControlServer(t *testing.T) {
	f, err := os.CreateTemp("", "")
	if err != nil {
		t.Fatal(err)
	}
	defer os.Remove(f.Name())
	f.Close()

	s, err := newControlServer(f.Name())
	if err != nil {
		t.Fatal(err)
	}
	pattern := "/ping"
	respBody := []byte("pong")
	s.register(pattern, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(respBody)
	}))
	if err := s.start(); err != nil {
		t.Fatal(err)
	}

	c := newControlClient(f.Name())
	resp, err := c.post(pattern, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		t.Fatalf("unepxected response code: %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("content-type"); ct != contentTypeJson {
		t.Fatalf("unexpected content type: %s", ct)
	}
	buf, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(buf, respBody) {
		t.Errorf("unexpected response body, want: %q, got: %q", string(respBody), string(buf))
	}
	if err := s.stop(); err != nil {
		t.Fatal(err)
	}
}

func newTestProg(t *testing.T) *prog {
	t.Helper()
	p := &prog{cfg: testhelper.SampleConfig(t)}
	require.NoError(t, p.init())
	cs, err := newControlServer("")
	require.NoError(t, err)
	p.cs = cs
	p.registerControlServerHandler()
	return p
}

func doRequest(t *testing.T, p *prog, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(buf)
	}
	req := httptest.NewRequest(method, path, r)
	w := httptest.NewRecorder()
	p.cs.mux.ServeHTTP(w, req)
	return w
}

func evaluate(t *testing.T, p *prog, req *evaluateRequest) *filter.MatchResult {
	t.Helper()
	w := doRequest(t, p, http.MethodPost, evaluatePath, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var res evaluateResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	return &res.MatchResult
}

func Test_prog_controlServerConn(t *testing.T) {
	p := newTestProg(t)
	conn := "tcp:10.0.0.2:53000->1.1.1.1:443"

	// Unknown connection, the chain policy applies.
	res := evaluate(t, p, &evaluateRequest{Conn: conn})
	assert.False(t, res.Matched)
	assert.Equal(t, filter.VerdictAccept, res.Verdict)

	w := doRequest(t, p, http.MethodPost, connPath, &connRequest{Conn: conn, Domain: "cdn.ads.example.net."})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, contentTypeJson, w.Header().Get("Content-Type"))
	assert.Equal(t, 1, p.table.Len())

	res = evaluate(t, p, &evaluateRequest{Conn: conn})
	assert.True(t, res.Matched)
	assert.Equal(t, "cdn.ads.example.net", res.Domain)
	assert.Equal(t, filter.VerdictDrop, res.Verdict)
	assert.Equal(t, "1", res.RuleKey)
	assert.Equal(t, "%ads.%", res.MatchedRule)

	w = doRequest(t, p, http.MethodPost, connDeletePath, &connRequest{Conn: conn})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, 0, p.table.Len())

	res = evaluate(t, p, &evaluateRequest{Conn: conn})
	assert.False(t, res.Matched)
	assert.Equal(t, filter.VerdictAccept, res.Verdict)
}

func Test_prog_controlServerEvaluateDomain(t *testing.T) {
	p := newTestProg(t)

	res := evaluate(t, p, &evaluateRequest{Domain: "evil.example.com"})
	assert.True(t, res.Matched)
	assert.Equal(t, filter.VerdictDrop, res.Verdict)
	assert.Equal(t, "exact", res.RuleName)
	assert.Equal(t, 3, res.RuleIndex)
}

func Test_prog_controlServerBadRequest(t *testing.T) {
	p := newTestProg(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		code   int
	}{
		{"conn get", http.MethodGet, connPath, nil, http.StatusMethodNotAllowed},
		{"conn invalid key", http.MethodPost, connPath, &connRequest{Conn: "icmp:10.0.0.2:1->1.1.1.1:2", Domain: "example.com"}, http.StatusBadRequest},
		{"conn delete invalid key", http.MethodPost, connDeletePath, &connRequest{Conn: "10.0.0.2"}, http.StatusBadRequest},
		{"evaluate empty", http.MethodPost, evaluatePath, &evaluateRequest{}, http.StatusBadRequest},
		{"evaluate invalid key", http.MethodPost, evaluatePath, &evaluateRequest{Conn: "tcp:"}, http.StatusBadRequest},
		{"reload get", http.MethodGet, reloadPath, nil, http.StatusMethodNotAllowed},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			w := doRequest(t, p, tc.method, tc.path, tc.body)
			assert.Equal(t, tc.code, w.Code, w.Body.String())
		})
	}

	req := httptest.NewRequest(http.MethodPost, connPath, strings.NewReader("{"))
	w := httptest.NewRecorder()
	p.cs.mux.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func Test_prog_controlServerRules(t *testing.T) {
	p := newTestProg(t)
	statsRuleHits.Reset()
	evaluate(t, p, &evaluateRequest{Domain: "tracker.example.org"})

	w := doRequest(t, p, http.MethodGet, rulesPath, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var res rulesResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, "OUTPUT", res.Chain)
	assert.Equal(t, "accept", res.Policy)
	require.Len(t, res.Rules, 4)

	keys := make([]string, 0, len(res.Rules))
	for _, r := range res.Rules {
		keys = append(keys, r.Key)
		require.NotNil(t, r.Hits, "filter.%s should report hits", r.Key)
	}
	assert.Equal(t, []string{"0", "1", "2", "10"}, keys)
	assert.Equal(t, "deny", res.Rules[2].Mode)
	assert.Equal(t, uint64(1), *res.Rules[2].Hits)
	assert.Equal(t, uint64(0), *res.Rules[0].Hits)

	// Listing must not add series for filters never hit.
	hits := collectRuleHits()
	assert.Len(t, hits, 1)
	assert.Equal(t, uint64(1), hits[ruleHitKey{chain: "OUTPUT", filter: "2", pattern: "tracker.%"}])
}

func Test_prog_apply(t *testing.T) {
	p := newTestProg(t)
	old := p.engine.Chain()

	invalid := testhelper.SampleConfig(t)
	invalid.Filter["0"].Deny = true
	assert.ErrorIs(t, p.apply(invalid), errReloadInvalidConfig)
	assert.Same(t, old, p.engine.Chain())

	newCfg := testhelper.SampleConfig(t)
	newCfg.Chain.DefaultPolicy = "drop"
	delete(newCfg.Filter, "10")
	require.NoError(t, p.apply(newCfg))
	assert.NotSame(t, old, p.engine.Chain())
	assert.Equal(t, filter.VerdictDrop, p.engine.Chain().Policy())
	assert.Len(t, p.engine.Chain().Entries(), 3)
	assert.Equal(t, "drop", p.config().Chain.DefaultPolicy)

	res := evaluate(t, p, &evaluateRequest{Domain: "evil.example.com"})
	assert.False(t, res.Matched)
	assert.Equal(t, filter.VerdictDrop, res.Verdict)
}

func Test_prog_applyConcurrent(t *testing.T) {
	p := newTestProg(t)
	cfgA := testhelper.SampleConfig(t)
	cfgA.Chain.Name = "A"
	cfgB := testhelper.SampleConfig(t)
	cfgB.Chain.Name = "B"

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			assert.NoError(t, p.apply(cfgA))
		}()
		go func() {
			defer wg.Done()
			assert.NoError(t, p.apply(cfgB))
		}()
	}
	wg.Wait()
	assert.Equal(t, p.config().Chain.Name, p.engine.Chain().Name())
}
