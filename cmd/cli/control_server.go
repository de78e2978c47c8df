package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/miekg/dns"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/Control-D-Inc/domainfilter"
	"github.com/Control-D-Inc/domainfilter/internal/filter"
)

const (
	contentTypeJson = "application/json"
	connPath        = "/conn"
	connDeletePath  = "/conn/delete"
	evaluatePath    = "/evaluate"
	rulesPath       = "/rules"
	reloadPath      = "/reload"
)

// connRequest attaches a domain to a connection, or forgets it.
type connRequest struct {
	Conn   string `json:"conn"`
	Domain string `json:"domain,omitempty"`
}

// evaluateRequest evaluates either a tracked connection or a raw domain.
type evaluateRequest struct {
	Conn   string `json:"conn,omitempty"`
	Domain string `json:"domain,omitempty"`
}

type evaluateResponse struct {
	filter.MatchResult
}

type ruleStat struct {
	Key     string  `json:"key"`
	Name    string  `json:"name"`
	Mode    string  `json:"mode"`
	Pattern string  `json:"pattern"`
	Hits    *uint64 `json:"hits,omitempty"`
}

type rulesResponse struct {
	Chain  string     `json:"chain"`
	Policy string     `json:"policy"`
	Rules  []ruleStat `json:"rules"`
}

type controlServer struct {
	server *http.Server
	mux    *http.ServeMux
	addr   string
}

func newControlServer(addr string) (*controlServer, error) {
	mux := http.NewServeMux()
	s := &controlServer{
		server: &http.Server{Handler: mux},
		mux:    mux,
	}
	s.addr = addr
	return s, nil
}

func (s *controlServer) start() error {
	_ = os.Remove(s.addr)
	unixListener, err := net.Listen("unix", s.addr)
	if err != nil {
		return err
	}
	if l, ok := unixListener.(*net.UnixListener); ok {
		l.SetUnlinkOnClose(true)
	}
	go s.server.Serve(unixListener)
	return nil
}

func (s *controlServer) stop() error {
	_ = os.Remove(s.addr)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*2)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func (s *controlServer) register(pattern string, handler http.Handler) {
	s.mux.Handle(pattern, jsonResponse(handler))
}

func (p *prog) registerControlServerHandler() {
	p.cs.register(connPath, postOnly(http.HandlerFunc(func(w http.ResponseWriter, request *http.Request) {
		var req connRequest
		if err := json.NewDecoder(request.Body).Decode(&req); err != nil {
			http.Error(w, fmt.Sprintf("invalid request: %v", err), http.StatusBadRequest)
			return
		}
		key, err := domainfilter.ParseConnKey(req.Conn)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		domain := req.Domain
		if dns.IsFqdn(domain) {
			domain = strings.TrimSuffix(domain, ".")
		}
		p.table.Set(key, domain)
		mainLog.Load().Debug().Msgf("connection %s attached to domain: %q", key, domain)
		w.WriteHeader(http.StatusOK)
	})))
	p.cs.register(connDeletePath, postOnly(http.HandlerFunc(func(w http.ResponseWriter, request *http.Request) {
		var req connRequest
		if err := json.NewDecoder(request.Body).Decode(&req); err != nil {
			http.Error(w, fmt.Sprintf("invalid request: %v", err), http.StatusBadRequest)
			return
		}
		key, err := domainfilter.ParseConnKey(req.Conn)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		p.table.Delete(key)
		mainLog.Load().Debug().Msgf("connection %s deleted", key)
		w.WriteHeader(http.StatusOK)
	})))
	p.cs.register(evaluatePath, postOnly(http.HandlerFunc(func(w http.ResponseWriter, request *http.Request) {
		var req evaluateRequest
		if err := json.NewDecoder(request.Body).Decode(&req); err != nil {
			http.Error(w, fmt.Sprintf("invalid request: %v", err), http.StatusBadRequest)
			return
		}
		var res *filter.MatchResult
		switch {
		case req.Conn != "":
			key, err := domainfilter.ParseConnKey(req.Conn)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			res = p.engine.EvaluateConn(request.Context(), key)
		case req.Domain != "":
			res = p.engine.EvaluateDomain(request.Context(), req.Domain)
		default:
			http.Error(w, "conn or domain is required", http.StatusBadRequest)
			return
		}
		if err := json.NewEncoder(w).Encode(&evaluateResponse{MatchResult: *res}); err != nil {
			http.Error(w, fmt.Sprintf("could not marshal result: %v", err), http.StatusInternalServerError)
			return
		}
	})))
	p.cs.register(rulesPath, http.HandlerFunc(func(w http.ResponseWriter, request *http.Request) {
		chain := p.engine.Chain()
		res := &rulesResponse{
			Chain:  chain.Name(),
			Policy: string(chain.Policy()),
			Rules:  ruleStatsFromChain(chain, ruleHits()),
		}
		if err := json.NewEncoder(w).Encode(res); err != nil {
			http.Error(w, fmt.Sprintf("could not marshal rules: %v", err), http.StatusInternalServerError)
			return
		}
	}))
	p.cs.register(reloadPath, postOnly(http.HandlerFunc(func(w http.ResponseWriter, request *http.Request) {
		if err := p.reload(); err != nil {
			mainLog.Load().Error().Err(err).Msg("could not reload config")
			code := http.StatusInternalServerError
			if errors.Is(err, errReloadInvalidConfig) {
				code = http.StatusBadRequest
			}
			http.Error(w, err.Error(), code)
			return
		}
		w.WriteHeader(http.StatusOK)
	})))
}

// ruleStatsFromChain lists chain entries, with hit counts if hits is not nil.
func ruleStatsFromChain(chain *filter.Chain, hits func(chain string, e filter.Entry) (uint64, bool)) []ruleStat {
	entries := chain.Entries()
	stats := make([]ruleStat, 0, len(entries))
	for _, e := range entries {
		rs := ruleStat{
			Key:     e.Key,
			Name:    e.Name,
			Mode:    e.Rule.Mode().String(),
			Pattern: e.Rule.Pattern(),
		}
		if hits != nil {
			if n, ok := hits(chain.Name(), e); ok {
				rs.Hits = &n
			}
		}
		stats = append(stats, rs)
	}
	return stats
}

type ruleHitKey struct {
	chain, filter, pattern string
}

// collectRuleHits snapshots the filter hit counters. Reading through
// Collect never creates series for filters which were not hit yet.
func collectRuleHits() map[ruleHitKey]uint64 {
	ch := make(chan prometheus.Metric)
	go func() {
		statsRuleHits.Collect(ch)
		close(ch)
	}()
	hits := make(map[ruleHitKey]uint64)
	for m := range ch {
		dm := &dto.Metric{}
		if err := m.Write(dm); err != nil || dm.Counter == nil {
			mainLog.Load().Debug().Err(err).Msg("failed to read filter hits")
			continue
		}
		var k ruleHitKey
		for _, lp := range dm.GetLabel() {
			switch lp.GetName() {
			case metricsLabelChain:
				k.chain = lp.GetValue()
			case metricsLabelFilter:
				k.filter = lp.GetValue()
			case metricsLabelPattern:
				k.pattern = lp.GetValue()
			}
		}
		hits[k] = uint64(dm.Counter.GetValue())
	}
	return hits
}

// ruleHits returns the hit counts of filters, as of the time it is called.
func ruleHits() func(chain string, e filter.Entry) (uint64, bool) {
	hits := collectRuleHits()
	return func(chain string, e filter.Entry) (uint64, bool) {
		return hits[ruleHitKey{chain: chain, filter: e.Key, pattern: e.Rule.Pattern()}], true
	}
}

func postOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func jsonResponse(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}
