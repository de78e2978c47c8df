package cli

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Control-D-Inc/domainfilter/internal/conntrack"
	"github.com/Control-D-Inc/domainfilter/internal/filter"
)

const (
	metricsLabelChain   = "chain"
	metricsLabelVerdict = "verdict"
	metricsLabelMatched = "matched"
	metricsLabelFilter  = "filter"
	metricsLabelPattern = "pattern"
)

// statsVersion represent domainfilter version.
var statsVersion = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "domainfilter_build_info",
	Help: "Version of domainfilter process.",
}, []string{"gitref", "goversion", "version"})

// statsTimeStart represents start time of domainfilter service.
var statsTimeStart = prometheus.NewGauge(prometheus.GaugeOpts{
	Name: "domainfilter_time_seconds",
	Help: "Start time of the domainfilter process since unix epoch in seconds.",
})

// statsEvaluationsCount counts total number of evaluations.
var statsEvaluationsCount = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "domainfilter_evaluations_count",
	Help: "Total number of evaluations.",
}, []string{metricsLabelChain, metricsLabelVerdict, metricsLabelMatched})

// statsCachedEvaluationsCount counts evaluations answered by the verdict cache.
var statsCachedEvaluationsCount = prometheus.NewCounter(prometheus.CounterOpts{
	Name: "domainfilter_cached_evaluations_count",
	Help: "Total number of evaluations answered from the verdict cache.",
})

// statsRuleHits counts matches of each filter.
var statsRuleHits = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "domainfilter_rule_hits_count",
	Help: "Total number of matches of a filter.",
}, []string{metricsLabelChain, metricsLabelFilter, metricsLabelPattern})

// newTrackedConnsGauge reports the number of connections in table.
func newTrackedConnsGauge(table *conntrack.Table) prometheus.GaugeFunc {
	return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "domainfilter_tracked_connections",
		Help: "Number of connections with a known domain.",
	}, func() float64 {
		return float64(table.Len())
	})
}

// observeResult records res in the prometheus counters.
func observeResult(res *filter.MatchResult) {
	statsEvaluationsCount.WithLabelValues(res.Chain, string(res.Verdict), strconv.FormatBool(res.Matched)).Inc()
	if res.Cached {
		statsCachedEvaluationsCount.Inc()
	}
	if res.Matched {
		statsRuleHits.WithLabelValues(res.Chain, res.RuleKey, res.MatchedRule).Inc()
	}
}
