package main

import (
	"net/http"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/go-kit/kit/metrics/prometheus"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/go-lattice/lattice/engine"
	"github.com/go-lattice/lattice/node"
)

type LatticeMetrics struct {
	Node   *node.Metrics
	Engine *engine.Metrics
}

func NewLatticeMetrics(prometheusAddr string) *LatticeMetrics {

	m := &LatticeMetrics{}

	if prometheusAddr == "" {
		m.Node = node.DiscardMetrics()
		m.Engine = engine.DiscardMetrics()
		return m
	}

	m.Node = &node.Metrics{
		LocalCommits: prometheus.NewCounterFrom(prom.CounterOpts{
			Namespace: "lattice",
			Subsystem: "node",
			Name:      "local_commits_total",
			Help:      "Number of coordination-free local commits",
		}, nil),
		CoordCommits: prometheus.NewCounterFrom(prom.CounterOpts{
			Namespace: "lattice",
			Subsystem: "node",
			Name:      "coordinated_commits_total",
			Help:      "Number of commits that went through the coordinator",
		}, nil),
		Aborts: prometheus.NewCounterFrom(prom.CounterOpts{
			Namespace: "lattice",
			Subsystem: "node",
			Name:      "aborts_total",
			Help:      "Number of aborted transactions",
		}, nil),
	}

	m.Engine = &engine.Metrics{
		MergesApplied: prometheus.NewCounterFrom(prom.CounterOpts{
			Namespace: "lattice",
			Subsystem: "engine",
			Name:      "merges_applied_total",
			Help:      "Number of concurrent updates merged algebraically",
		}, nil),
		UpdatesDiscarded: prometheus.NewCounterFrom(prom.CounterOpts{
			Namespace: "lattice",
			Subsystem: "engine",
			Name:      "updates_discarded_total",
			Help:      "Number of stale or duplicate updates discarded",
		}, nil),
		UpdatesSuperseded: prometheus.NewCounterFrom(prom.CounterOpts{
			Namespace: "lattice",
			Subsystem: "engine",
			Name:      "updates_superseded_total",
			Help:      "Number of updates that dominated and replaced local state",
		}, nil),
		Conflicts: prometheus.NewCounterFrom(prom.CounterOpts{
			Namespace: "lattice",
			Subsystem: "engine",
			Name:      "conflicts_total",
			Help:      "Number of conflict records surfaced to the sink",
		}, nil),
	}

	return m
}

func runPromHTTP(logger log.Logger, addr string) {

	if addr == "" {
		level.Debug(logger).Log("msg", "prometheus addr is empty, not exposing prometheus metrics")
		return
	}

	http.Handle("/metrics", promhttp.HandlerFor(prom.DefaultGatherer, promhttp.HandlerOpts{}))

	level.Info(logger).Log("msg", "prometheus handler listening", "addr", addr)
	if err := http.ListenAndServe(addr, nil); err != nil {
		level.Warn(logger).Log("msg", "failed to serve prometheus metrics", "err", err)
	}
}
