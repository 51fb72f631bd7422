package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shuliakovsky/rpc-failover/pkg/consensus"
)

var (
	TotalNodes = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "rpcf_nodes_total", Help: "Probed nodes per network"},
		[]string{"network"},
	)
	RankedNodes = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "rpcf_nodes_ranked", Help: "Nodes in the ranked pool per network"},
		[]string{"network"},
	)
	RangeCount = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "rpcf_consensus_range_count", Help: "Nodes inside the consensus height range"},
		[]string{"network"},
	)
	ProbeTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "rpcf_probe_total", Help: "Health probes by outcome"},
		[]string{"network", "outcome"},
	)
	ProbeLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rpcf_probe_duration_seconds",
			Help:    "Health probe duration",
			Buckets: []float64{.05, .1, .25, .5, 1, 2, 5, 10},
		},
		[]string{"network"},
	)
	ProxySuccess = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "rpcf_proxy_success_total", Help: "Successful routed calls"},
		[]string{"network"},
	)
	ProxyFail = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "rpcf_proxy_fail_total", Help: "Failed routed calls by error kind"},
		[]string{"network", "kind"},
	)
	Failovers = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "rpcf_failover_total", Help: "Nodes dropped from the pool after a transport failure"},
		[]string{"network"},
	)
	WSConnected = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "ws_connected_total", Help: "Total WebSocket event stream connections"},
		[]string{"network"},
	)
	WSError = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "ws_errors_total", Help: "WebSocket errors"},
		[]string{"network"},
	)
)

var initOnce sync.Once

func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(TotalNodes, RankedNodes, RangeCount, ProbeTotal, ProbeLatency)
		prometheus.MustRegister(ProxySuccess, ProxyFail, Failovers)
		prometheus.MustRegister(WSConnected, WSError)
	})
}

func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveProbe records one probe; an empty kind means success.
func ObserveProbe(network, kind string, d time.Duration) {
	if kind == "" {
		kind = "ok"
	}
	ProbeTotal.WithLabelValues(network, kind).Inc()
	ProbeLatency.WithLabelValues(network).Observe(d.Seconds())
}

func RecordCycle(network string, probed, ranked int, rng *consensus.Range) {
	TotalNodes.WithLabelValues(network).Set(float64(probed))
	RankedNodes.WithLabelValues(network).Set(float64(ranked))
	if rng != nil {
		RangeCount.WithLabelValues(network).Set(float64(rng.Count))
	} else {
		RangeCount.WithLabelValues(network).Set(0)
	}
}
