package stats

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "flightpath"

// Collector exports the counters of a Stats instance to Prometheus
type Collector struct {
	stats *Stats

	proxyRequests     *prometheus.Desc
	upstreamErrors    *prometheus.Desc
	truncations       *prometheus.Desc
	cacheHits         *prometheus.Desc
	tokenExchanges    *prometheus.Desc
	trajectoriesBuilt *prometheus.Desc
	positionsResolved *prometheus.Desc
	uptime            *prometheus.Desc
}

// NewCollector creates a collector reading from s
func NewCollector(s *Stats) *Collector {
	desc := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, labels, nil)
	}
	return &Collector{
		stats:             s,
		proxyRequests:     desc("proxy_requests_total", "Requests received by the flight data proxy."),
		upstreamErrors:    desc("upstream_errors_total", "Upstream calls that failed or returned an error status."),
		truncations:       desc("track_truncations_total", "Responses whose track path was truncated."),
		cacheHits:         desc("response_cache_hits_total", "Proxy responses served from the cache."),
		tokenExchanges:    desc("token_exchanges_total", "Client-credentials token exchanges by result.", "result"),
		trajectoriesBuilt: desc("trajectories_built_total", "Trajectories reconstructed."),
		positionsResolved: desc("positions_resolved_total", "Aircraft positions resolved."),
		uptime:            desc("uptime_seconds", "Seconds since the process started."),
	}
}

// Describe implements prometheus.Collector
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.proxyRequests
	ch <- c.upstreamErrors
	ch <- c.truncations
	ch <- c.cacheHits
	ch <- c.tokenExchanges
	ch <- c.trajectoriesBuilt
	ch <- c.positionsResolved
	ch <- c.uptime
}

// Collect implements prometheus.Collector
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	snap := c.stats.Snapshot()

	counter := func(d *prometheus.Desc, v uint64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v), labels...)
	}
	counter(c.proxyRequests, snap.ProxyRequests)
	counter(c.upstreamErrors, snap.UpstreamErrors)
	counter(c.truncations, snap.Truncations)
	counter(c.cacheHits, snap.CacheHits)
	counter(c.tokenExchanges, snap.TokenExchanges, "success")
	counter(c.tokenExchanges, snap.TokenFailures, "failure")
	counter(c.trajectoriesBuilt, snap.TrajectoriesBuilt)
	counter(c.positionsResolved, snap.PositionsResolved)
	ch <- prometheus.MustNewConstMetric(c.uptime, prometheus.GaugeValue, snap.Uptime.Seconds())
}

// Register adds a collector for s to reg
func Register(reg prometheus.Registerer, s *Stats) error {
	return reg.Register(NewCollector(s))
}
