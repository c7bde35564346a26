// Package metrics exposes session and runtime process metrics through
// Prometheus collectors registered on a caller-supplied registry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Event directions for BridgeEvent.
const (
	Inbound  = "inbound"
	Outbound = "outbound"
)

// Collector groups the scripthost metrics. A nil *Collector is valid and
// records nothing.
type Collector struct {
	sessionsStarted prometheus.Counter
	spawnFailures   prometheus.Counter
	scriptErrors    prometheus.Counter
	bridgeEvents    *prometheus.CounterVec
	running         prometheus.Gauge
	childRSS        prometheus.Gauge
	childCPU        prometheus.Gauge
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		sessionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scripthost_sessions_started_total",
			Help: "Main script sessions started",
		}),
		spawnFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scripthost_spawn_failures_total",
			Help: "Runtime processes that could not be spawned",
		}),
		scriptErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scripthost_script_errors_total",
			Help: "childScriptError events reported by the runtime",
		}),
		bridgeEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scripthost_bridge_events_total",
			Help: "Event channel messages by direction and event name",
		}, []string{"direction", "event"}),
		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scripthost_main_script_running",
			Help: "1 while the main script process exists",
		}),
		childRSS: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scripthost_child_rss_bytes",
			Help: "Resident set size of the runtime process",
		}),
		childCPU: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scripthost_child_cpu_percent",
			Help: "CPU usage of the runtime process",
		}),
	}

	for _, col := range []prometheus.Collector{
		c.sessionsStarted, c.spawnFailures, c.scriptErrors, c.bridgeEvents,
		c.running, c.childRSS, c.childCPU,
	} {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Collector) SessionStarted() {
	if c == nil {
		return
	}
	c.sessionsStarted.Inc()
}

func (c *Collector) SpawnFailed() {
	if c == nil {
		return
	}
	c.spawnFailures.Inc()
}

func (c *Collector) ScriptError() {
	if c == nil {
		return
	}
	c.scriptErrors.Inc()
}

// BridgeEvent counts one event channel message.
func (c *Collector) BridgeEvent(direction, event string) {
	if c == nil {
		return
	}
	c.bridgeEvents.WithLabelValues(direction, event).Inc()
}

// SetRunning mirrors the running flag. Clearing it also resets the process
// resource gauges.
func (c *Collector) SetRunning(running bool) {
	if c == nil {
		return
	}
	if running {
		c.running.Set(1)
		return
	}
	c.running.Set(0)
	c.childRSS.Set(0)
	c.childCPU.Set(0)
}

// ObserveProcess records a resource sample of the runtime process.
func (c *Collector) ObserveProcess(rss uint64, cpuPercent float64) {
	if c == nil {
		return
	}
	c.childRSS.Set(float64(rss))
	c.childCPU.Set(cpuPercent)
}
