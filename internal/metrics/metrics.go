package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "agentdeck"

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	agentStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "agent",
			Name:      "starts_total",
			Help:      "Number of successful agent starts.",
		}, []string{"agent"},
	)
	agentStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "agent",
			Name:      "stops_total",
			Help:      "Number of completed stops.",
		}, []string{"agent"},
	)
	spawnFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "agent",
			Name:      "spawn_failures_total",
			Help:      "Number of starts that failed to launch a process.",
		}, []string{"agent"},
	)
	teardownFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "agent",
			Name:      "teardown_step_failures_total",
			Help:      "Best-effort stop steps that failed, by step.",
		}, []string{"step"},
	)
	sweepKills = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "agent",
			Name:      "sweep_kills_total",
			Help:      "Processes killed by the stop sweep.",
		},
	)
	reportRejections = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "agent",
			Name:      "report_rejections_total",
			Help:      "Heartbeats whose ONLINE status was overridden by a persisted OFFLINE.",
		},
	)
	agentRunning = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "agent",
			Name:      "running",
			Help:      "1 while the supervisor believes the agent is running.",
		}, []string{"agent"},
	)
	agentCPU = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "agent",
			Name:      "cpu_percent",
			Help:      "Last sampled CPU usage of the agent process.",
		}, []string{"agent"},
	)
	agentRSS = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "agent",
			Name:      "memory_rss_bytes",
			Help:      "Last sampled resident memory of the agent process.",
		}, []string{"agent"},
	)
	sandboxRejections = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "workspace",
			Name:      "sandbox_rejections_total",
			Help:      "Paths rejected for escaping an agent root.",
		},
	)
	uploadFiles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "workspace",
			Name:      "upload_files_total",
			Help:      "Uploaded files by result.",
		}, []string{"result"},
	)
)

func collectors() []prometheus.Collector {
	return []prometheus.Collector{agentStarts, agentStops, spawnFailures, teardownFailures, sweepKills,
		reportRejections, agentRunning, agentCPU, agentRSS, sandboxRejections, uploadFiles}
}

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	for _, c := range collectors() {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler serves the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// HandlerFor serves a specific gatherer.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// The helpers below no-op until Register has been called.

func IncStart(agentID string) {
	if regOK.Load() {
		agentStarts.WithLabelValues(agentID).Inc()
		agentRunning.WithLabelValues(agentID).Set(1)
	}
}

func IncStop(agentID string) {
	if regOK.Load() {
		agentStops.WithLabelValues(agentID).Inc()
		agentRunning.WithLabelValues(agentID).Set(0)
	}
}

func IncSpawnFailure(agentID string) {
	if regOK.Load() {
		spawnFailures.WithLabelValues(agentID).Inc()
	}
}

func IncTeardownFailure(step string) {
	if regOK.Load() {
		teardownFailures.WithLabelValues(step).Inc()
	}
}

func AddSweepKills(n int) {
	if regOK.Load() && n > 0 {
		sweepKills.Add(float64(n))
	}
}

func IncReportRejection() {
	if regOK.Load() {
		reportRejections.Inc()
	}
}

func IncSandboxRejection() {
	if regOK.Load() {
		sandboxRejections.Inc()
	}
}

func AddUploadFiles(written, failed int) {
	if !regOK.Load() {
		return
	}
	if written > 0 {
		uploadFiles.WithLabelValues("written").Add(float64(written))
	}
	if failed > 0 {
		uploadFiles.WithLabelValues("failed").Add(float64(failed))
	}
}

func SetResources(agentID string, s ResourceSample) {
	if regOK.Load() {
		agentCPU.WithLabelValues(agentID).Set(s.CPUPercent)
		agentRSS.WithLabelValues(agentID).Set(float64(s.MemoryRSS))
	}
}

// Forget drops per-agent series once an agent record is deleted.
func Forget(agentID string) {
	if regOK.Load() {
		agentStarts.DeleteLabelValues(agentID)
		agentStops.DeleteLabelValues(agentID)
		spawnFailures.DeleteLabelValues(agentID)
		agentRunning.DeleteLabelValues(agentID)
		agentCPU.DeleteLabelValues(agentID)
		agentRSS.DeleteLabelValues(agentID)
	}
}
