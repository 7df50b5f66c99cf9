package metrics

import (
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

const namespace = "norc"

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	admissions    *prom.CounterVec
	running       *prom.GaugeVec
	batchDuration *prom.HistogramVec
	transitions   *prom.CounterVec
	interrupts    *prom.CounterVec
}

// NewPrometheusRecorder constructs the norc series and registers them on reg.
// A nil reg gets a fresh registry.
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{
		admissions: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "admissions_total",
			Help:      "Candidates offered to the daemon by backend, task type and result",
		}, []string{"backend", "task_type", "result"}),
		running: prom.NewGaugeVec(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "running_tasks",
			Help:      "Tasks the backend reported as running at the last poll",
		}, []string{"backend"}),
		batchDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_duration_seconds",
			Help:      "Duration of one admission batch",
			Buckets:   prom.DefBuckets,
		}, []string{"backend"}),
		transitions: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "lifecycle_transitions_total",
			Help:      "Daemon status transitions written by the engine",
		}, []string{"from", "to"}),
		interrupts: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "interrupts_total",
			Help:      "Interrupt calls issued during kill sweeps by result",
		}, []string{"backend", "result"}),
	}
	reg.MustRegister(pr.admissions, pr.running, pr.batchDuration, pr.transitions, pr.interrupts)
	return pr
}

func (p *PrometheusRecorder) IncAdmission(backend, taskType string, result AdmissionResult) {
	if p == nil {
		return
	}
	p.admissions.WithLabelValues(backend, taskType, string(result)).Inc()
}

func (p *PrometheusRecorder) SetRunningTasks(backend string, n int) {
	if p == nil {
		return
	}
	p.running.WithLabelValues(backend).Set(float64(n))
}

func (p *PrometheusRecorder) ObserveBatchDuration(backend string, d time.Duration) {
	if p == nil {
		return
	}
	p.batchDuration.WithLabelValues(backend).Observe(d.Seconds())
}

func (p *PrometheusRecorder) IncTransition(from, to string) {
	if p == nil {
		return
	}
	p.transitions.WithLabelValues(from, to).Inc()
}

func (p *PrometheusRecorder) IncInterrupt(backend string, success bool) {
	if p == nil {
		return
	}
	res := "failed"
	if success {
		res = "success"
	}
	p.interrupts.WithLabelValues(backend, res).Inc()
}
