// Package metrics records deployment outcomes for Prometheus.
//
// popdeploy is a short-lived batch job, so metrics are pushed to a
// Pushgateway at the end of a run instead of being scraped.
package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

const namespace = "popdeploy"

const (
	// DefaultJob is the Pushgateway job name.
	DefaultJob = "popdeploy"

	// OutcomeSuccess labels successful deployments.
	OutcomeSuccess = "success"
)

// Recorder holds the deployment metrics on a private registry.
type Recorder struct {
	registry    *prometheus.Registry
	deployments *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	gasUsed     *prometheus.GaugeVec
	lastSuccess *prometheus.GaugeVec
}

// NewRecorder creates a Recorder with all collectors registered.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		deployments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deployments_total",
			Help:      "Contract deployments by network and outcome.",
		}, []string{"network", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "deployment_duration_seconds",
			Help:      "Time from connecting to the network until the deployment finished.",
			Buckets:   []float64{1, 2, 5, 10, 30, 60, 120, 300, 600},
		}, []string{"network"}),
		gasUsed: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "deployment_gas_used",
			Help:      "Gas used by the last confirmed deployment.",
		}, []string{"network"}),
		lastSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful deployment.",
		}, []string{"network"}),
	}

	r.registry.MustRegister(r.deployments, r.duration, r.gasUsed, r.lastSuccess)
	return r
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// ObserveDeployment records the outcome of one deployment.
// outcome is "success" or the failure kind.
func (r *Recorder) ObserveDeployment(network, outcome string, elapsed time.Duration) {
	r.deployments.WithLabelValues(network, outcome).Inc()
	r.duration.WithLabelValues(network).Observe(elapsed.Seconds())
	if outcome == OutcomeSuccess {
		r.lastSuccess.WithLabelValues(network).SetToCurrentTime()
	}
}

// ObserveGasUsed records gas consumed by a confirmed deployment.
func (r *Recorder) ObserveGasUsed(network string, gas uint64) {
	r.gasUsed.WithLabelValues(network).Set(float64(gas))
}

// Push sends all metrics to the Pushgateway at url, replacing the job's group.
func (r *Recorder) Push(ctx context.Context, url, job string) error {
	if job == "" {
		job = DefaultJob
	}
	if err := push.New(url, job).Gatherer(r.registry).PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics to %s: %w", url, err)
	}
	return nil
}
