// Package telemetry exposes Prometheus metrics for report runs.
package telemetry

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rewired-gh/adreport/internal/logger"
)

// Run results.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

type Recorder struct {
	registry    *prometheus.Registry
	runs        *prometheus.CounterVec
	stageErrors *prometheus.CounterVec
	duration    prometheus.Histogram
	lastSuccess prometheus.Gauge
	earnings    *prometheus.GaugeVec
}

func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "adreport",
			Name:      "runs_total",
			Help:      "Report pipeline runs by result.",
		}, []string{"result"}),
		stageErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "adreport",
			Name:      "stage_errors_total",
			Help:      "Pipeline failures by stage.",
		}, []string{"stage"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "adreport",
			Name:      "run_duration_seconds",
			Help:      "Duration of report pipeline runs.",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10),
		}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "adreport",
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful run.",
		}),
		earnings: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "adreport",
			Name:      "earnings",
			Help:      "Earnings reported by the last successful run.",
		}, []string{"period"}),
	}
	r.registry.MustRegister(r.runs, r.stageErrors, r.duration, r.lastSuccess, r.earnings)
	return r
}

// Registry returns the registry the recorder's collectors live in.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// ObserveRun records the outcome of one run.
func (r *Recorder) ObserveRun(result string, elapsed time.Duration, finishedAt time.Time) {
	r.runs.WithLabelValues(result).Inc()
	r.duration.Observe(elapsed.Seconds())
	if result == ResultSuccess {
		r.lastSuccess.Set(float64(finishedAt.Unix()))
	}
}

// ObserveStageError counts a failure in stage (fetch, transform, render, send).
func (r *Recorder) ObserveStageError(stage string) {
	r.stageErrors.WithLabelValues(stage).Inc()
}

// ObserveEarnings publishes the key earnings of a report.
func (r *Recorder) ObserveEarnings(today, yesterday, thisMonth float64) {
	r.earnings.WithLabelValues("today").Set(today)
	r.earnings.WithLabelValues("yesterday").Set(yesterday)
	r.earnings.WithLabelValues("this_month").Set(thisMonth)
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (r *Recorder) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Failed to shut down metrics server: %v", err)
		}
	}()

	logger.Info("Serving metrics on %s/metrics", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
