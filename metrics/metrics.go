// metrics/metrics.go
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector bundles the pipeline's Prometheus metrics. A nil *Collector is
// valid and records nothing.
type Collector struct {
	Downloads         *prometheus.CounterVec
	FeaturesExtracted *prometheus.CounterVec
	DuplicatesDropped *prometheus.CounterVec
	FeaturesPublished *prometheus.CounterVec
	RunDuration       prometheus.Histogram
	LastSuccessfulRun prometheus.Gauge
	RunsTotal         *prometheus.CounterVec
}

// New registers the pipeline metrics against reg, defaulting to the global
// registry when nil. Re-registering returns the already registered collectors.
func New(reg prometheus.Registerer) (*Collector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	c := &Collector{}
	var err error

	if c.Downloads, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "encwind_chart_downloads_total",
		Help: "Chart archive downloads, labeled by status (success, failed).",
	}, []string{"status"})); err != nil {
		return nil, err
	}
	if c.FeaturesExtracted, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "encwind_features_extracted_total",
		Help: "Features that passed the filter, labeled by feature class.",
	}, []string{"feature_class"})); err != nil {
		return nil, err
	}
	if c.DuplicatesDropped, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "encwind_duplicates_dropped_total",
		Help: "Duplicate features removed before publishing, labeled by feature class.",
	}, []string{"feature_class"})); err != nil {
		return nil, err
	}
	if c.FeaturesPublished, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "encwind_features_published_total",
		Help: "Features sent to the hosted layer, labeled by feature class and result (added, failed).",
	}, []string{"feature_class", "result"})); err != nil {
		return nil, err
	}
	if c.RunsTotal, err = registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "encwind_runs_total",
		Help: "Workflow runs, labeled by outcome (completed, failed, panicked).",
	}, []string{"outcome"})); err != nil {
		return nil, err
	}

	hist := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "encwind_run_duration_seconds",
		Help:    "Wall time of a full workflow run.",
		Buckets: []float64{10, 30, 60, 120, 300, 600, 1200, 1800, 3600},
	})
	if err := reg.Register(hist); err != nil {
		var are prometheus.AlreadyRegisteredError
		if !errors.As(err, &are) {
			return nil, err
		}
		hist = are.ExistingCollector.(prometheus.Histogram)
	}
	c.RunDuration = hist

	gauge := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "encwind_last_successful_run_timestamp_seconds",
		Help: "Unix time of the last run that completed.",
	})
	if err := reg.Register(gauge); err != nil {
		var are prometheus.AlreadyRegisteredError
		if !errors.As(err, &are) {
			return nil, err
		}
		gauge = are.ExistingCollector.(prometheus.Gauge)
	}
	c.LastSuccessfulRun = gauge

	return c, nil
}

func registerCounterVec(reg prometheus.Registerer, cv *prometheus.CounterVec) (*prometheus.CounterVec, error) {
	if err := reg.Register(cv); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
		}
		return nil, err
	}
	return cv, nil
}

func (c *Collector) ObserveDownload(success bool) {
	if c == nil {
		return
	}
	status := "success"
	if !success {
		status = "failed"
	}
	c.Downloads.WithLabelValues(status).Inc()
}

func (c *Collector) ObserveExtracted(featureClass string, n int) {
	if c == nil || n == 0 {
		return
	}
	c.FeaturesExtracted.WithLabelValues(featureClass).Add(float64(n))
}

func (c *Collector) ObserveDuplicates(featureClass string, n int) {
	if c == nil || n == 0 {
		return
	}
	c.DuplicatesDropped.WithLabelValues(featureClass).Add(float64(n))
}

func (c *Collector) ObservePublished(featureClass string, added, failed int) {
	if c == nil {
		return
	}
	c.FeaturesPublished.WithLabelValues(featureClass, "added").Add(float64(added))
	c.FeaturesPublished.WithLabelValues(featureClass, "failed").Add(float64(failed))
}

const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
	OutcomePanicked  = "panicked"
)

// ObserveRun records a finished run. Only completed runs move the
// last-success timestamp.
func (c *Collector) ObserveRun(start time.Time, outcome string) {
	if c == nil {
		return
	}
	c.RunDuration.Observe(time.Since(start).Seconds())
	c.RunsTotal.WithLabelValues(outcome).Inc()
	if outcome == OutcomeCompleted {
		c.LastSuccessfulRun.SetToCurrentTime()
	}
}
