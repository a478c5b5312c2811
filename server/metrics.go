package server

import (
	"fmt"

	"github.com/cyclopcam/labeler/pkg/event"
	"github.com/cyclopcam/labeler/pkg/session"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts what the labeling sessions do.
// It listens to the events of every document.
type Metrics struct {
	OpenDocuments        prometheus.Gauge
	Saves                prometheus.Counter
	SaveFailures         prometheus.Counter
	Predictions          prometheus.Counter
	PredictionFailures   prometheus.Counter
	PredictedLabels      prometheus.Counter
	SkippedPredictions   prometheus.Counter
	DuplicatePredictions prometheus.Counter
	ClassChanges         prometheus.Counter
}

// NewMetrics creates the metrics and registers them with registry
func NewMetrics(registry *prometheus.Registry) (*Metrics, error) {
	m := &Metrics{
		OpenDocuments: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "labeler_open_documents",
			Help: "Number of open labeling sessions.",
		}),
		Saves: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "labeler_saves_total",
			Help: "Total number of label files written.",
		}),
		SaveFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "labeler_save_failures_total",
			Help: "Total number of failed saves.",
		}),
		Predictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "labeler_predictions_total",
			Help: "Total number of finished predictions.",
		}),
		PredictionFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "labeler_prediction_failures_total",
			Help: "Total number of predictions that failed or were discarded.",
		}),
		PredictedLabels: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "labeler_predicted_labels_total",
			Help: "Total number of labels added by predictions.",
		}),
		SkippedPredictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "labeler_skipped_predictions_total",
			Help: "Total number of predictions dropped because their label is not a class.",
		}),
		DuplicatePredictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "labeler_duplicate_predictions_total",
			Help: "Total number of predictions dropped because they duplicate an existing label.",
		}),
		ClassChanges: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "labeler_class_changes_total",
			Help: "Total number of class registry events seen by open documents.",
		}),
	}
	for _, c := range []prometheus.Collector{
		m.OpenDocuments, m.Saves, m.SaveFailures,
		m.Predictions, m.PredictionFailures, m.PredictedLabels,
		m.SkippedPredictions, m.DuplicatePredictions, m.ClassChanges,
	} {
		if err := registry.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register labeler metrics: %w", err)
		}
	}
	return m, nil
}

func (m *Metrics) OnEvent(sender *event.Sender, ev any) {
	sev, ok := ev.(session.Event)
	if !ok {
		return
	}
	switch sev.Kind {
	case session.EventSaved:
		m.Saves.Inc()
	case session.EventClassesChanged:
		m.ClassChanges.Inc()
	case session.EventPredictionFinished:
		m.Predictions.Inc()
		if p := sev.Prediction; p != nil {
			if p.Err != nil {
				m.PredictionFailures.Inc()
			}
			m.PredictedLabels.Add(float64(p.Added))
			m.SkippedPredictions.Add(float64(p.Skipped))
			m.DuplicatePredictions.Add(float64(p.Duplicates))
		}
	}
}
