// Package metrics exposes Prometheus instrumentation for extraction,
// relationship discovery and validation runs.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/brunobiangulo/papergraph/llm"
	"github.com/brunobiangulo/papergraph/report"
)

// Namespace prefixes every metric name.
const Namespace = "papergraph"

// Metrics holds the collectors for one registry.
type Metrics struct {
	// Validation
	RecordsValidatedTotal  *prometheus.CounterVec
	IssuesTotal            *prometheus.CounterVec
	FlaggedForReview       prometheus.Gauge
	ValidationRunsTotal    prometheus.Counter
	RelationshipConfidence prometheus.Histogram

	// Model calls
	LLMCallsTotal     *prometheus.CounterVec
	LLMLatencySeconds *prometheus.HistogramVec
	LLMTokensTotal    *prometheus.CounterVec

	// Pipeline
	ItemsProcessedTotal *prometheus.CounterVec
	PriorConfidence     prometheus.Histogram
}

// Default registers metrics with prometheus.DefaultRegisterer.
func Default() *Metrics {
	return New(prometheus.DefaultRegisterer)
}

// New creates and registers metrics with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	confidenceBuckets := prometheus.LinearBuckets(0.1, 0.1, 10)

	return &Metrics{
		RecordsValidatedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "records_validated_total",
				Help:      "Records checked by the consistency validator",
			},
			[]string{"record_type", "verdict"},
		),
		IssuesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "validation_issues_total",
				Help:      "Validation issues raised per rule",
			},
			[]string{"record_type", "rule", "severity"},
		),
		FlaggedForReview: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Name:      "relationships_flagged_for_review",
				Help:      "Relationships flagged for review in the last validation run",
			},
		),
		ValidationRunsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "validation_runs_total",
				Help:      "Completed validation runs",
			},
		),
		RelationshipConfidence: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Name:      "relationship_confidence",
				Help:      "Stored confidence of validated relationships",
				Buckets:   confidenceBuckets,
			},
		),

		LLMCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "llm_calls_total",
				Help:      "Model calls per pipeline stage",
			},
			[]string{"stage", "operation", "status"},
		),
		LLMLatencySeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Name:      "llm_latency_seconds",
				Help:      "Model call latency",
				Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30, 60, 120},
			},
			[]string{"stage", "operation"},
		),
		LLMTokensTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "llm_tokens_total",
				Help:      "Tokens reported by chat responses",
			},
			[]string{"stage", "direction"},
		),

		ItemsProcessedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "items_processed_total",
				Help:      "Papers or pairs processed per stage",
			},
			[]string{"stage", "status"},
		),
		PriorConfidence: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Name:      "prior_confidence",
				Help:      "Concept-overlap priors computed for candidate pairs",
				Buckets:   confidenceBuckets,
			},
		),
	}
}

// ObserveReport records the outcome of a validation run. Records dropped
// by report.Options.OnlyIssues have no issues, so only their verdict
// counts are lost; the flagged gauge uses the summary.
func (m *Metrics) ObserveReport(rep *report.Report) {
	if m == nil || rep == nil {
		return
	}
	m.ValidationRunsTotal.Inc()
	m.FlaggedForReview.Set(float64(rep.RelationshipSummary.Flagged))

	for _, e := range rep.Entities {
		m.RecordsValidatedTotal.WithLabelValues("entity", verdict(e.IsValid)).Inc()
		for _, is := range e.Issues {
			m.IssuesTotal.WithLabelValues("entity", is.Rule, string(is.Severity)).Inc()
		}
	}
	for _, r := range rep.Relationships {
		m.RecordsValidatedTotal.WithLabelValues("relationship", verdict(r.IsValid)).Inc()
		m.RelationshipConfidence.Observe(r.Confidence)
		for _, is := range r.Issues {
			m.IssuesTotal.WithLabelValues("relationship", is.Rule, string(is.Severity)).Inc()
		}
	}
}

// RecordItem counts one processed paper or pair.
func (m *Metrics) RecordItem(stage string, err error) {
	if m == nil {
		return
	}
	m.ItemsProcessedTotal.WithLabelValues(stage, status(err)).Inc()
}

// RecordPrior observes a computed concept-overlap prior.
func (m *Metrics) RecordPrior(prior float64) {
	if m == nil {
		return
	}
	m.PriorConfidence.Observe(prior)
}

func verdict(valid bool) string {
	if valid {
		return "valid"
	}
	return "invalid"
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

type instrumented struct {
	next  llm.Provider
	stage string
	m     *Metrics
}

// Instrument wraps p so every call is counted and timed under stage. A nil
// Metrics returns p unchanged.
func Instrument(p llm.Provider, stage string, m *Metrics) llm.Provider {
	if m == nil {
		return p
	}
	return &instrumented{next: p, stage: stage, m: m}
}

func (i *instrumented) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	start := time.Now()
	resp, err := i.next.Chat(ctx, req)
	i.observe("chat", start, err)
	if resp != nil {
		i.m.LLMTokensTotal.WithLabelValues(i.stage, "input").Add(float64(resp.Usage.InputTokens))
		i.m.LLMTokensTotal.WithLabelValues(i.stage, "output").Add(float64(resp.Usage.OutputTokens))
	}
	return resp, err
}

func (i *instrumented) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	start := time.Now()
	out, err := i.next.Embed(ctx, texts)
	i.observe("embed", start, err)
	return out, err
}

func (i *instrumented) observe(op string, start time.Time, err error) {
	i.m.LLMCallsTotal.WithLabelValues(i.stage, op, status(err)).Inc()
	i.m.LLMLatencySeconds.WithLabelValues(i.stage, op).Observe(time.Since(start).Seconds())
}
