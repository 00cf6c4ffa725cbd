package triage

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/linnemanlabs/prcopilot/internal/pr"
)

// Metrics holds Prometheus metrics for the triage subsystem.
type Metrics struct {
	WebhooksTotal        *prometheus.CounterVec
	ClassificationsTotal *prometheus.CounterVec
	ClassifyDuration     *prometheus.HistogramVec
	LLMCallsTotal        prometheus.Counter
	LLMTokensIn          prometheus.Counter
	LLMTokensOut         prometheus.Counter
	LLMDuration          prometheus.Histogram
	TasksTotal           *prometheus.CounterVec
	CommentPostsTotal    *prometheus.CounterVec
}

// NewMetrics registers and returns triage metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		WebhooksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "prcopilot_webhooks_total",
			Help: "Total webhook deliveries by event type and result.",
		}, []string{"event", "result"}),
		ClassificationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "prcopilot_classifications_total",
			Help: "Total classifications by source and category.",
		}, []string{"source", "category"}),
		ClassifyDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "prcopilot_classification_duration_seconds",
			Help:    "Duration of classification runs in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 0.1s .. ~51s
		}, []string{"source"}),
		LLMCallsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "prcopilot_llm_calls_total",
			Help: "Total LLM provider calls.",
		}),
		LLMTokensIn: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "prcopilot_llm_tokens_input_total",
			Help: "Total LLM input tokens consumed.",
		}),
		LLMTokensOut: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "prcopilot_llm_tokens_output_total",
			Help: "Total LLM output tokens consumed.",
		}),
		LLMDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "prcopilot_llm_call_duration_seconds",
			Help:    "Duration of individual LLM calls in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 8), // 0.5s .. ~64s
		}),
		TasksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "prcopilot_tasks_total",
			Help: "Total task executions by outcome (persisted, skipped, failed).",
		}, []string{"outcome"}),
		CommentPostsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "prcopilot_comment_posts_total",
			Help: "Total verdict comment posts by status.",
		}, []string{"status"}),
	}

	reg.MustRegister(
		m.WebhooksTotal,
		m.ClassificationsTotal,
		m.ClassifyDuration,
		m.LLMCallsTotal,
		m.LLMTokensIn,
		m.LLMTokensOut,
		m.LLMDuration,
		m.TasksTotal,
		m.CommentPostsTotal,
	)

	return m
}

// Hooks returns an EngineHooks that increments the corresponding metrics.
func (m *Metrics) Hooks() EngineHooks {
	return EngineHooks{
		OnLLMCall: func(inputTokens, outputTokens int, duration float64) {
			m.LLMCallsTotal.Inc()
			m.LLMTokensIn.Add(float64(inputTokens))
			m.LLMTokensOut.Add(float64(outputTokens))
			m.LLMDuration.Observe(duration)
		},
		OnClassify: func(source Source, category pr.Category, duration float64) {
			m.ClassificationsTotal.WithLabelValues(string(source), string(category)).Inc()
			m.ClassifyDuration.WithLabelValues(string(source)).Observe(duration)
		},
	}
}
