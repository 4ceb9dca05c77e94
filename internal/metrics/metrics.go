package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatbot_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatbot_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	TokensConsumedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chatbot_tokens_consumed_total",
			Help: "Total number of completion tokens charged to users.",
		},
	)

	QueriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chatbot_queries_total",
			Help: "Total number of completion requests charged to users.",
		},
	)

	GlobalUsedTokens = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chatbot_global_used_tokens",
			Help: "Tokens used in the current billing month, as last written by this process.",
		},
	)

	QuotaDenialsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatbot_quota_denials_total",
			Help: "Requests refused before reaching the LLM backend.",
		},
		[]string{"reason"}, // rate_limit, global, user
	)

	QuotaErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatbot_quota_errors_total",
			Help: "Quota store failures by operation.",
		},
		[]string{"operation"},
	)

	RateLimitActivationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chatbot_rate_limit_activations_total",
			Help: "Number of times a rate-limit window was started.",
		},
	)

	SweepDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chatbot_quota_sweep_duration_seconds",
			Help:    "Duration of one cooldown sweep.",
			Buckets: prometheus.DefBuckets,
		},
	)

	ExpiredRecordsPurgedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chatbot_usage_records_purged_total",
			Help: "Expired per-user usage records deleted by the sweep.",
		},
	)

	LLMRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chatbot_llm_request_duration_seconds",
			Help:    "Completion request latency by outcome.",
			Buckets: []float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"status"},
	)

	XMPPMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatbot_xmpp_messages_total",
			Help: "Chat messages crossing the XMPP bridge by direction and result.",
		},
		[]string{"direction", "result"},
	)

	TaskRestartsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chatbot_task_restarts_total",
			Help: "Restarts of supervised background tasks.",
		},
		[]string{"task"},
	)
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		TokensConsumedTotal,
		QueriesTotal,
		GlobalUsedTokens,
		QuotaDenialsTotal,
		QuotaErrorsTotal,
		RateLimitActivationsTotal,
		SweepDuration,
		ExpiredRecordsPurgedTotal,
		LLMRequestDuration,
		XMPPMessagesTotal,
		TaskRestartsTotal,
	)
}
