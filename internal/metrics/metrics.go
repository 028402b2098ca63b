package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Butterfly service metrics
var (
	// Analysis metrics
	AnalysesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "butterfly_analyses_total",
			Help: "Total number of causal analyses by outcome",
		},
		[]string{"status"}, // success, generation_error, parse_error, no_steps, invalid_input, aborted
	)

	AnalysisDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "butterfly_analysis_duration_seconds",
			Help:    "End-to-end analysis duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10), // 250ms to ~2min
		},
	)

	StepsGenerated = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "butterfly_steps_generated",
			Help:    "Number of step records returned by the model per analysis",
			Buckets: prometheus.LinearBuckets(0, 2, 8),
		},
	)

	StepsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "butterfly_steps_dropped_total",
			Help: "Total number of malformed step records dropped during verification",
		},
	)

	SourcesAttached = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "butterfly_sources_attached_total",
			Help: "Total number of sources attached to steps",
		},
		[]string{"origin"}, // model, search
	)

	// LLM metrics
	LLMRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "butterfly_llm_requests_total",
			Help: "Total number of LLM API requests",
		},
		[]string{"provider", "model", "status"},
	)

	LLMRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "butterfly_llm_request_duration_seconds",
			Help:    "LLM request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~1min
		},
		[]string{"provider", "model"},
	)

	LLMTokensUsed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "butterfly_llm_tokens_total",
			Help: "Total number of LLM tokens consumed",
		},
		[]string{"provider", "model", "type"}, // type: input/output
	)

	LLMRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "butterfly_llm_retries_total",
			Help: "Total number of LLM request retries",
		},
		[]string{"provider"},
	)

	// Search metrics
	SearchRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "butterfly_search_requests_total",
			Help: "Total number of web search requests",
		},
		[]string{"provider", "status"},
	)

	SearchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "butterfly_search_duration_seconds",
			Help:    "Web search request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
		},
		[]string{"provider"},
	)

	SearchFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "butterfly_search_failures_total",
			Help: "Total number of step verifications whose search failed",
		},
	)

	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "butterfly_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"path", "method", "code"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "butterfly_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path"},
	)

	RateLimitedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "butterfly_rate_limited_total",
			Help: "Total number of requests rejected by the rate limiter",
		},
	)

	// WebSocket metrics
	WebSocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "butterfly_websocket_connections",
			Help: "Current number of active WebSocket connections",
		},
	)

	WebSocketMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "butterfly_websocket_messages_total",
			Help: "Total number of WebSocket messages",
		},
		[]string{"direction"}, // direction: inbound/outbound
	)
)
