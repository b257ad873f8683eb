package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	MembersExtracted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mirror_members_extracted_total",
		Help: "Участники, прошедшие фильтр и отправленные в очередь",
	}, []string{"session"})
	MembersSkipped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mirror_members_skipped_total",
		Help: "Участники, пропущенные при извлечении",
	}, []string{"session", "reason"})
	DedupHits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mirror_dedup_hits_total",
		Help: "Пользователи, уже добавленные ранее",
	}, []string{"session"})
	BatchesSubmitted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mirror_batches_total",
		Help: "Попытки отправки пачек по статусу",
	}, []string{"session", "status"})
	UsersAdded = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mirror_users_added_total",
		Help: "Пользователи, добавленные в целевой чат",
	}, []string{"session"})
	RateLimitWait = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mirror_rate_limit_wait_seconds",
		Help:    "Ожидание после FLOOD_WAIT",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1800, 3600},
	}, []string{"session"})
	PipelineState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "mirror_pipeline_state",
		Help: "Текущее состояние конвейера сессии (1 для активного состояния)",
	}, []string{"session", "state"})

	NetworkRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "network_request_duration_seconds",
		Help:    "Длительность сетевых запросов",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 15, 20, 30, 45, 60, 90, 120},
	}, []string{"component", "operation", "target", "status"})

	NetworkRequestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "network_request_total",
		Help: "Количество сетевых запросов",
	}, []string{"component", "operation", "target", "status"})
)

// MustRegister регистрирует метрики.
func MustRegister(registerer prometheus.Registerer) {
	registerer.MustRegister(
		MembersExtracted,
		MembersSkipped,
		DedupHits,
		BatchesSubmitted,
		UsersAdded,
		RateLimitWait,
		PipelineState,
		NetworkRequestDuration,
		NetworkRequestTotal,
	)
}

// ObserveNetworkRequest записывает длительность и статус сетевого запроса.
func ObserveNetworkRequest(component, operation, target string, start time.Time, err error) {
	if component == "" {
		component = "unknown"
	}
	if operation == "" {
		operation = "unknown"
	}
	if target == "" {
		target = "unknown"
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	duration := time.Since(start).Seconds()
	NetworkRequestDuration.WithLabelValues(component, operation, target, status).Observe(duration)
	NetworkRequestTotal.WithLabelValues(component, operation, target, status).Inc()
}

var pipelineStates = []string{"idle", "extracting", "inserting", "draining", "done", "failed"}

// SetPipelineState выставляет 1 для текущего состояния сессии и 0 для остальных.
func SetPipelineState(session, state string) {
	for _, s := range pipelineStates {
		value := 0.0
		if s == state {
			value = 1
		}
		PipelineState.WithLabelValues(session, s).Set(value)
	}
}
