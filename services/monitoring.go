package services

import (
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	appContext "github.com/alphabatem/common/context"
	"github.com/gofiber/fiber/v2"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const (
	MONITORING_SVC          = "monitoring_svc"
	SERVICE_NAME            = "adwatch_rewards"
	DEFAULT_PROMETHEUS_PORT = 2112
)

// HTTP Metrics
var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"endpoint", "method", "status"},
	)

	httpRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"endpoint", "method", "status"},
	)
)

// Engine Metrics
var (
	remoteCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "remote_ledger_calls_total",
			Help: "Remote ledger calls by operation and outcome",
		},
		[]string{"op", "outcome"},
	)

	rewardsGrantedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rewards_granted_total",
			Help: "Confirmed rewards applied to the ledger",
		},
	)

	rewardsGrantedAmount = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rewards_granted_amount_total",
			Help: "Sum of confirmed reward amounts",
		},
	)

	watchSessionsOpened = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "watch_sessions_opened_total",
			Help: "Watch sessions opened",
		},
	)

	watchSessionsClaimed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "watch_sessions_claimed_total",
			Help: "Watch sessions that reached a confirmed reward claim",
		},
	)
)

func observeRemoteCall(op string, outcome OutcomeStatus) {
	remoteCallsTotal.WithLabelValues(op, outcome.String()).Inc()
}

func observeRewardGranted(amount float64) {
	rewardsGrantedTotal.Inc()
	rewardsGrantedAmount.Add(amount)
}

func observeWatchSessionOpened() {
	watchSessionsOpened.Inc()
}

func observeWatchSessionClaimed() {
	watchSessionsClaimed.Inc()
}

type MonitoringService struct {
	appContext.DefaultService

	port     int
	registry *prometheus.Registry
	server   *http.Server
}

func (svc MonitoringService) Id() string {
	return MONITORING_SVC
}

func (svc *MonitoringService) Configure(ctx *appContext.Context) error {
	svc.port = DEFAULT_PROMETHEUS_PORT
	if raw := os.Getenv("PROMETHEUS_PORT"); raw != "" {
		if port, err := strconv.Atoi(raw); err == nil {
			svc.port = port
		}
	}

	svc.registry = prometheus.NewRegistry()
	svc.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		httpRequestsTotal,
		httpRequestDurationSeconds,
		remoteCallsTotal,
		rewardsGrantedTotal,
		rewardsGrantedAmount,
		watchSessionsOpened,
		watchSessionsClaimed,
	)

	return svc.DefaultService.Configure(ctx)
}

func (svc *MonitoringService) Start() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(svc.registry, promhttp.HandlerOpts{}))

	svc.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", svc.port),
		Handler: mux,
	}

	go func() {
		log.Info().Int("port", svc.port).Str("service", SERVICE_NAME).Msg("Prometheus metrics listening")
		if err := svc.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("Prometheus server stopped")
		}
	}()

	return nil
}

func (svc *MonitoringService) Shutdown() {
	if svc.server != nil {
		_ = svc.server.Close()
	}
}

// RequestMetrics is the fiber middleware recording per-endpoint counters and
// latency.
func (svc *MonitoringService) RequestMetrics() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		status := strconv.Itoa(c.Response().StatusCode())
		endpoint := c.Route().Path
		method := c.Method()

		httpRequestsTotal.WithLabelValues(endpoint, method, status).Inc()
		httpRequestDurationSeconds.WithLabelValues(endpoint, method, status).Observe(time.Since(start).Seconds())

		return err
	}
}
