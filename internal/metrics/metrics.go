package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"
)

// Registry wraps the Prometheus collectors used by the chat server.
type Registry struct {
	reg *prometheus.Registry

	Connections connectionGauges
	Messages    messageCounters
	System      systemGauges
}

type connectionGauges struct {
	Active       prometheus.Gauge
	AuthFailures prometheus.Counter
	SlowDropped  prometheus.Counter
}

type messageCounters struct {
	Accepted            prometheus.Counter
	RejectedInvalid     prometheus.Counter
	RejectedUnavailable prometheus.Counter
	Delivered           prometheus.Counter
	HistoryRequests     prometheus.Counter
}

type systemGauges struct {
	CPUPercent      prometheus.Gauge
	MemoryUsedBytes prometheus.Gauge
}

// NewRegistry creates the Prometheus collectors on a private registry so
// multiple instances (tests) never collide on registration.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Registry{
		reg: reg,
		Connections: connectionGauges{
			Active: factory.NewGauge(prometheus.GaugeOpts{
				Name: "furia_chat_connections_active",
				Help: "Number of open authenticated chat connections",
			}),
			AuthFailures: factory.NewCounter(prometheus.CounterOpts{
				Name: "furia_chat_auth_failures_total",
				Help: "Total number of handshakes rejected for a bad token or origin",
			}),
			SlowDropped: factory.NewCounter(prometheus.CounterOpts{
				Name: "furia_chat_slow_disconnects_total",
				Help: "Total number of connections closed because their send queue filled",
			}),
		},
		Messages: messageCounters{
			Accepted: factory.NewCounter(prometheus.CounterOpts{
				Name: "furia_chat_messages_accepted_total",
				Help: "Total number of messages validated, persisted and broadcast",
			}),
			RejectedInvalid: factory.NewCounter(prometheus.CounterOpts{
				Name: "furia_chat_messages_rejected_invalid_total",
				Help: "Total number of messages rejected for empty or oversized fields",
			}),
			RejectedUnavailable: factory.NewCounter(prometheus.CounterOpts{
				Name: "furia_chat_messages_rejected_unavailable_total",
				Help: "Total number of messages rejected because the store was unreachable",
			}),
			Delivered: factory.NewCounter(prometheus.CounterOpts{
				Name: "furia_chat_messages_delivered_total",
				Help: "Total number of per-connection message deliveries",
			}),
			HistoryRequests: factory.NewCounter(prometheus.CounterOpts{
				Name: "furia_chat_history_requests_total",
				Help: "Total number of history replay requests served",
			}),
		},
		System: systemGauges{
			CPUPercent: factory.NewGauge(prometheus.GaugeOpts{
				Name: "furia_chat_cpu_percent",
				Help: "Host CPU utilization sampled via gopsutil",
			}),
			MemoryUsedBytes: factory.NewGauge(prometheus.GaugeOpts{
				Name: "furia_chat_memory_used_bytes",
				Help: "Host memory in use sampled via gopsutil",
			}),
		},
	}
}

// Handler returns an HTTP handler exposing the registry's metrics.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// StartSystemSampler periodically refreshes the CPU and memory gauges until
// the context is cancelled. Sampling failures are logged and skipped; they
// never affect chat traffic.
func (r *Registry) StartSystemSampler(ctx context.Context, interval time.Duration, logger *zap.Logger) {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.sample(logger)
			}
		}
	}()
}

func (r *Registry) sample(logger *zap.Logger) {
	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		r.System.CPUPercent.Set(percents[0])
	} else if err != nil {
		logger.Debug("cpu sample failed", zap.Error(err))
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		r.System.MemoryUsedBytes.Set(float64(vm.Used))
	} else {
		logger.Debug("memory sample failed", zap.Error(err))
	}
}
