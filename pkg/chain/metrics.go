package chain

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/ilkoid/poncho-writer/pkg/chain"

// Инструменты инициализируются лениво от глобального MeterProvider.
// Без установленного провайдера это noop реализации.
var (
	metricsOnce       sync.Once
	agentRunCounter   metric.Int64Counter
	agentErrorCounter metric.Int64Counter
	agentRunLatencyMs metric.Float64Histogram
	llmLatencyMs      metric.Float64Histogram
	toolLatencyMs     metric.Float64Histogram
)

func initAgentMetrics() {
	metricsOnce.Do(func() {
		meter := otel.Meter(instrumentationName)
		agentRunCounter, _ = meter.Int64Counter("poncho.agent.run.count")
		agentErrorCounter, _ = meter.Int64Counter("poncho.agent.error.count")
		agentRunLatencyMs, _ = meter.Float64Histogram("poncho.agent.run.latency_ms")
		llmLatencyMs, _ = meter.Float64Histogram("poncho.agent.llm.latency_ms")
		toolLatencyMs, _ = meter.Float64Histogram("poncho.agent.tool.latency_ms")
	})
}

func defaultTracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}

func tracerOrDefault(t trace.Tracer) trace.Tracer {
	if t == nil {
		return defaultTracer()
	}
	return t
}
