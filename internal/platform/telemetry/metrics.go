package telemetry

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "gradeflow"

// Metrics holds all gradeflow metric instruments.
type Metrics struct {
	LLMAttempts       metric.Int64Counter
	LLMRetries        metric.Int64Counter
	LLMTokens         metric.Int64Counter
	StagesCompleted   metric.Int64Counter
	StagesFailed      metric.Int64Counter
	NarrativeFallback metric.Int64Counter
	TasksFinished     metric.Int64Counter
	StageDuration     metric.Float64Histogram
}

// NewMetrics creates all metric instruments on mp. A nil provider selects
// the global one.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(meterName)
	m := &Metrics{}
	var err error

	m.LLMAttempts, err = meter.Int64Counter("gradeflow.llm.attempts",
		metric.WithDescription("Number of outbound AI calls, retries included"))
	if err != nil {
		return nil, err
	}

	m.LLMRetries, err = meter.Int64Counter("gradeflow.llm.retries",
		metric.WithDescription("Number of retried AI calls"))
	if err != nil {
		return nil, err
	}

	m.LLMTokens, err = meter.Int64Counter("gradeflow.llm.tokens",
		metric.WithDescription("Tokens consumed by AI calls"))
	if err != nil {
		return nil, err
	}

	m.StagesCompleted, err = meter.Int64Counter("gradeflow.stages.completed",
		metric.WithDescription("Number of stages completed"))
	if err != nil {
		return nil, err
	}

	m.StagesFailed, err = meter.Int64Counter("gradeflow.stages.failed",
		metric.WithDescription("Number of stages failed"))
	if err != nil {
		return nil, err
	}

	m.NarrativeFallback, err = meter.Int64Counter("gradeflow.narrative.fallback",
		metric.WithDescription("Narratives rendered from structured output after the second pass failed"))
	if err != nil {
		return nil, err
	}

	m.TasksFinished, err = meter.Int64Counter("gradeflow.tasks.finished",
		metric.WithDescription("Number of tasks reaching a terminal status"))
	if err != nil {
		return nil, err
	}

	m.StageDuration, err = meter.Float64Histogram("gradeflow.stage.duration_seconds",
		metric.WithDescription("Stage duration in seconds"))
	if err != nil {
		return nil, err
	}

	return m, nil
}

// NoopMetrics returns instruments backed by the global provider, which
// discards measurements until an SDK is installed.
func NoopMetrics() *Metrics {
	m, err := NewMetrics(nil)
	if err != nil {
		panic(err)
	}
	return m
}
