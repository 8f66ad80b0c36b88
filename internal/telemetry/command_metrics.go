package internaltelemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// CommandMetrics holds the metric instruments for interactive and harness commands.
type CommandMetrics struct {
	CommandsStartedCounter      metric.Int64Counter
	CommandsFailedCounter       metric.Int64Counter
	CommandLatencyHistogram     metric.Int64Histogram
	ActiveCommandsUpDownCounter metric.Int64UpDownCounter
}

// NewCommandMetrics creates and registers all the metrics for command execution.
func NewCommandMetrics(meter metric.Meter) (*CommandMetrics, error) {
	commandsStartedCounter, err := meter.Int64Counter(
		"gojodb.command.started_total",
		metric.WithDescription("Total number of commands started."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	commandsFailedCounter, err := meter.Int64Counter(
		"gojodb.command.failed_total",
		metric.WithDescription("Total number of commands that returned an error."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	commandLatencyHistogram, err := meter.Int64Histogram(
		"gojodb.command.duration",
		metric.WithDescription("The latency of commands."),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	activeCommandsUpDownCounter, err := meter.Int64UpDownCounter(
		"gojodb.command.active",
		metric.WithDescription("Number of commands in progress."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	return &CommandMetrics{
		CommandsStartedCounter:      commandsStartedCounter,
		CommandsFailedCounter:       commandsFailedCounter,
		CommandLatencyHistogram:     commandLatencyHistogram,
		ActiveCommandsUpDownCounter: activeCommandsUpDownCounter,
	}, nil
}

// Start records the beginning of command name and returns a func that records its end.
func (m *CommandMetrics) Start(ctx context.Context, name string) func(err error) {
	attrs := metric.WithAttributes(attribute.String("command", name))
	m.CommandsStartedCounter.Add(ctx, 1, attrs)
	m.ActiveCommandsUpDownCounter.Add(ctx, 1, attrs)
	start := time.Now()
	return func(err error) {
		m.ActiveCommandsUpDownCounter.Add(ctx, -1, attrs)
		m.CommandLatencyHistogram.Record(ctx, time.Since(start).Milliseconds(), attrs)
		if err != nil {
			m.CommandsFailedCounter.Add(ctx, 1, attrs)
		}
	}
}
