package backend

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Instrumented wraps a Completer with a span, latency histogram, token
// counters and log lines per call.
type Instrumented struct {
	next         Completer
	logger       *slog.Logger
	tracer       trace.Tracer
	duration     metric.Float64Histogram
	inputTokens  metric.Int64Counter
	outputTokens metric.Int64Counter
}

// Instrument decorates next. Instruments that fail to register are skipped.
func Instrument(next Completer, logger *slog.Logger, tracer trace.Tracer, meter metric.Meter) *Instrumented {
	in := &Instrumented{next: next, logger: logger, tracer: tracer}

	var err error
	in.duration, err = meter.Float64Histogram(
		"llm.request.duration",
		metric.WithDescription("LLM completion duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		logger.Warn("failed to create histogram", "name", "llm.request.duration", "error", err)
	}
	in.inputTokens, err = meter.Int64Counter(
		"llm.usage.input_tokens",
		metric.WithDescription("Prompt tokens consumed"),
	)
	if err != nil {
		logger.Warn("failed to create counter", "name", "llm.usage.input_tokens", "error", err)
	}
	in.outputTokens, err = meter.Int64Counter(
		"llm.usage.output_tokens",
		metric.WithDescription("Completion tokens generated"),
	)
	if err != nil {
		logger.Warn("failed to create counter", "name", "llm.usage.output_tokens", "error", err)
	}
	return in
}

func (in *Instrumented) Name() string { return in.next.Name() }

func (in *Instrumented) Complete(ctx context.Context, req Request) (Completion, error) {
	ctx, span := in.tracer.Start(ctx, in.next.Name()+"_api_call")
	defer span.End()

	attrs := metric.WithAttributes(attribute.String("provider", in.next.Name()))
	start := time.Now()

	out, err := in.next.Complete(ctx, req)

	elapsed := time.Since(start)
	if in.duration != nil {
		in.duration.Record(ctx, float64(elapsed.Milliseconds()), attrs)
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "completion failed")
		in.logger.Error("completion failed",
			"provider", in.next.Name(),
			"turns", len(req.Messages),
			"duration_ms", elapsed.Milliseconds(),
			"error", err,
		)
		return Completion{}, err
	}

	if in.inputTokens != nil {
		in.inputTokens.Add(ctx, out.Usage.InputTokens, attrs)
	}
	if in.outputTokens != nil {
		in.outputTokens.Add(ctx, out.Usage.OutputTokens, attrs)
	}
	span.SetAttributes(
		attribute.String("llm.model", out.Model),
		attribute.Int64("llm.usage.input_tokens", out.Usage.InputTokens),
		attribute.Int64("llm.usage.output_tokens", out.Usage.OutputTokens),
	)
	in.logger.Info("completion received",
		"provider", in.next.Name(),
		"model", out.Model,
		"turns", len(req.Messages),
		"duration_ms", elapsed.Milliseconds(),
		"input_tokens", out.Usage.InputTokens,
		"output_tokens", out.Usage.OutputTokens,
	)
	return out, nil
}
