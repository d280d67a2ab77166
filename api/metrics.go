package api

import (
	"context"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracerName         = "taskboard-api/api"
	requestSpanName    = "taskboard.api.request"
	requestEventName   = "taskboard.request.completed"
	requestEventDomain = "taskboard.api"
	observabilityEvent = "observability.event"
)

// requestMetrics records one API request as a span plus a structured
// observability.event log entry.
type requestMetrics struct {
	logger        *log.Logger
	span          trace.Span
	route         string
	operation     string
	userID        string
	start         time.Time
	storeDuration time.Duration
	tasksReturned int
	errorStage    string
	err           error
}

func newRequestMetrics(ctx context.Context, logger *log.Logger, route, operation string) (*requestMetrics, context.Context) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, requestSpanName,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("http.route", route),
			attribute.String("taskboard.operation", operation),
		),
	)
	return &requestMetrics{
		logger:        logger,
		span:          span,
		route:         route,
		operation:     operation,
		start:         time.Now(),
		tasksReturned: -1,
	}, ctx
}

func (m *requestMetrics) SetUser(userID string) {
	m.userID = userID
}

func (m *requestMetrics) ObserveStore(duration time.Duration) {
	if duration <= 0 {
		return
	}
	m.storeDuration += duration
}

func (m *requestMetrics) SetTasksReturned(count int) {
	if count < 0 {
		count = 0
	}
	m.tasksReturned = count
}

// Fail records the stage and cause of a failed request.
func (m *requestMetrics) Fail(stage string, err error) {
	if stage != "" {
		m.errorStage = stage
	}
	if err != nil {
		m.err = err
	}
}

// Log ends the span and emits the observability event.
func (m *requestMetrics) Log(status int, err error) {
	if m == nil {
		return
	}
	if err == nil {
		err = m.err
	}

	attrs := []attribute.KeyValue{
		attribute.String("http.route", m.route),
		attribute.Int("http.status_code", status),
		attribute.String("taskboard.operation", m.operation),
		attribute.Float64("taskboard.request.total_ms", durationToMillis(time.Since(m.start))),
	}
	if m.userID != "" {
		attrs = append(attrs, attribute.String("enduser.id", m.userID))
	}
	if m.storeDuration > 0 {
		attrs = append(attrs, attribute.Float64("taskboard.request.store_ms", durationToMillis(m.storeDuration)))
	}
	if m.tasksReturned >= 0 {
		attrs = append(attrs, attribute.Int("taskboard.request.tasks_returned", m.tasksReturned))
	}
	if m.errorStage != "" {
		attrs = append(attrs, attribute.String("taskboard.request.error_stage", m.errorStage))
	}
	if err != nil {
		attrs = append(attrs, attribute.String("error.message", err.Error()))
	}

	severityText, severityNumber := severityForStatus(status, err)
	eventAttrs := append([]attribute.KeyValue{
		attribute.String("event.name", requestEventName),
		attribute.String("event.domain", requestEventDomain),
		attribute.String("severity_text", severityText),
		attribute.Int("severity_number", severityNumber),
	}, attrs...)

	m.span.SetAttributes(attrs...)
	m.span.AddEvent(observabilityEvent, trace.WithAttributes(eventAttrs...))
	switch {
	case err != nil:
		m.span.RecordError(err)
		m.span.SetStatus(codes.Error, err.Error())
	case status >= http.StatusInternalServerError:
		m.span.SetStatus(codes.Error, http.StatusText(status))
	default:
		m.span.SetStatus(codes.Ok, "")
	}

	if m.logger != nil {
		logged := make(map[string]any, len(attrs))
		for _, kv := range attrs {
			logged[string(kv.Key)] = kv.Value.AsInterface()
		}
		fields := log.Fields{
			"event.name":      requestEventName,
			"event.domain":    requestEventDomain,
			"severity_text":   severityText,
			"severity_number": severityNumber,
			"attributes":      logged,
		}
		if sc := m.span.SpanContext(); sc.IsValid() {
			fields["trace_id"] = sc.TraceID().String()
			fields["span_id"] = sc.SpanID().String()
		}
		m.logger.WithFields(fields).Log(levelForSeverity(severityText), observabilityEvent)
	}
	m.span.End()
}

// severityForStatus maps a response to OpenTelemetry log severity.
func severityForStatus(status int, err error) (string, int) {
	switch {
	case err != nil || status >= http.StatusInternalServerError:
		return "ERROR", 17
	case status >= http.StatusBadRequest:
		return "WARN", 13
	default:
		return "INFO", 9
	}
}

func levelForSeverity(text string) log.Level {
	switch text {
	case "ERROR":
		return log.ErrorLevel
	case "WARN":
		return log.WarnLevel
	default:
		return log.InfoLevel
	}
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
