package telemetry

import (
	"context"
	"database/sql"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/metaline/metaline/internal/storage"
)

const sourceScopeName = "github.com/metaline/metaline/storage"

// InstrumentedSource wraps a storage.Source with OTel tracing and metrics.
// Every transaction gets a span and every statement is counted in
// metaline.storage.* metrics. Use WrapSource to create one; it returns the
// original source unchanged when telemetry is disabled.
type InstrumentedSource struct {
	inner  storage.Source
	tracer trace.Tracer
	stmts  metric.Int64Counter
	dur    metric.Float64Histogram
	errs   metric.Int64Counter
	engine attribute.KeyValue
}

// WrapSource returns src decorated with OTel instrumentation.
// When telemetry is disabled, src is returned as-is with zero overhead.
func WrapSource(src storage.Source) storage.Source {
	if !Enabled() {
		return src
	}
	m := Meter(sourceScopeName)
	stmts, _ := m.Int64Counter("metaline.storage.statements",
		metric.WithDescription("Total SQL statements executed"),
	)
	dur, _ := m.Float64Histogram("metaline.storage.statement.duration",
		metric.WithDescription("SQL statement duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	errs, _ := m.Int64Counter("metaline.storage.errors",
		metric.WithDescription("Total SQL statement errors"),
	)
	return &InstrumentedSource{
		inner:  src,
		tracer: Tracer(sourceScopeName),
		stmts:  stmts,
		dur:    dur,
		errs:   errs,
		engine: attribute.String("db.system", src.Engine()),
	}
}

// Begin opens a transaction wrapped in a span that ends on Commit or Rollback.
func (s *InstrumentedSource) Begin(ctx context.Context) (storage.Tx, error) {
	ctx, span := s.tracer.Start(ctx, "storage.transaction",
		trace.WithAttributes(s.engine),
		trace.WithSpanKind(trace.SpanKindClient),
	)
	tx, err := s.inner.Begin(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.End()
		return nil, err
	}
	return &instrumentedTx{inner: tx, src: s, ctx: ctx, span: span}, nil
}

func (s *InstrumentedSource) Engine() string { return s.inner.Engine() }
func (s *InstrumentedSource) URI() string    { return s.inner.URI() }
func (s *InstrumentedSource) Close() error   { return s.inner.Close() }

// record counts one statement and its duration, tagged with engine and kind.
func (s *InstrumentedSource) record(ctx context.Context, op string, start time.Time, err error) {
	attrs := metric.WithAttributes(s.engine, attribute.String("db.operation", op))
	s.stmts.Add(ctx, 1, attrs)
	s.dur.Record(ctx, float64(time.Since(start).Microseconds())/1000, attrs)
	if err != nil {
		s.errs.Add(ctx, 1, attrs)
	}
}

// instrumentedTx carries the transaction span opened by Begin. The span ends
// exactly once: Span.End is idempotent, so a rollback after a failed commit
// is harmless.
type instrumentedTx struct {
	inner storage.Tx
	src   *InstrumentedSource
	ctx   context.Context
	span  trace.Span
}

func (t *instrumentedTx) Execute(ctx context.Context, query string, args ...any) (storage.ExecResult, error) {
	start := time.Now()
	res, err := t.inner.Execute(ctx, query, args...)
	t.src.record(ctx, "execute", start, err)
	if err != nil {
		t.span.RecordError(err)
	}
	return res, err
}

func (t *instrumentedTx) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	start := time.Now()
	rows, err := t.inner.Query(ctx, query, args...)
	t.src.record(ctx, "query", start, err)
	if err != nil {
		t.span.RecordError(err)
	}
	return rows, err
}

func (t *instrumentedTx) Commit() error {
	err := t.inner.Commit()
	t.end("commit", err)
	return err
}

func (t *instrumentedTx) Rollback() error {
	err := t.inner.Rollback()
	t.end("rollback", err)
	return err
}

func (t *instrumentedTx) end(outcome string, err error) {
	t.span.SetAttributes(attribute.String("db.transaction.outcome", outcome))
	if err != nil {
		t.span.RecordError(err)
		t.span.SetStatus(codes.Error, err.Error())
	}
	t.span.End()
}
