package obs

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestPGXTracerNamesLedgerSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(provider)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	var tracer PGXTracer
	ctx := tracer.TraceQueryStart(context.Background(), nil, pgx.TraceQueryStartData{
		SQL:  "  update quote_submissions set status = $1 where id = $2",
		Args: []any{"PAID", "sub-1"},
	})
	tracer.TraceQueryEnd(ctx, nil, pgx.TraceQueryEndData{CommandTag: pgconn.NewCommandTag("UPDATE 1")})

	ctx = tracer.TraceQueryStart(context.Background(), nil, pgx.TraceQueryStartData{SQL: "select 1"})
	tracer.TraceQueryEnd(ctx, nil, pgx.TraceQueryEndData{Err: errors.New("boom")})

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	require.Equal(t, "ledger.update", spans[0].Name())
	require.Equal(t, "ledger.select", spans[1].Name())
	require.Equal(t, codes.Error, spans[1].Status().Code)
}

func TestTruncateSQL(t *testing.T) {
	long := strings.Repeat("x", maxStatementLen+10)
	require.Equal(t, maxStatementLen+3, len(truncateSQL(long)))
	require.Equal(t, "select 1", truncateSQL("  select 1\n"))
	require.Equal(t, "QUERY", sqlOperation("   "))
}
