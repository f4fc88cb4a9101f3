package logging

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestHelpersAttachServiceField(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	restore := SetLogger(zap.New(core))
	defer restore()

	Info("hello", zap.String("k", "v"))
	Warn("careful")
	Error("boom")

	entries := logs.All()
	require.Len(t, entries, 3)
	for _, e := range entries {
		assert.Equal(t, serviceName, e.ContextMap()["service"])
	}
	assert.Equal(t, "v", entries[0].ContextMap()["k"])
	assert.Equal(t, zapcore.ErrorLevel, entries[2].Level)
}

func TestWithTraceContext(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	restore := SetLogger(zap.New(core))
	defer restore()

	traceID, _ := trace.TraceIDFromHex("0102030405060708090a0b0c0d0e0f10")
	spanID, _ := trace.SpanIDFromHex("0102030405060708")
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	FromContext(ctx).Info("traced")
	FromContext(context.Background()).Info("untraced")

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, traceID.String(), entries[0].ContextMap()["trace_id"])
	assert.Equal(t, spanID.String(), entries[0].ContextMap()["span_id"])
	assert.NotContains(t, entries[1].ContextMap(), "trace_id")
}

func TestInitLogger_RejectsBadLevel(t *testing.T) {
	restore := SetLogger(zap.NewNop())
	defer restore()

	err := InitLogger(Options{Level: "loud"})
	assert.Error(t, err)
}

func TestInitLogger_StdoutOnly(t *testing.T) {
	restore := SetLogger(zap.NewNop())
	defer restore()

	require.NoError(t, InitLogger(Options{ServiceName: "test-service", Level: "debug"}))
	assert.NotNil(t, GetLogger())
	assert.NoError(t, Shutdown(context.Background()))
	serviceName = "mpesa-stk-service"
}

func TestMaskPhone(t *testing.T) {
	cases := map[string]struct {
		in   any
		want string
	}{
		"msisdn":        {"254700000123", "***123"},
		"international": {"+254711222333", "***333"},
		"numeric":       {json.Number("254700000456"), "***456"},
		"short":         {"1234", "***"},
		"missing":       {nil, ""},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.want, MaskPhone(tc.in))
		})
	}
}
