package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestContextFieldsAreLogged(t *testing.T) {
	observerLogger, logs := observer.New(zap.DebugLevel)
	dut := &ZapLogger{zap.New(observerLogger)}

	ctx := ContextWithFields(context.Background(), zap.String("project", "analytics"))
	ctx = ContextWithFields(ctx, zap.String("query_id", "q1"))

	dut.WarnWithContext(ctx, "rejected", zap.Int("limit", 5))
	dut.Info("plain")

	require.Equal(t, 2, logs.Len())

	entry := logs.All()[0]
	require.Equal(t, zapcore.WarnLevel, entry.Level)
	require.Equal(t, map[string]interface{}{
		"project":  "analytics",
		"query_id": "q1",
		"limit":    int64(5),
	}, entry.ContextMap())

	require.Empty(t, logs.All()[1].ContextMap())
}

func TestWithAddsFields(t *testing.T) {
	observerLogger, logs := observer.New(zap.DebugLevel)
	dut := (&ZapLogger{zap.New(observerLogger)}).With(zap.String("component", "executor"))

	dut.DebugWithContext(context.Background(), "hello")

	require.Equal(t, 1, logs.Len())
	require.Equal(t, map[string]interface{}{"component": "executor"}, logs.All()[0].ContextMap())
}

func TestNewLogger(t *testing.T) {
	for _, tc := range []struct {
		format  string
		level   string
		wantErr bool
	}{
		{format: "json", level: "info"},
		{format: "text", level: "debug"},
		{format: "text", level: "none"},
		{format: "json", level: "verbose", wantErr: true},
		{format: "xml", level: "info", wantErr: true},
	} {
		t.Run(tc.format+"/"+tc.level, func(t *testing.T) {
			log, err := NewLogger(tc.format, tc.level)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, log)
		})
	}
}
