package logger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	gormlogger "gorm.io/gorm/logger"
)

var _ gormlogger.Interface = (*GormLogger)(nil)

func sourceRecordsQuery() (string, int64) {
	return `SELECT * FROM "source_records" WHERE collection = 'purchases'`, 4
}

func TestGormLogger_Trace(t *testing.T) {
	tests := []struct {
		name    string
		level   gormlogger.LogLevel
		opts    []GormLoggerOption
		elapsed time.Duration
		err     error
		wantMsg string
		wantLvl zapcore.Level
	}{
		{"query error", gormlogger.Error, nil, 0, errors.New("relation does not exist"), "sql failed", zapcore.ErrorLevel},
		{"slow query", gormlogger.Warn, []GormLoggerOption{WithSlowThreshold(time.Millisecond)}, 50 * time.Millisecond, nil, "slow sql", zapcore.WarnLevel},
		{"normal query at info", gormlogger.Info, nil, 0, nil, "sql", zapcore.DebugLevel},
		{"not found kept when configured", gormlogger.Error, []GormLoggerOption{WithIgnoreRecordNotFoundError(false)}, 0, gormlogger.ErrRecordNotFound, "sql failed", zapcore.ErrorLevel},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			core, recorded := observer.New(zapcore.DebugLevel)
			gl := NewGormLogger(zap.New(core), tt.level, tt.opts...)

			gl.Trace(context.Background(), time.Now().Add(-tt.elapsed), sourceRecordsQuery, tt.err)

			logs := recorded.All()
			require.Len(t, logs, 1)
			assert.Equal(t, tt.wantMsg, logs[0].Message)
			assert.Equal(t, tt.wantLvl, logs[0].Level)
			assert.Equal(t, "gorm", logs[0].LoggerName)
			assert.EqualValues(t, 4, logs[0].ContextMap()["rows"])
		})
	}
}

func TestGormLogger_TraceSuppressed(t *testing.T) {
	t.Run("record not found is ignored by default", func(t *testing.T) {
		core, recorded := observer.New(zapcore.DebugLevel)
		NewGormLogger(zap.New(core), gormlogger.Error).
			Trace(context.Background(), time.Now(), sourceRecordsQuery, gormlogger.ErrRecordNotFound)
		assert.Zero(t, recorded.Len())
	})

	t.Run("fast query below info is skipped", func(t *testing.T) {
		core, recorded := observer.New(zapcore.DebugLevel)
		NewGormLogger(zap.New(core), gormlogger.Warn).
			Trace(context.Background(), time.Now(), sourceRecordsQuery, nil)
		assert.Zero(t, recorded.Len())
	})

	t.Run("silent logs nothing", func(t *testing.T) {
		core, recorded := observer.New(zapcore.DebugLevel)
		NewGormLogger(zap.New(core), gormlogger.Silent).
			Trace(context.Background(), time.Now(), sourceRecordsQuery, errors.New("ignored"))
		assert.Zero(t, recorded.Len())
	})
}

func TestGormLogger_TraceCarriesContextFields(t *testing.T) {
	core, recorded := observer.New(zapcore.DebugLevel)
	ctx, _ := WithRequestID(context.Background(), zap.NewNop(), "req-99")
	ctx = contextWithSpanFrom(ctx, t)

	ctx = WithCollection(ctx, "purchases")

	NewGormLogger(zap.New(core), gormlogger.Info).Trace(ctx, time.Now(), sourceRecordsQuery, nil)

	require.Equal(t, 1, recorded.Len())
	fields := recorded.All()[0].ContextMap()
	assert.Equal(t, "req-99", fields["request_id"])
	assert.Equal(t, "purchases", fields["collection"])
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", fields["trace_id"])
}

func TestGormLogger_LogMode(t *testing.T) {
	gl := NewGormLogger(zap.NewNop(), gormlogger.Info)
	changed, ok := gl.LogMode(gormlogger.Warn).(*GormLogger)
	require.True(t, ok)
	assert.Equal(t, gormlogger.Info, gl.level)
	assert.Equal(t, gormlogger.Warn, changed.level)
}

func TestGormLogger_Messages(t *testing.T) {
	core, recorded := observer.New(zapcore.DebugLevel)
	gl := NewGormLogger(zap.New(core), gormlogger.Warn)

	gl.Info(context.Background(), "hidden %s", "info")
	gl.Warn(context.Background(), "migrated %d tables", 1)
	gl.Error(context.Background(), "failed")

	require.Equal(t, 2, recorded.Len())
	assert.Equal(t, "migrated 1 tables", recorded.All()[0].Message)
	assert.Equal(t, zapcore.ErrorLevel, recorded.All()[1].Level)
}

func TestMapGormLogLevel(t *testing.T) {
	tests := map[string]gormlogger.LogLevel{
		"silent":  gormlogger.Silent,
		"error":   gormlogger.Error,
		"warn":    gormlogger.Warn,
		"info":    gormlogger.Warn,
		"DEBUG":   gormlogger.Info,
		"unknown": gormlogger.Warn,
	}
	for level, want := range tests {
		assert.Equal(t, want, MapGormLogLevel(level), level)
	}
}
