package logger

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// GormLogger routes gorm's SQL logging into the context logger.
type GormLogger struct {
	level         gormlogger.LogLevel
	slowThreshold time.Duration
}

// NewGormLogger creates a bridge at the named level (silent, error, warn, info).
// Queries slower than slow are logged as warnings; zero disables that.
func NewGormLogger(level string, slow time.Duration) *GormLogger {
	return &GormLogger{level: parseGormLevel(level), slowThreshold: slow}
}

func parseGormLevel(level string) gormlogger.LogLevel {
	switch level {
	case "silent":
		return gormlogger.Silent
	case "error":
		return gormlogger.Error
	case "info", "debug":
		return gormlogger.Info
	default:
		return gormlogger.Warn
	}
}

// LogMode implements gormlogger.Interface.
func (g *GormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	clone := *g
	clone.level = level
	return &clone
}

// Info implements gormlogger.Interface.
func (g *GormLogger) Info(ctx context.Context, msg string, args ...interface{}) {
	if g.level >= gormlogger.Info {
		CtxInfo(ctx, msg, args...)
	}
}

// Warn implements gormlogger.Interface.
func (g *GormLogger) Warn(ctx context.Context, msg string, args ...interface{}) {
	if g.level >= gormlogger.Warn {
		CtxWarn(ctx, msg, args...)
	}
}

// Error implements gormlogger.Interface.
func (g *GormLogger) Error(ctx context.Context, msg string, args ...interface{}) {
	if g.level >= gormlogger.Error {
		CtxError(ctx, msg, args...)
	}
}

// Trace implements gormlogger.Interface.
func (g *GormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if g.level <= gormlogger.Silent {
		return
	}
	elapsed := time.Since(begin)

	switch {
	case err != nil && g.level >= gormlogger.Error && !errors.Is(err, gorm.ErrRecordNotFound):
		sql, rows := fc()
		With(Fields{"sql": sql, "rows": rows}).WithDuration(elapsed.Milliseconds()).
			Error(ctx, "SQL failed: %v", err)
	case g.slowThreshold > 0 && elapsed > g.slowThreshold && g.level >= gormlogger.Warn:
		sql, rows := fc()
		With(Fields{"sql": sql, "rows": rows}).WithDuration(elapsed.Milliseconds()).
			Warn(ctx, "Slow SQL (threshold %s)", g.slowThreshold)
	case g.level >= gormlogger.Info:
		sql, rows := fc()
		With(Fields{"sql": sql, "rows": rows}).WithDuration(elapsed.Milliseconds()).
			Debug(ctx, "SQL executed")
	}
}
