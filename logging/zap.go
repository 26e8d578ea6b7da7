// Package logging builds zap loggers and adapts them to cache.Logger.
package logging

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/huykn/reactive-sync/cache"
)

// Config configures NewZap.
type Config struct {
	// Env is "dev" (colored console) or "prod" (JSON). Default: "dev".
	Env string

	// Level is the minimum level: "debug", "info", "warn" or "error".
	// Default: "info".
	Level string

	// ServiceName is attached to every entry when set.
	ServiceName string
}

// NewZap builds a logger for cfg.
func NewZap(cfg Config) (*zap.Logger, error) {
	level := ParseLevel(cfg.Level)

	var zcfg zap.Config
	if strings.EqualFold(cfg.Env, "prod") {
		zcfg = zap.NewProductionConfig()
		zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	} else {
		zcfg = zap.NewDevelopmentConfig()
		zcfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zcfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
		zcfg.DisableStacktrace = true
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	zcfg.EncoderConfig.EncodeCaller = zapcore.ShortCallerEncoder

	l, err := zcfg.Build(zap.AddCaller(), zap.AddCallerSkip(1))
	if err != nil {
		return nil, err
	}
	if cfg.ServiceName != "" {
		l = l.With(zap.String("service", cfg.ServiceName))
	}
	return l, nil
}

// ParseLevel maps a level name to a zap level, defaulting to info.
func ParseLevel(lvl string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(lvl)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// zapLogger implements cache.Logger with sugared key/value pairs.
type zapLogger struct {
	s *zap.SugaredLogger
}

// Adapt wraps l as a cache.Logger. A nil l yields a no-op logger.
func Adapt(l *zap.Logger) cache.Logger {
	if l == nil {
		return cache.NewNoOpLogger()
	}
	return &zapLogger{s: l.Sugar()}
}

func (z *zapLogger) Debug(msg string, args ...any) { z.s.Debugw(msg, args...) }
func (z *zapLogger) Info(msg string, args ...any)  { z.s.Infow(msg, args...) }
func (z *zapLogger) Warn(msg string, args ...any)  { z.s.Warnw(msg, args...) }
func (z *zapLogger) Error(msg string, args ...any) { z.s.Errorw(msg, args...) }
