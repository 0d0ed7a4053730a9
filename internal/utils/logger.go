package utils

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	globalLogger *zap.Logger
	loggerOnce   sync.Once
)

// InitLogger builds the process-wide zap logger. Production environments get
// JSON output with sampling; everything else gets the colorized development
// console. Safe to call more than once; only the first call configures.
func InitLogger(env, level string) *zap.Logger {
	loggerOnce.Do(func() {
		var cfg zap.Config
		if env == "prod" || env == "production" {
			cfg = zap.NewProductionConfig()
			cfg.EncoderConfig.TimeKey = "timestamp"
			cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
			cfg.DisableStacktrace = true
		} else {
			cfg = zap.NewDevelopmentConfig()
			cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		}
		if lvl, err := zapcore.ParseLevel(level); err == nil {
			cfg.Level = zap.NewAtomicLevelAt(lvl)
		}
		cfg.OutputPaths = []string{"stdout"}
		cfg.ErrorOutputPaths = []string{"stderr"}

		logger, err := cfg.Build()
		if err != nil {
			panic("logger init: " + err.Error())
		}
		globalLogger = logger
		zap.ReplaceGlobals(logger)
	})
	return globalLogger
}

// Logger returns the global logger, initializing a production one if
// InitLogger was never called.
func Logger() *zap.Logger {
	if globalLogger == nil {
		return InitLogger("prod", "info")
	}
	return globalLogger
}

// SyncLogger flushes buffered log entries; call on shutdown.
func SyncLogger() {
	if globalLogger != nil {
		_ = globalLogger.Sync()
	}
}
