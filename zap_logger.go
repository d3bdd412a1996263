package gridbase

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogConfig selects the level and encoding of a zap-backed Logger.
type LogConfig struct {
	// Level is debug, info, warn or error. Empty means info.
	Level string
	// Format is "json" or "console". Empty means json.
	Format string
}

// LogConfigFromEnv reads GRIDBASE_LOG_LEVEL and GRIDBASE_LOG_FORMAT.
func LogConfigFromEnv() LogConfig {
	return LogConfig{
		Level:  os.Getenv("GRIDBASE_LOG_LEVEL"),
		Format: os.Getenv("GRIDBASE_LOG_FORMAT"),
	}
}

// ZapLogger adapts a zap logger to Logger. Fields are alternating
// key/value pairs, as with zap's sugared "w" methods.
type ZapLogger struct {
	sugar *zap.SugaredLogger
}

// NewZapLogger wraps logger under the "gridbase" name.
func NewZapLogger(logger *zap.Logger) *ZapLogger {
	return &ZapLogger{sugar: logger.Named("gridbase").Sugar()}
}

// NewConfiguredZapLogger builds a logger writing to stderr.
func NewConfiguredZapLogger(cfg LogConfig) (*ZapLogger, error) {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		if err := level.Set(strings.ToLower(cfg.Level)); err != nil {
			return nil, WithContext(ErrInvalidConfig, map[string]interface{}{
				"field":  "Level",
				"value":  cfg.Level,
				"reason": err.Error(),
			})
		}
	}

	var zc zap.Config
	switch strings.ToLower(cfg.Format) {
	case "", "json":
		zc = zap.NewProductionConfig()
		zc.EncoderConfig.TimeKey = "timestamp"
		zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	case "console":
		zc = zap.NewDevelopmentConfig()
	default:
		return nil, WithContext(ErrInvalidConfig, map[string]interface{}{
			"field":  "Format",
			"value":  cfg.Format,
			"reason": "must be json or console",
		})
	}
	zc.Level = zap.NewAtomicLevelAt(level)

	logger, err := zc.Build()
	if err != nil {
		return nil, err
	}
	return NewZapLogger(logger), nil
}

// With returns a logger that adds fields to every entry.
func (l *ZapLogger) With(fields ...interface{}) *ZapLogger {
	return &ZapLogger{sugar: l.sugar.With(fields...)}
}

func (l *ZapLogger) Debug(msg string, fields ...interface{}) { l.sugar.Debugw(msg, fields...) }
func (l *ZapLogger) Info(msg string, fields ...interface{})  { l.sugar.Infow(msg, fields...) }
func (l *ZapLogger) Warn(msg string, fields ...interface{})  { l.sugar.Warnw(msg, fields...) }
func (l *ZapLogger) Error(msg string, fields ...interface{}) { l.sugar.Errorw(msg, fields...) }

// Sync flushes buffered entries.
func (l *ZapLogger) Sync() error {
	return l.sugar.Sync()
}
