package logger

import (
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/amerfu/codepilot/internal/config"
)

var (
	Logger *zap.Logger
	Sugar  *zap.SugaredLogger

	level = zap.NewAtomicLevelAt(zap.WarnLevel)
)

// Initialize builds the process logger. The CLI writes to stderr by default so
// log lines never mix with model output on stdout.
func Initialize(cfg config.LoggingConfig) (*zap.Logger, error) {
	var zapConfig zap.Config

	if cfg.Format == "json" {
		zapConfig = zap.NewProductionConfig()
	} else {
		zapConfig = zap.NewDevelopmentConfig()
		zapConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zapConfig.DisableStacktrace = true
	}

	level.SetLevel(ParseLevel(cfg.Level))
	zapConfig.Level = level

	output := cfg.OutputPath
	if output == "" {
		output = "stderr"
	}
	zapConfig.OutputPaths = []string{output}
	zapConfig.ErrorOutputPaths = []string{output}

	logger, err := zapConfig.Build()
	if err != nil {
		return nil, err
	}

	Logger = logger
	Sugar = logger.Sugar()

	return logger, nil
}

// ParseLevel maps a level name onto zap, defaulting to info
func ParseLevel(name string) zapcore.Level {
	switch strings.ToLower(name) {
	case "debug":
		return zap.DebugLevel
	case "info":
		return zap.InfoLevel
	case "warn", "warning":
		return zap.WarnLevel
	case "error":
		return zap.ErrorLevel
	case "fatal":
		return zap.FatalLevel
	default:
		return zap.InfoLevel
	}
}

// Get returns the process logger, or a no-op logger before Initialize
func Get() *zap.Logger {
	if Logger == nil {
		Logger = zap.NewNop()
		Sugar = Logger.Sugar()
	}
	return Logger
}

func GetSugar() *zap.SugaredLogger {
	if Sugar == nil {
		Get()
	}
	return Sugar
}

func With(fields ...zap.Field) *zap.Logger {
	return Get().With(fields...)
}

// NewRequestID returns a fresh id for correlating one chat request's log lines
func NewRequestID() string {
	return uuid.NewString()
}

func NewRequestLogger(requestID string) *zap.Logger {
	return Get().With(zap.String("request_id", requestID))
}

func Sync() {
	if Logger != nil {
		_ = Logger.Sync()
	}
}

// SetLogLevel changes the level of loggers built by Initialize at runtime
func SetLogLevel(name string) {
	level.SetLevel(ParseLevel(name))
}

func GetLogLevel() zapcore.Level {
	return level.Level()
}

func IsDebugEnabled() bool {
	return level.Enabled(zapcore.DebugLevel)
}
