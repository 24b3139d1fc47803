package logging

import (
	"os"
	"strings"

	"github.com/tweetarchive/tweets/pkg/config"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the application logger
var Logger *zap.Logger

// level is shared by every core so verbosity can change after init
var level = zap.NewAtomicLevelAt(zapcore.InfoLevel)

// InitLogger initializes the logger with the given configuration.
// Log output goes to stderr so stdout stays free for command output.
func InitLogger(cfg *config.LoggingConfig) error {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(strings.ToLower(cfg.Level))); err != nil {
		lvl = zapcore.InfoLevel
	}
	level.SetLevel(lvl)

	var zapConfig zap.Config
	if cfg.Format == "text" {
		zapConfig = zap.NewDevelopmentConfig()
		zapConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zapConfig.DisableStacktrace = true
	} else {
		zapConfig = zap.NewProductionConfig()

		if cfg.ScalyrFormat {
			encoderConfig := zapConfig.EncoderConfig
			encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
			encoderConfig.EncodeLevel = zapcore.LowercaseLevelEncoder
			encoderConfig.EncodeCaller = zapcore.ShortCallerEncoder

			Logger = zap.New(
				zapcore.NewCore(
					NewScalyrEncoder(encoderConfig),
					zapcore.Lock(os.Stderr),
					level,
				),
				zap.AddCaller(),
				zap.AddStacktrace(zapcore.ErrorLevel),
			)
			return nil
		}
	}
	zapConfig.Level = level
	zapConfig.OutputPaths = []string{"stderr"}
	zapConfig.ErrorOutputPaths = []string{"stderr"}

	var err error
	Logger, err = zapConfig.Build(zap.AddCaller())
	return err
}

// SetVerbosity maps the --verbose/--debug switches onto the log level
func SetVerbosity(verbose, debug bool) {
	switch {
	case debug:
		level.SetLevel(zapcore.DebugLevel)
	case verbose:
		level.SetLevel(zapcore.InfoLevel)
	default:
		level.SetLevel(zapcore.WarnLevel)
	}
}

// GetLogger returns the global logger
func GetLogger() *zap.Logger {
	if Logger == nil {
		// Fallback to a no-op logger so library code never panics in tests
		Logger = zap.NewNop()
	}
	return Logger
}

// WithContext adds context fields to logger
func WithContext(fields ...zap.Field) *zap.Logger {
	return GetLogger().With(fields...)
}

// WithRunID adds the run id to logger
func WithRunID(runID string) *zap.Logger {
	return GetLogger().With(zap.String("run_id", runID))
}

// WithComponent adds component name to logger
func WithComponent(component string) *zap.Logger {
	return GetLogger().With(zap.String("component", component))
}
