package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Log is the process-wide logger. It discards everything until Init runs, so
// packages and tests can log unconditionally.
var Log *zap.SugaredLogger = zap.NewNop().Sugar()

// Init builds the logger for the given profile ("prod" selects JSON output)
// and level ("debug", "info", "warn", "error"; empty keeps the profile default).
func Init(profile, level string) error {
	var cfg zap.Config

	if profile == "prod" {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	if level != "" {
		lvl, err := zap.ParseAtomicLevel(level)
		if err != nil {
			return err
		}
		cfg.Level = lvl
	}

	cfg.OutputPaths = []string{"stdout"}
	cfg.ErrorOutputPaths = []string{"stderr"}

	l, err := cfg.Build()
	if err != nil {
		return err
	}

	Log = l.Sugar()
	return nil
}

func Sync() {
	if Log == nil {
		return
	}

	_ = Log.Sync()
}

// PromptLineReporter returns a callback that warns about a prompt line the
// compiler skipped, prefixed with tag.
func PromptLineReporter(tag string) func(line int, text string) {
	return func(line int, text string) {
		Log.Warnw(tag+" unrecognized prompt line", "line", line, "text", text)
	}
}
