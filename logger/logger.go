package logger

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// Logger is the process-wide logger. It discards everything until
	// Initialize runs so packages can log from init and tests.
	Logger = zap.NewNop().Sugar()

	// JSONOutput records the mode passed to Initialize.
	JSONOutput bool

	// level is shared by every core so -v and hot reload change them together
	level = zap.NewAtomicLevelAt(zap.InfoLevel)
)

// Initialize installs the console or JSON logger.
func Initialize(jsonOutput bool) error {
	JSONOutput = jsonOutput
	if jsonOutput {
		cfg := zap.NewProductionConfig()
		cfg.Level = level
		built, err := cfg.Build()
		if err != nil {
			return err
		}
		Logger = built.Sugar()
		return nil
	}

	enc := zap.NewDevelopmentEncoderConfig()
	enc.EncodeLevel = zapcore.CapitalColorLevelEncoder
	enc.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(enc), zapcore.Lock(os.Stdout), level)
	Logger = zap.New(core).Sugar()
	return nil
}

// SetVerbosity maps a -v count onto the shared level.
func SetVerbosity(verbosity int) {
	level.SetLevel(VerbosityToLevel(verbosity))
}

// Level returns the shared level enabler.
func Level() zapcore.LevelEnabler {
	return level
}

// Tee fans every entry of the global logger out to core as well.
func Tee(core zapcore.Core) {
	current := Logger.Desugar().Core()
	Logger = zap.New(zapcore.NewTee(current, core), zap.AddCaller()).Sugar()
}

// AttachHTTP starts an HTTPCore at the shared level and tees it into the
// global logger. The caller owns the returned core and must Close it.
func AttachHTTP(cfg HTTPConfig) *HTTPCore {
	core := NewHTTPCore(level, cfg)
	Tee(core)
	return core
}

// Cleanup flushes buffered entries.
func Cleanup() {
	_ = Logger.Sync()
}

// Package-level shorthands for code without an injected logger.

func Debugw(msg string, kv ...interface{}) { Logger.Debugw(msg, kv...) }
func Infow(msg string, kv ...interface{})  { Logger.Infow(msg, kv...) }
func Warnw(msg string, kv ...interface{})  { Logger.Warnw(msg, kv...) }
func Errorw(msg string, kv ...interface{}) { Logger.Errorw(msg, kv...) }
