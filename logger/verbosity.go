package logger

import "go.uber.org/zap/zapcore"

// -v counts accepted by the janus CLI.
const (
	VerbosityUser  = 0 // warnings and errors
	VerbosityInfo  = 1 // surface lifecycle, canonical refreshes
	VerbosityDebug = 2 // every inbound message and query
	VerbosityTrace = 3 // CDP frames as well
)

var verbosityNames = [...]string{"User", "Info (-v)", "Debug (-vv)", "Trace (-vvv)"}

// VerbosityToLevel returns Warn for no flag, Info for -v and Debug beyond.
// Trace has no zap level of its own; see ShouldLogTrace.
func VerbosityToLevel(verbosity int) zapcore.Level {
	if verbosity <= VerbosityUser {
		return zapcore.WarnLevel
	}
	if verbosity == VerbosityInfo {
		return zapcore.InfoLevel
	}
	return zapcore.DebugLevel
}

// ShouldLogTrace reports whether raw protocol frames should be logged.
func ShouldLogTrace(verbosity int) bool {
	return verbosity >= VerbosityTrace
}

// LevelName is the label shown in the startup banner.
func LevelName(verbosity int) string {
	switch {
	case verbosity < 0:
		return "Unknown"
	case verbosity >= VerbosityTrace:
		return verbosityNames[VerbosityTrace]
	default:
		return verbosityNames[verbosity]
	}
}
