package kfmt

// Level selects which messages are emitted by Log. Messages whose level is
// numerically greater than the active level are dropped.
type Level uint8

// Log levels, from least to most verbose.
const (
	LevelError Level = 3
	LevelWarn  Level = 4
	LevelInfo  Level = 6
	LevelDebug Level = 7
)

// logLevel is the active log level.
var logLevel = LevelWarn

// SetLogLevel sets the active log level.
func SetLogLevel(level Level) {
	logLevel = level
}

// LogLevel returns the active log level.
func LogLevel() Level {
	return logLevel
}

// ParseLogLevel maps a level name as it appears on the kernel command line
// (e.g. loglevel=debug) to a Level.
func ParseLogLevel(name string) (Level, bool) {
	switch name {
	case "error":
		return LevelError, true
	case "warn":
		return LevelWarn, true
	case "info":
		return LevelInfo, true
	case "debug":
		return LevelDebug, true
	default:
		return 0, false
	}
}

// Log invokes Printf if level is enabled.
func Log(level Level, format string, args ...interface{}) {
	if level > logLevel {
		return
	}

	Printf(format, args...)
}
