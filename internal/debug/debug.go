package debug

import (
	"io"
	"os"

	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"
)

// Debug levels
const (
	LevelOff     = 0 // No output except diagnostics
	LevelInfo    = 1 // Important info (session, output directory, permission)
	LevelLive    = 2 // Live info (bindings, photos saved)
	LevelVerbose = 3 // Verbose (lifecycle transitions, executor activity)
	LevelTrace   = 4 // Trace (frames, GPIO, very low level)
)

var (
	level  int
	logger *log.Logger
)

// Init initializes the debug system with a level (0-4).
// 0 = diagnostics only (capture failures)
// 1 = important info (session id, output directory, permission state)
// 2 = live info (camera bound, photos saved)
// 3 = verbose (lifecycle, executors, start results)
// 4 = trace (preview frames, GPIO reads)
func Init(debugLevel int) {
	level = debugLevel
	logger = log.NewWithOptions(os.Stdout, log.Options{
		ReportTimestamp: true,
		TimeFormat:      "15:04:05.000",
		Prefix:          "SnapGo",
	})
	logger.SetLevel(log.DebugLevel)
}

// SetOutput redirects all debug output to w.
func SetOutput(w io.Writer) {
	if logger == nil {
		Init(level)
	}
	logger.SetOutput(w)
}

// Level returns the current debug level.
func Level() int {
	return level
}

// IsEnabled returns true if debug level is >= the requested level.
func IsEnabled(minLevel int) bool {
	return level >= minLevel
}

// --- Level 1 functions (Info): important info ---

// Info prints a level 1 message (important info).
func Info(format string, args ...interface{}) {
	if level >= LevelInfo && logger != nil {
		logger.Infof(format, args...)
	}
}

// Value prints a named value in formatted form (level 1).
func Value(name string, value interface{}) {
	if level >= LevelInfo && logger != nil {
		logger.Info(name, "value", value)
	}
}

// Permission prints the outcome of a permission check (level 1).
func Permission(capability string, granted bool) {
	if level >= LevelInfo && logger != nil {
		logger.Info("permission", "capability", capability, "granted", granted)
	}
}

// --- Level 2 functions (Live): real-time info ---

// Live prints a level 2 message (live info).
func Live(format string, args ...interface{}) {
	if level >= LevelLive && logger != nil {
		logger.Infof("[LIVE] "+format, args...)
	}
}

// Saved prints a photo written to disk (level 2).
func Saved(path string, size int) {
	if level >= LevelLive && logger != nil {
		logger.Info("[LIVE] photo saved", "path", path, "size", humanize.Bytes(uint64(size)))
	}
}

// Bound prints a camera binding (level 2).
func Bound(camera string, useCases int) {
	if level >= LevelLive && logger != nil {
		logger.Info("[LIVE] camera bound", "camera", camera, "use_cases", useCases)
	}
}

// --- Level 3 functions (Verbose): everything ---

// Verbose prints a level 3 message (verbose).
func Verbose(format string, args ...interface{}) {
	if level >= LevelVerbose && logger != nil {
		logger.Debugf("[VERBOSE] "+format, args...)
	}
}

// Printf is an alias for Verbose.
func Printf(format string, args ...interface{}) {
	Verbose(format, args...)
}

// PrintStruct prints a struct in formatted form (level 3).
func PrintStruct(name string, v interface{}) {
	if level >= LevelVerbose && logger != nil {
		logger.Debugf("[VERBOSE] %s: %+v", name, v)
	}
}

// Section prints a section separator (level 3).
func Section(name string) {
	if level >= LevelVerbose && logger != nil {
		logger.Debug("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
		logger.Debugf("  %s", name)
		logger.Debug("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	}
}

// Step prints a numbered step (level 3).
func Step(num int, description string) {
	if level >= LevelVerbose && logger != nil {
		logger.Debugf("[VERBOSE] Step %d: %s", num, description)
	}
}

// --- Level 4 functions (Trace): very low level ---

// Trace prints a level 4 message (trace).
func Trace(format string, args ...interface{}) {
	if level >= LevelTrace && logger != nil {
		logger.Debugf("[TRACE] "+format, args...)
	}
}

// GPIO prints a GPIO operation (level 4).
func GPIO(operation string, pin int, value interface{}) {
	if level >= LevelTrace && logger != nil {
		logger.Debug("[GPIO] "+operation, "pin", pin, "value", value)
	}
}

// --- General functions ---

// Error prints a debug error (level 1+).
func Error(err error) {
	if level >= LevelInfo && logger != nil {
		logger.Error(err)
	}
}

// Toast prints a message meant for the user regardless of the debug level.
func Toast(msg string) {
	if logger == nil {
		Init(level)
	}
	logger.Print(msg)
}

// Diagnostic records a tagged failure regardless of the debug level.
func Diagnostic(tag string, err error) {
	if logger == nil {
		Init(level)
	}
	logger.Error(tag, "err", err)
}
