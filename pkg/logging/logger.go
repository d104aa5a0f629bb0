package logging

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

// Enumeration of the different log levels
const (
	LogLevelSilent  = iota // no output at all
	LogLevelError          // only errors and the closing message
	LogLevelWarning        // errors, warnings and the closing message
	LogLevelVerbose        // everything, including phase progress (DEFAULT)
)

var levelNames = map[string]int{
	"silent":  LogLevelSilent,
	"error":   LogLevelError,
	"warn":    LogLevelWarning,
	"verbose": LogLevelVerbose,
}

// LevelNames lists the accepted level names.
func LevelNames() []string {
	return []string{"silent", "error", "warn", "verbose"}
}

// ParseLevel converts a level name to its value.
func ParseLevel(name string) (int, error) {
	lvl, ok := levelNames[strings.ToLower(name)]
	if !ok {
		return 0, fmt.Errorf("unknown log level %q (want one of %s)", name, strings.Join(LevelNames(), ", "))
	}
	return lvl, nil
}

// Logger collects diagnostics from a run. Errors print immediately;
// warnings are held until Finish. It is safe for concurrent use.
type Logger struct {
	LogLevel   int
	errorCount int
	warnings   []warning
	m          *sync.Mutex
}

type warning struct {
	tag string
	msg string
}

// NewLogger creates a logger at the given level.
func NewLogger(level int) *Logger {
	return &Logger{LogLevel: level, m: &sync.Mutex{}}
}

// Header prints the version banner.
func (l *Logger) Header(version, project string) {
	if l.LogLevel >= LogLevelVerbose {
		displayHeader(version, project)
	}
}

// BeginPhase announces a pipeline phase.
func (l *Logger) BeginPhase(phase string) {
	if l.LogLevel >= LogLevelVerbose {
		displayBeginPhase(phase)
	}
}

// EndPhase closes the current phase.
func (l *Logger) EndPhase(success bool) {
	if l.LogLevel >= LogLevelVerbose {
		displayEndPhase(success)
	}
}

// Error reports an error.
func (l *Logger) Error(tag string, err error) {
	l.m.Lock()
	defer l.m.Unlock()

	l.errorCount++
	if l.LogLevel > LogLevelSilent {
		displayEndPhase(false)
		PrintErrorMessage(tag, err)
	}
}

// Warn records a warning for the closing summary.
func (l *Logger) Warn(tag, msg string) {
	l.m.Lock()
	defer l.m.Unlock()
	l.warnings = append(l.warnings, warning{tag: tag, msg: msg})
}

// Warnf records a formatted warning.
func (l *Logger) Warnf(tag, format string, args ...interface{}) {
	l.Warn(tag, fmt.Sprintf(format, args...))
}

// Info prints a progress note.
func (l *Logger) Info(tag, msg string) {
	if l.LogLevel >= LogLevelVerbose {
		l.m.Lock()
		defer l.m.Unlock()
		PrintInfoMessage(tag, msg)
	}
}

// ErrorCount returns how many errors were reported.
func (l *Logger) ErrorCount() int {
	l.m.Lock()
	defer l.m.Unlock()
	return l.errorCount
}

// WarningCount returns how many warnings were recorded.
func (l *Logger) WarningCount() int {
	l.m.Lock()
	defer l.m.Unlock()
	return len(l.warnings)
}

// Finish prints held warnings and the closing message.
func (l *Logger) Finish(what string) {
	l.m.Lock()
	defer l.m.Unlock()

	if l.LogLevel >= LogLevelWarning {
		for _, w := range l.warnings {
			PrintWarningMessage(w.tag, w.msg)
		}
	}
	if l.LogLevel == LogLevelSilent {
		return
	}

	summary := fmt.Sprintf("%s (%d error(s), %d warning(s))", what, l.errorCount, len(l.warnings))
	if l.errorCount == 0 {
		PrintSuccessMessage("Success", summary)
	} else {
		PrintErrorMessage("Failed", errors.New(summary))
	}
}
