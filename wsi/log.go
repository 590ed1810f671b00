package wsi

import (
	"fmt"
	"strings"
	"time"
)

// ModeFlag is the minimum severity of messages that get logged.
type ModeFlag uint

const (
	DebugMode ModeFlag = iota
	InfoMode
	WarningMode
	ErrorMode
	CriticalMode
	SilentMode
)

var modeNames = []string{"debug", "info", "warning", "error", "critical", "silent"}

func (m ModeFlag) String() string {
	if int(m) < len(modeNames) {
		return modeNames[m]
	}
	return fmt.Sprintf("mode %d", uint(m))
}

// ParseLogMode reads the "level" setting of the [logging] section.  An empty
// level is InfoMode.
func ParseLogMode(level string) (ModeFlag, error) {
	if level == "" {
		return InfoMode, nil
	}
	for i, name := range modeNames {
		if strings.EqualFold(level, name) {
			return ModeFlag(i), nil
		}
	}
	return InfoMode, fmt.Errorf("unknown log level %q, expected one of %s: %w",
		level, strings.Join(modeNames, ", "), ErrConfiguration)
}

var (
	// Verbose turns on debug messages whatever the log mode.
	Verbose bool

	mode = InfoMode
)

// Logger provides a way for the application to log messages at different severities.
type Logger interface {
	// Debugf formats its arguments analogous to fmt.Printf and records the text as a log
	// message at Debug level.
	Debugf(format string, args ...interface{})

	// Infof is like Debugf, but at Info level.
	Infof(format string, args ...interface{})

	// Warningf is like Debugf, but at Warning level.
	Warningf(format string, args ...interface{})

	// Errorf is like Debugf, but at Error level.
	Errorf(format string, args ...interface{})

	// Criticalf is like Debugf, but at Critical level.
	Criticalf(format string, args ...interface{})

	// Shutdown makes sure logs are closed.
	Shutdown()
}

// SetLogMode sets the severity required for a log message to be printed.
// For example, SetLogMode(wsi.WarningMode) will log any calls using
// Warningf, Errorf, or Criticalf.  To turn off all logging, use SilentMode.
func SetLogMode(newMode ModeFlag) {
	mode = newMode
}

func enabled(m ModeFlag) bool {
	return mode <= m || (m == DebugMode && Verbose)
}

// Debugging is true if debug messages are logged, so callers can skip
// computing what only a debug message would show.
func Debugging() bool {
	return enabled(DebugMode)
}

func Debugf(format string, args ...interface{}) {
	if enabled(DebugMode) {
		logger.Debugf(format, args...)
	}
}

func Infof(format string, args ...interface{}) {
	if enabled(InfoMode) {
		logger.Infof(format, args...)
	}
}

func Warningf(format string, args ...interface{}) {
	if enabled(WarningMode) {
		logger.Warningf(format, args...)
	}
}

func Errorf(format string, args ...interface{}) {
	if enabled(ErrorMode) {
		logger.Errorf(format, args...)
	}
}

func Criticalf(format string, args ...interface{}) {
	if enabled(CriticalMode) {
		logger.Criticalf(format, args...)
	}
}

// Shutdown closes any log file in use.
func Shutdown() {
	logger.Shutdown()
}

// TimeLog adds elapsed time to logging.
// Example:
//
//	slideLog := NewSlideLog("TCGA-01")
//	...
//	slideLog.Infof("%d patches", n)  // slide "TCGA-01": 42 patches: 1.2s
type TimeLog struct {
	prefix string
	start  time.Time
}

func NewTimeLog() TimeLog {
	return TimeLog{start: time.Now()}
}

// NewSlideLog is a TimeLog whose messages name the slide being worked on.
func NewSlideLog(slideID string) TimeLog {
	return TimeLog{prefix: fmt.Sprintf("slide %q: ", slideID), start: time.Now()}
}

// Elapsed returns the time since the TimeLog was created.
func (t TimeLog) Elapsed() time.Duration {
	return time.Since(t.start)
}

func (t TimeLog) Debugf(format string, args ...interface{}) {
	if enabled(DebugMode) {
		logger.Debugf(t.prefix+format+": %s\n", append(args, t.Elapsed())...)
	}
}

func (t TimeLog) Infof(format string, args ...interface{}) {
	if enabled(InfoMode) {
		logger.Infof(t.prefix+format+": %s\n", append(args, t.Elapsed())...)
	}
}

// Warningf only adds the prefix.
func (t TimeLog) Warningf(format string, args ...interface{}) {
	if enabled(WarningMode) {
		logger.Warningf(t.prefix+format+"\n", args...)
	}
}
