package wsi

import (
	"fmt"
	"log"

	"github.com/natefinch/lumberjack"
)

type stdLogger struct {
	*lumberjack.Logger
}

var logger Logger = stdLogger{}

// LogConfig is the [logging] section of a wsipatch TOML configuration.
type LogConfig struct {
	Logfile string
	MaxSize int `toml:"max_log_size"`
	MaxAge  int `toml:"max_log_age"`

	// Level is the minimum severity logged: debug, info, warning, error,
	// critical or silent.
	Level string `toml:"level"`
}

// SetLogger sets the log mode and creates a logger that saves to a rotating
// log file, if one is given.
func (c *LogConfig) SetLogger() error {
	if c == nil {
		return nil
	}
	m, err := ParseLogMode(c.Level)
	if err != nil {
		return err
	}
	SetLogMode(m)
	if c.Logfile == "" {
		Infof("Sending log messages to stdout since no log file specified.\n")
		return nil
	}
	fmt.Printf("Sending %s and more severe log messages to: %s\n", m, c.Logfile)
	l := &lumberjack.Logger{
		Filename: c.Logfile,
		MaxSize:  c.MaxSize, // megabytes
		MaxAge:   c.MaxAge,  // days
	}
	log.SetOutput(l)
	logger = stdLogger{l}
	return nil
}

// --- Logger implementation ----

func (slog stdLogger) Debugf(format string, args ...interface{}) {
	log.Printf(" DEBUG "+format, args...)
}

func (slog stdLogger) Infof(format string, args ...interface{}) {
	log.Printf(" INFO "+format, args...)
}

func (slog stdLogger) Warningf(format string, args ...interface{}) {
	log.Printf(" WARNING "+format, args...)
}

func (slog stdLogger) Errorf(format string, args ...interface{}) {
	log.Printf(" ERROR "+format, args...)
}

func (slog stdLogger) Criticalf(format string, args ...interface{}) {
	log.Printf(" CRITICAL "+format, args...)
}

func (slog stdLogger) Shutdown() {
	if slog.Logger != nil {
		log.Printf("Closing log file...\n")
		slog.Close()
	}
}
