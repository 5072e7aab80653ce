// Copyright (c) The OpenTofu Authors
// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2023 HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/mattn/go-isatty"
)

// These are the environmental variables that determine if we log, and if
// we log whether or not the log should go to a file.
const (
	envLog     = "OPENSITE_LOG"
	envLogFile = "OPENSITE_LOG_PATH"
)

var (
	// ValidLevels are the log level names recognized from the environment.
	ValidLevels = []string{"TRACE", "DEBUG", "INFO", "WARN", "ERROR", "OFF"}

	// logger is the global hclog logger
	logger hclog.Logger

	// logWriter is a global writer for logs, to be used with the std log package
	logWriter io.Writer
)

func init() {
	logger = newHCLogger("opensite")
	logWriter = logger.StandardWriter(&hclog.StandardLoggerOptions{InferLevels: true})

	// set up the default std library logger to use our output
	log.SetFlags(0)
	log.SetPrefix("")
	log.SetOutput(logWriter)
}

// RegisterBuildLog adds a file sink so the run's log stream also lands in the
// build tree next to the artifacts it describes. Must be called before any
// named sub-loggers are created.
func RegisterBuildLog(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file %q: %w", path, err)
	}

	resettable, ok := logger.(hclog.OutputResettable)
	if !ok {
		f.Close()
		return fmt.Errorf("global logger does not support output replacement")
	}
	return resettable.ResetOutput(&hclog.LoggerOptions{
		Output: io.MultiWriter(f, logOutput()),
	})
}

// newHCLogger returns a new hclog.Logger instance with the given name
func newHCLogger(name string) hclog.Logger {
	logLevel, json := globalLogLevel()

	return hclog.New(&hclog.LoggerOptions{
		Name:              name,
		Level:             logLevel,
		Output:            logOutput(),
		IndependentLevels: true,
		JSONFormat:        json,
		Color:             globalColor(),
	})
}

func logOutput() io.Writer {
	logOutput := io.Writer(os.Stderr)

	if logPath := os.Getenv(envLogFile); logPath != "" {
		f, err := os.OpenFile(logPath, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0666)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening log file: %v\n", err)
		} else {
			logOutput = f
		}
	}

	return logOutput
}

// globalLogLevel returns the log level requested in the OPENSITE_LOG
// environment variable, and whether jsonformat logging was requested.
// Progress reporting is the primary user output of a build run, so the
// level defaults to INFO rather than off.
func globalLogLevel() (hclog.Level, bool) {
	var json bool
	envLevel := strings.ToUpper(os.Getenv(envLog))
	if envLevel == "JSON" {
		json = true
	}
	return parseLogLevel(envLevel), json
}

func parseLogLevel(envLevel string) hclog.Level {
	if envLevel == "" {
		return hclog.Info
	}
	if envLevel == "JSON" {
		envLevel = "TRACE"
	}

	logLevel := hclog.Trace
	if isValidLogLevel(envLevel) {
		logLevel = hclog.LevelFromString(envLevel)
	} else {
		fmt.Fprintf(os.Stderr,
			"[WARN] Invalid log level: %q. Defaulting to level: TRACE. Valid levels are: %+v",
			envLevel, ValidLevels)
	}

	return logLevel
}

func isValidLogLevel(level string) bool {
	for _, l := range ValidLevels {
		if level == l {
			return true
		}
	}
	return false
}

func globalColor() hclog.ColorOption {
	if isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd()) {
		return hclog.AutoColor
	}
	return hclog.ColorOff
}

// HCLogger returns the default global hclog logger
func HCLogger() hclog.Logger {
	return logger
}

// NewLogger returns a new logger based in the current global logger, with the
// given name appended.
func NewLogger(name string) hclog.Logger {
	if name == "" {
		panic("logger name required")
	}
	return &logPanicWrapper{
		Logger: logger.Named(name),
	}
}

// CurrentLogLevel returns the current log level string based the environment vars
func CurrentLogLevel() string {
	ll, _ := globalLogLevel()
	return strings.ToUpper(ll.String())
}

// IsDebugOrHigher returns whether or not the current log level is debug or trace
func IsDebugOrHigher() bool {
	level, _ := globalLogLevel()
	return level == hclog.Debug || level == hclog.Trace
}

// LogOutput returns the writer that the std log package uses for its output.
func LogOutput() io.Writer {
	return logWriter
}

// logPanicWrapper logs any panic through the hclog logger before repanicking,
// so crashes inside worker goroutines still reach the log file.
type logPanicWrapper struct {
	hclog.Logger
	panicRecorded bool
}

func (l *logPanicWrapper) Named(name string) hclog.Logger {
	return &logPanicWrapper{
		Logger: l.Logger.Named(name),
	}
}

func (l *logPanicWrapper) Debug(msg string, args ...interface{}) {
	// Once a panic line is seen, keep promoting the stack trace that follows
	// it so the whole crash lands at error level.
	if strings.HasPrefix(msg, "panic: ") || strings.HasPrefix(msg, "fatal error: ") {
		l.panicRecorded = true
	}

	if l.panicRecorded {
		l.Logger.Error(msg, args...)
		return
	}

	l.Logger.Debug(msg, args...)
}
