// Copyright (c) 2026 The dispatchd Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package serverlog implements the append-only, level-tagged line logger.
//
// Every record is a single line of the form "<tag><pid>.<unit>: <text>\n"
// where tag is one of I, D, E, S, F for info, debug, error, sys-error and
// fatal respectively. The log file is opened lazily on first write; if it
// cannot be opened, records fall back to stderr instead of propagating the
// open error to the caller.
package serverlog

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// Level identifies one of the five record kinds this logger emits.
type Level uint8

const (
	Info Level = iota
	Debug
	Error
	SysError
	Fatal
)

func (l Level) tag() string {
	switch l {
	case Info:
		return "I"
	case Debug:
		return "D"
	case Error:
		return "E"
	case SysError:
		return "S"
	case Fatal:
		return "F"
	default:
		return "?"
	}
}

// lineFormatter renders logrus entries in the spec's exact line grammar.
// logrus's built-in formatters cannot be configured to drop the timestamp
// and emit a bare "<tag><pid>.<unit>: <text>" line, so this one is custom.
type lineFormatter struct{}

func (lineFormatter) Format(e *logrus.Entry) ([]byte, error) {
	tag, _ := e.Data["tag"].(string)
	pid, _ := e.Data["pid"].(int)
	unit, _ := e.Data["unit"].(int)
	line := fmt.Sprintf("%s%d.%d: %s\n", tag, pid, unit, e.Message)
	return []byte(line), nil
}

// Logger is the process-wide append sink. Safe for concurrent use; all
// writes are serialized at line granularity.
type Logger struct {
	mu       sync.Mutex
	path     string
	file     *os.File
	openErr  error
	opened   bool
	pid      int
	base     *logrus.Logger
	nextUnit int32
}

// New constructs a Logger that will append to path on first write.
// An empty path routes every record to stderr.
func New(path string) *Logger {
	base := logrus.New()
	base.SetFormatter(lineFormatter{})
	base.SetOutput(os.Stderr) // replaced with the real file on first write
	base.SetLevel(logrus.DebugLevel)
	return &Logger{
		path: path,
		pid:  os.Getpid(),
		base: base,
	}
}

// NextUnit assigns a small monotonic id substituting for the C++ original's
// OS thread id; Go goroutines expose no stable equivalent. Call once per
// worker or event-loop unit at spawn time.
func (l *Logger) NextUnit() int {
	return int(atomic.AddInt32(&l.nextUnit, 1))
}

// UnitLogger binds a Logger to a fixed unit id, matching the "<pid>.<unit>"
// tag every record from that concurrent unit should carry.
type UnitLogger struct {
	l    *Logger
	unit int
}

// ForUnit returns a logger bound to the given unit id.
func (l *Logger) ForUnit(unit int) *UnitLogger {
	return &UnitLogger{l: l, unit: unit}
}

func (l *Logger) ensureOpen() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.opened {
		return
	}
	l.opened = true
	if l.path == "" {
		return
	}
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		l.openErr = err
		fmt.Fprintf(os.Stderr, "E%d.0: cannot open log file %q: %s\n", l.pid, l.path, err)
		return
	}
	l.file = f
	l.base.SetOutput(f)
}

func (l *Logger) write(level Level, unit int, text string) {
	l.ensureOpen()
	l.mu.Lock()
	defer l.mu.Unlock()
	entry := l.base.WithFields(logrus.Fields{
		"tag":  level.tag(),
		"pid":  l.pid,
		"unit": unit,
	})
	switch level {
	case Fatal, Error, SysError:
		entry.Error(text)
	case Debug:
		entry.Debug(text)
	default:
		entry.Info(text)
	}
}

// Info logs at info level against the process-wide unit 0.
func (l *Logger) Info(text string) { l.write(Info, 0, text) }

// Debug logs at debug level against the process-wide unit 0.
func (l *Logger) Debug(text string) { l.write(Debug, 0, text) }

// LogError logs at error level against the process-wide unit 0.
func (l *Logger) LogError(text string) { l.write(Error, 0, text) }

// SysError logs a composite "<text>: <err>" message at error level.
func (l *Logger) SysError(text string, err error) {
	l.write(SysError, 0, fmt.Sprintf("%s: %s", text, err))
}

// Fatal logs at fatal level against the process-wide unit 0.
func (l *Logger) Fatal(text string) { l.write(Fatal, 0, text) }

// Close releases the underlying file, if one was opened.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}

func (u *UnitLogger) Info(text string)  { u.l.write(Info, u.unit, text) }
func (u *UnitLogger) Debug(text string) { u.l.write(Debug, u.unit, text) }
func (u *UnitLogger) Error(text string) { u.l.write(Error, u.unit, text) }
func (u *UnitLogger) SysError(text string, err error) {
	u.l.write(SysError, u.unit, fmt.Sprintf("%s: %s", text, err))
}
func (u *UnitLogger) Fatal(text string) { u.l.write(Fatal, u.unit, text) }
