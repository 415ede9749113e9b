// Package ambassadorlog provides the process-wide structured logger. A
// single slog.Logger singleton is held behind an atomic pointer so call
// sites use package-level functions (Info, Warnf, ...) without threading a
// logger through every call, while tests can swap the singleton safely.
package ambassadorlog

import (
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"sync/atomic"

	"github.com/go-logr/logr"
	"github.com/go-logr/stdr"
)

var singleton atomic.Pointer[slog.Logger]

func init() {
	singleton.Store(newDefault(os.Stderr))
}

func newDefault(w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	if unstructuredLogs() {
		return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

// unstructuredLogs reports whether to emit plain text instead of JSON;
// plain text unless explicitly disabled.
func unstructuredLogs() bool {
	v, ok := os.LookupEnv("UNSTRUCTURED_LOGS")
	if !ok || v == "" {
		return true
	}
	b, err := parseBool(v)
	if err != nil {
		return true
	}
	return b
}

func parseBool(s string) (bool, error) {
	switch s {
	case "true", "1", "TRUE", "True":
		return true, nil
	case "false", "0", "FALSE", "False":
		return false, nil
	default:
		return false, fmt.Errorf("not a bool: %q", s)
	}
}

// Initialize rebuilds the singleton from the current environment. Intended
// to be called once at process start after flags/env are parsed.
func Initialize() {
	singleton.Store(newDefault(os.Stderr))
}

// Get returns the current singleton logger.
func Get() *slog.Logger {
	return singleton.Load()
}

// NewLogr bridges into a logr.Logger for libraries (e.g.
// controller-runtime style dependencies) that expect one.
func NewLogr() logr.Logger {
	return stdr.New(log.New(os.Stderr, "", log.LstdFlags))
}

func Debug(msg string)                  { Get().Debug(msg) }
func Debugf(format string, args ...any) { Get().Debug(fmt.Sprintf(format, args...)) }
func Debugw(msg string, kv ...any)      { Get().Debug(msg, kv...) }
func Info(msg string)                   { Get().Info(msg) }
func Infof(format string, args ...any)  { Get().Info(fmt.Sprintf(format, args...)) }
func Infow(msg string, kv ...any)       { Get().Info(msg, kv...) }
func Warn(msg string)                   { Get().Warn(msg) }
func Warnf(format string, args ...any)  { Get().Warn(fmt.Sprintf(format, args...)) }
func Warnw(msg string, kv ...any)       { Get().Warn(msg, kv...) }
func Error(msg string)                  { Get().Error(msg) }
func Errorf(format string, args ...any) { Get().Error(fmt.Sprintf(format, args...)) }
func Errorw(msg string, kv ...any)      { Get().Error(msg, kv...) }

// Panic logs at error level then panics; a "log loudly before crashing"
// helper for programmer-error conditions.
func Panic(msg string) {
	Get().Error(msg)
	panic(msg)
}

func Panicf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	Get().Error(msg)
	panic(msg)
}

func Panicw(msg string, kv ...any) {
	Get().Error(msg, kv...)
	panic(msg)
}
