// Copyright 2025 The Wastepro Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package logger configures the process-wide slog logger.
//
// The configuration surface mirrors the [logging] table of wastepro.toml:
// a level (VERBOSE, DEBUG, INFO, WARNING, ERROR), an optional file sink,
// and a logger name attached to every record. VERBOSE sits one notch below
// slog's DEBUG and is meant for per-message bus tracing.
package logger

import (
	"context"
	"log/slog"
	"os"
	"runtime"
	"strings"
)

// LevelVerbose is finer than slog.LevelDebug; bus-level message traces log here.
const LevelVerbose = slog.LevelDebug - 4

const modulePrefix = "github.com/wastepro/wastepro"

var defaultLogger *slog.Logger

// ParseLevel converts a configuration level string to a slog.Level.
// Valid levels: verbose, debug, info, warning (or warn), error.
// Unknown strings fall back to info.
func ParseLevel(levelStr string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(levelStr)) {
	case "verbose":
		return LevelVerbose
	case "debug":
		return slog.LevelDebug
	case "info", "":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// LevelName renders a slog.Level using the configuration vocabulary,
// mapping the custom verbose level back to "VERBOSE".
func LevelName(level slog.Level) string {
	if level <= LevelVerbose {
		return "VERBOSE"
	}
	s := level.String()
	if s == "WARN" {
		return "WARNING"
	}
	return s
}

// filteringHandler suppresses records emitted by third-party libraries
// unless the configured level is debug or finer. Libraries that route
// through slog.Default would otherwise drown service logs at info.
type filteringHandler struct {
	handler  slog.Handler
	minLevel slog.Level
}

func (h *filteringHandler) Enabled(ctx context.Context, level slog.Level) bool {
	if level < h.minLevel {
		return false
	}
	return h.handler.Enabled(ctx, level)
}

func (h *filteringHandler) Handle(ctx context.Context, record slog.Record) error {
	if h.minLevel <= slog.LevelDebug {
		return h.handler.Handle(ctx, record)
	}
	if record.Level >= slog.LevelWarn || fromThisModule(record.PC) {
		return h.handler.Handle(ctx, record)
	}
	return nil
}

func (h *filteringHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &filteringHandler{handler: h.handler.WithAttrs(attrs), minLevel: h.minLevel}
}

func (h *filteringHandler) WithGroup(name string) slog.Handler {
	return &filteringHandler{handler: h.handler.WithGroup(name), minLevel: h.minLevel}
}

func fromThisModule(pc uintptr) bool {
	if pc == 0 {
		return false
	}
	fn := runtime.FuncForPC(pc)
	if fn == nil {
		return false
	}
	file, _ := fn.FileLine(pc)
	return strings.Contains(fn.Name(), modulePrefix) ||
		strings.Contains(file, "wastepro/")
}

// Options controls Init. The zero value logs info-level text to stderr.
type Options struct {
	Level  slog.Level
	Format string // "text" (default) or "json"
	Name   string // attached to every record as logger=<name>
	Output *os.File
}

// Init installs the process logger and makes it the slog default so that
// libraries logging through slog land in the same sink.
func Init(opts Options) *slog.Logger {
	output := opts.Output
	if output == nil {
		output = os.Stderr
	}

	hopts := &slog.HandlerOptions{
		Level: opts.Level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.LevelKey {
				if level, ok := a.Value.Any().(slog.Level); ok {
					return slog.String(slog.LevelKey, LevelName(level))
				}
			}
			return a
		},
	}

	var base slog.Handler
	if strings.EqualFold(opts.Format, "json") {
		base = slog.NewJSONHandler(output, hopts)
	} else {
		base = slog.NewTextHandler(output, hopts)
	}

	handler := slog.Handler(&filteringHandler{handler: base, minLevel: opts.Level})
	log := slog.New(handler)
	if opts.Name != "" {
		log = log.With("logger", opts.Name)
	}

	defaultLogger = log
	slog.SetDefault(log)
	return log
}

// OpenLogFile opens (creating if needed) an append-mode log file.
// The returned cleanup closes the handle.
func OpenLogFile(path string) (*os.File, func(), error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, err
	}
	return file, func() { _ = file.Close() }, nil
}

// Verbose logs at the custom verbose level on the given logger.
func Verbose(log *slog.Logger, msg string, args ...any) {
	log.Log(context.Background(), LevelVerbose, msg, args...)
}

// GetLogger returns the process logger, initializing a default one on first use.
func GetLogger() *slog.Logger {
	if defaultLogger == nil {
		return Init(Options{Level: slog.LevelInfo})
	}
	return defaultLogger
}
