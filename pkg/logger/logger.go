// SPDX-License-Identifier: AGPL-3.0
// Copyright 2026 The Genie Authors
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package logger bootstraps slog for the Genie core.
//
// Third-party library records are suppressed unless the level is DEBUG, so
// normal operation only shows Genie's own logs.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"runtime"
	"strings"
)

var defaultLogger *slog.Logger

const geniePackagePrefix = "github.com/genie-ai/genie"

// ParseLevel converts a string log level to slog.Level.
// Valid levels: debug, info, warn, error. Unknown values default to warn.
func ParseLevel(levelStr string) (slog.Level, error) {
	switch strings.ToLower(levelStr) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelWarn, nil
	}
}

// filteringHandler drops records emitted from outside the genie module
// unless the configured level is DEBUG.
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
	if h.isGeniePackage(record.PC) {
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

func (h *filteringHandler) isGeniePackage(pc uintptr) bool {
	if pc == 0 {
		return false
	}
	fn := runtime.FuncForPC(pc)
	if fn == nil {
		return false
	}
	file, _ := fn.FileLine(pc)
	return strings.Contains(fn.Name(), geniePackagePrefix) ||
		strings.Contains(file, "genie/")
}

// simpleTextHandler formats records as "LEVEL message k=v ...".
type simpleTextHandler struct {
	handler slog.Handler
	writer  io.Writer
}

func (h *simpleTextHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.handler.Enabled(ctx, level)
}

func (h *simpleTextHandler) Handle(ctx context.Context, record slog.Record) error {
	var buf strings.Builder

	levelStr := record.Level.String()
	if levelStr == "WARNING" {
		levelStr = "WARN"
	}
	buf.WriteString(strings.ToUpper(levelStr))
	buf.WriteString(" ")
	buf.WriteString(record.Message)

	record.Attrs(func(a slog.Attr) bool {
		buf.WriteString(" ")
		buf.WriteString(a.Key)
		buf.WriteString("=")
		buf.WriteString(a.Value.String())
		return true
	})
	buf.WriteString("\n")

	_, err := h.writer.Write([]byte(buf.String()))
	return err
}

func (h *simpleTextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &simpleTextHandler{handler: h.handler.WithAttrs(attrs), writer: h.writer}
}

func (h *simpleTextHandler) WithGroup(name string) slog.Handler {
	return &simpleTextHandler{handler: h.handler.WithGroup(name), writer: h.writer}
}

// Init initializes the default logger.
// format: "simple" (level + message, the default) or "verbose" (standard
// slog text format with timestamps).
func Init(level slog.Level, output *os.File, format string) {
	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.LevelKey && a.Value.String() == "WARNING" {
				return slog.String("level", "WARN")
			}
			return a
		},
	}

	var handler slog.Handler = slog.NewTextHandler(output, opts)
	if format == "simple" || format == "" {
		handler = &simpleTextHandler{handler: handler, writer: output}
	}

	defaultLogger = slog.New(&filteringHandler{handler: handler, minLevel: level})

	// All libraries routing through the slog default hit the filter too.
	slog.SetDefault(defaultLogger)
}

// OpenLogFile opens or creates a log file at the specified path.
func OpenLogFile(path string) (*os.File, func(), error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, err
	}
	return file, func() { _ = file.Close() }, nil
}

// GetLogger returns the default slog logger, initializing it lazily.
func GetLogger() *slog.Logger {
	if defaultLogger == nil {
		Init(slog.LevelInfo, os.Stderr, "simple")
	}
	return defaultLogger
}
