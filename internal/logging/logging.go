// Package logging 构建 slog logger
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
)

// New level: debug/info/warn/error, format: text/json/auto
// auto 在终端上输出 text, 否则输出 json
func New(levelStr, formatStr string, out io.Writer) *slog.Logger {
	handlerOpts := &slog.HandlerOptions{Level: ParseLevel(levelStr)}
	var handler slog.Handler
	switch resolveFormat(formatStr, out) {
	case "json":
		handler = slog.NewJSONHandler(out, handlerOpts)
	default:
		handler = slog.NewTextHandler(out, handlerOpts)
	}
	return slog.New(handler)
}

func ParseLevel(levelStr string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(levelStr)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

func resolveFormat(formatStr string, out io.Writer) string {
	format := strings.ToLower(strings.TrimSpace(formatStr))
	if format == "text" || format == "json" {
		return format
	}
	if IsTerminal(out) {
		return "text"
	}
	return "json"
}

// IsTerminal out 是不是终端
func IsTerminal(out io.Writer) bool {
	file, ok := out.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
