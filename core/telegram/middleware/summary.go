package middleware

import (
	"errors"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/m3rciful/relaybot/core/logger"
	tghelpers "github.com/m3rciful/relaybot/core/telegram/helpers"

	tele "gopkg.in/telebot.v4"
)

// Summary describes how one update ended for the handler summary line.
type Summary struct {
	Handler string
	Outcome string
	// Status overrides the status derived from Err ("ok" or "fail").
	Status string
	Err    error
	Extras []slog.Attr
}

// LogSummary writes the "handler.handled" line of an update.
func LogSummary(c tele.Context, start time.Time, s Summary) {
	name := NormalizeHandlerName(s.Handler)
	ctx := tghelpers.WithHandler(c, name)

	status := s.Status
	if status == "" {
		status = "ok"
		if s.Err != nil {
			status = "fail"
		}
	}
	outcome := s.Outcome
	if outcome == "" {
		outcome = status
	}

	attrs := []slog.Attr{
		slog.String("status", status),
		slog.String("handler", name),
		slog.String("outcome", outcome),
		slog.Duration("duration", logger.Took(start)),
	}
	if s.Err != nil {
		attrs = append(attrs,
			slog.String("err", logger.SanitizeLimit(s.Err.Error(), 256)),
			slog.String("err_code", ErrorCode(s.Err)),
			slog.String("cause", name),
		)
	}
	attrs = append(attrs, s.Extras...)
	level := slog.LevelInfo
	if status == "fail" {
		level = slog.LevelWarn
	}
	logger.LogEvent(ctx, logger.Component("tg"), level, "handler.handled", attrs...)
}

// NormalizeHandlerName turns "/Block" or "edit sync" into "block" and "edit_sync".
func NormalizeHandlerName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "unknown"
	}
	name = strings.TrimPrefix(name, "/")
	name = strings.ReplaceAll(name, " ", "_")
	return strings.ToLower(name)
}

// ErrorCode derives a stable upper-case code from err: its Code() method when
// present anywhere in the chain, else the concrete type name.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	type coder interface{ Code() string }
	var c coder
	if errors.As(err, &c) {
		if code := strings.TrimSpace(c.Code()); code != "" {
			return strings.ToUpper(strings.ReplaceAll(code, " ", "_"))
		}
	}
	t := reflect.TypeOf(err)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t != nil && t.Name() != "" {
		return strings.ToUpper(t.Name())
	}
	return "UNKNOWN_ERROR"
}
