package logger

import "strings"

const (
	// LevelDebug represents the debug severity level name.
	LevelDebug = "DEBUG"
	// LevelInfo represents the info severity level name.
	LevelInfo = "INFO"
	// LevelWarn represents the warning severity level name.
	LevelWarn = "WARN"
	// LevelError represents the error severity level name.
	LevelError = "ERROR"
	// LevelFatal represents the fatal severity level name.
	LevelFatal = "FATAL"
)

var allowedLevels = map[string]string{
	"debug":   LevelDebug,
	"info":    LevelInfo,
	"warn":    LevelWarn,
	"warning": LevelWarn,
	"error":   LevelError,
	"fatal":   LevelFatal,
}

var allowedStatus = map[string]string{
	"ok":           "ok",
	"fail":         "fail",
	"skip":         "skip",
	"retry":        "retry",
	"rate_limited": "rate_limited",
	"cancelled":    "cancelled",
}

var allowedOutcome = map[string]string{
	"ok":           "ok",
	"fail":         "fail",
	"skip":         "skip",
	"dropped":      "dropped",
	"cancelled":    "cancelled",
	"rate_limited": "rate_limited",
	"relayed":      "relayed",
	"edited":       "edited",
	"command":      "command",
	"challenged":   "challenged",
	"verified":     "verified",
	"rejected":     "rejected",
	"blocked":      "blocked",
	"ignored":      "ignored",
}

// enumKeys lists keys whose values must come from a closed set; anything
// else is dropped from the line.
var enumKeys = map[string]map[string]string{
	"outcome":   allowedOutcome,
	"topology":  {"direct": "direct", "grouped": "grouped"},
	"direction": {"to_operator": "to_operator", "to_sender": "to_sender"},
}

func normalizeLevel(level string) string {
	if level == "" {
		return LevelInfo
	}
	if mapped, ok := allowedLevels[strings.ToLower(level)]; ok {
		return mapped
	}
	return strings.ToUpper(level)
}

// normalizeStatus lowercases status; unknown values are kept as given.
func normalizeStatus(status string) string {
	status = strings.ToLower(strings.TrimSpace(status))
	if mapped, ok := allowedStatus[status]; ok {
		return mapped
	}
	return status
}

var defaultKeyOrder = []string{
	"ts",
	"level",
	"component",
	"event",
	"status",
	"rid",
	"rid_full",
	"ts_unix_nano",
	"bot",
	"update_id",
	"user_id",
	"chat_id",
	"chat_type",
	"handler",
	"kind",
	"topology",
	"direction",
	"target_user",
	"namespace",
	"key",
	"thread_id",
	"delivered_id",
	"cb_key",
	"outcome",
	"duration_ms",
	"count",
	"payload",
	"username",
	"mode",
	"db",
	"driver",
	"host",
	"port",
	"err",
	"err_code",
	"err_kind",
	"cause",
	"retryable",
	"attempts",
	"backoff_ms",
	"rate_limited",
}
