package logger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"
)

type logFormat string

const (
	formatJSON logFormat = "json"
	formatKV   logFormat = "kv"

	timeFormatMillis = "2006-01-02T15:04:05.000Z07:00"
)

var errNoWriter = errors.New("logger: writer not initialized")

type handlerConfig struct {
	level    slog.Leveler
	writer   *asyncWriter
	format   logFormat
	keyOrder []string
}

// structuredHandler renders one line per record with a stable key order.
// Context metadata (rid, bot, update/user/chat, handler) fills keys the
// record did not set itself.
type structuredHandler struct {
	cfg    handlerConfig
	attrs  []slog.Attr
	groups []string
}

func newStructuredHandler(cfg handlerConfig) *structuredHandler {
	if cfg.level == nil {
		cfg.level = slog.LevelInfo
	}
	if cfg.keyOrder == nil {
		cfg.keyOrder = append([]string(nil), defaultKeyOrder...)
	}
	return &structuredHandler{cfg: cfg}
}

func (h *structuredHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.cfg.level.Level()
}

func (h *structuredHandler) Handle(ctx context.Context, r slog.Record) error {
	if h.cfg.writer == nil {
		return errNoWriter
	}
	jsonOut := h.cfg.format == formatJSON

	f := make(fields, 16)
	ts := r.Time.UTC()
	f["ts"] = ts.Truncate(time.Millisecond).Format(timeFormatMillis)
	f["level"] = normalizeLevel(r.Level.String())
	if jsonOut {
		f["ts_unix_nano"] = ts.UnixNano()
	}
	for _, a := range h.attrs {
		f.add(h.groups, a)
	}
	r.Attrs(func(a slog.Attr) bool {
		f.add(h.groups, a)
		return true
	})
	f.fromContext(ctx)
	f.compactRID(jsonOut)
	f.setDefault("event", r.Message, "unknown")
	f.setDefault("component", "app")
	f.scrub()

	var (
		line []byte
		err  error
	)
	if jsonOut {
		line, err = encodeJSON(f, h.cfg.keyOrder)
	} else {
		line = encodeKV(f, h.cfg.keyOrder)
	}
	if err != nil {
		return err
	}
	return h.cfg.writer.Write(append(line, '\n'))
}

func (h *structuredHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.attrs = append(append([]slog.Attr(nil), h.attrs...), attrs...)
	return &clone
}

func (h *structuredHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	clone.groups = append(append([]string(nil), h.groups...), name)
	return &clone
}

// fields is one log line before encoding.
type fields map[string]any

func (f fields) add(groups []string, a slog.Attr) {
	flattenAttr(strings.Join(groups, "."), a, func(key string, v slog.Value) {
		if k, val, ok := normalizeAttr(key, v); ok {
			f[k] = val
		}
	})
}

// setDefault sets key to the first non-empty candidate unless the line already has a value.
func (f fields) setDefault(key string, candidates ...string) {
	if s, ok := f.str(key); ok && s != "" {
		return
	}
	for _, c := range candidates {
		if c != "" {
			f[key] = c
			return
		}
	}
}

func (f fields) str(key string) (string, bool) {
	switch v := f[key].(type) {
	case nil:
		return "", false
	case string:
		return v, true
	case fmt.Stringer:
		return v.String(), true
	default:
		return fmt.Sprint(v), true
	}
}

func (f fields) fromContext(ctx context.Context) {
	if ctx == nil {
		return
	}
	put := func(key string, val any, present bool) {
		if _, exists := f[key]; present && !exists {
			f[key] = val
		}
	}
	rid := RIDFrom(ctx)
	put("rid", rid, rid != "")
	bot := BotFrom(ctx)
	put("bot", bot, bot != "")
	uid := UserIDFrom(ctx)
	put("user_id", uid, uid != 0)
	upd := UpdateIDFrom(ctx)
	put("update_id", upd, upd != 0)
	cid := ChatIDFrom(ctx)
	put("chat_id", cid, cid != 0)
	hid := HandlerFrom(ctx)
	put("handler", hid, hid != "")
}

// compactRID shortens the rid; JSON lines keep the full form as rid_full.
func (f fields) compactRID(keepFull bool) {
	rid, ok := f.str("rid")
	if !ok || rid == "" {
		return
	}
	compact := CompactRID(rid)
	if compact == "" || compact == rid {
		return
	}
	if _, seen := f["rid_full"]; keepFull && !seen {
		f["rid_full"] = rid
	}
	f["rid"] = compact
}

// scrub normalizes enumerated keys, masks bot tokens in every string value
// and drops empty values.
func (f fields) scrub() {
	if s, ok := f.str("status"); ok && s != "" {
		f["status"] = normalizeStatus(s)
	}
	for key, allowed := range enumKeys {
		s, ok := f.str(key)
		if !ok || s == "" {
			continue
		}
		if v, valid := allowed[strings.ToLower(strings.TrimSpace(s))]; valid {
			f[key] = v
		} else {
			delete(f, key)
		}
	}
	for k, v := range f {
		switch val := v.(type) {
		case nil:
			delete(f, k)
		case string:
			if val == "" {
				delete(f, k)
				continue
			}
			f[k] = RedactToken(val)
		case fmt.Stringer:
			if val.String() == "" {
				delete(f, k)
			}
		}
	}
}

func flattenAttr(prefix string, attr slog.Attr, fn func(string, slog.Value)) {
	key := attr.Key
	switch {
	case key == "":
		key = prefix
	case prefix != "":
		key = prefix + "." + key
	}
	val := attr.Value.Resolve()
	if val.Kind() != slog.KindGroup {
		if key != "" {
			fn(key, val)
		}
		return
	}
	for _, child := range val.Group() {
		flattenAttr(key, child, fn)
	}
}

func normalizeAttr(key string, val slog.Value) (string, any, bool) {
	switch val.Kind() {
	case slog.KindString:
		return key, strings.TrimSpace(val.String()), true
	case slog.KindBool:
		return key, val.Bool(), true
	case slog.KindInt64:
		return key, val.Int64(), true
	case slog.KindUint64:
		if u := val.Uint64(); u <= math.MaxInt64 {
			return key, int64(u), true
		}
		return key, val.Uint64(), true
	case slog.KindFloat64:
		return key, val.Float64(), true
	case slog.KindDuration:
		return durationKey(key), RoundMS(val.Duration()).Milliseconds(), true
	case slog.KindTime:
		return key, val.Time().UTC().Format(time.RFC3339Nano), true
	}
	switch x := val.Any().(type) {
	case nil:
		return key, nil, false
	case error:
		return key, x.Error(), true
	case string:
		return key, strings.TrimSpace(x), true
	case time.Duration:
		return durationKey(key), RoundMS(x).Milliseconds(), true
	case fmt.Stringer:
		return key, x.String(), true
	default:
		return key, fmt.Sprint(x), true
	}
}

// durationKey renames duration attributes so every one of them ends in _ms.
func durationKey(key string) string {
	switch {
	case key == "duration":
		return "duration_ms"
	case strings.HasSuffix(key, "_ms"):
		return key
	}
	return key + "_ms"
}
