package relay

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/m3rciful/relaybot/internal/access"
	"github.com/m3rciful/relaybot/internal/botreg"
	"github.com/m3rciful/relaybot/internal/correlation"
	"github.com/m3rciful/relaybot/internal/testutil"
	"github.com/m3rciful/relaybot/internal/verify"
)

const (
	testBot   = "relay_demo_bot"
	operator  = int64(42)
	senderID  = int64(1001)
	testGroup = int64(-1001234567890)
)

type call struct {
	Method string
	To     Target
	Chat   int64
	Msg    int
	Text   string
	Opts   SendOptions
}

type fakeTransport struct {
	mu      sync.Mutex
	nextMsg int
	nextThr int
	calls   []call
	// missing threads answer every send with ErrThreadMissing
	missing map[int]bool
	failAll error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{nextMsg: 500, nextThr: 76, missing: map[int]bool{}}
}

func (f *fakeTransport) record(c call) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c)
	if f.failAll != nil {
		return 0, f.failAll
	}
	if c.To.ThreadID != 0 && f.missing[c.To.ThreadID] {
		return 0, fmt.Errorf("telegram: message thread not found: %w", ErrThreadMissing)
	}
	f.nextMsg++
	return f.nextMsg, nil
}

func (f *fakeTransport) SendText(_ context.Context, to Target, text string, opts SendOptions) (int, error) {
	return f.record(call{Method: "send", To: to, Text: text, Opts: opts})
}

func (f *fakeTransport) EditText(_ context.Context, chat int64, msg int, text string, opts SendOptions) error {
	_, err := f.record(call{Method: "edit", Chat: chat, Msg: msg, Text: text, Opts: opts})
	return err
}

func (f *fakeTransport) CopyMessage(_ context.Context, from int64, msg int, to Target) (int, error) {
	return f.record(call{Method: "copy", Chat: from, Msg: msg, To: to})
}

func (f *fakeTransport) ForwardMessage(_ context.Context, from int64, msg int, to Target) (int, error) {
	return f.record(call{Method: "forward", Chat: from, Msg: msg, To: to})
}

func (f *fakeTransport) CreateThread(_ context.Context, group int64, name string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{Method: "create_thread", Chat: group, Text: name})
	f.nextThr++
	return f.nextThr, nil
}

func (f *fakeTransport) DeleteMessage(_ context.Context, chat int64, msg int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{Method: "delete", Chat: chat, Msg: msg})
	return nil
}

func (f *fakeTransport) FetchIdentity(_ context.Context, userID int64) (Identity, error) {
	return Identity{Name: fmt.Sprintf("User %d", userID)}, nil
}

func (f *fakeTransport) AnswerCallback(_ context.Context, id, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{Method: "answer", Text: text})
	return nil
}

func (f *fakeTransport) byMethod(method string) []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []call
	for _, c := range f.calls {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeTransport) sentTo(chat int64) []call {
	var out []call
	for _, c := range f.byMethod("send") {
		if c.To.ChatID == chat {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeTransport) reset() {
	f.mu.Lock()
	f.calls = nil
	f.mu.Unlock()
}

type immediateScheduler struct {
	mu      sync.Mutex
	actions []string
	delays  []time.Duration
}

func (s *immediateScheduler) Schedule(ctx context.Context, delay time.Duration, action string, run func(context.Context) error) {
	s.mu.Lock()
	s.actions = append(s.actions, action)
	s.delays = append(s.delays, delay)
	s.mu.Unlock()
	_ = run(ctx)
}

type harness struct {
	t       *testing.T
	d       *Dispatcher
	tr      *fakeTransport
	sched   *immediateScheduler
	mapper  *correlation.Mapper
	corr    *correlation.Repository
	gate    *verify.Gate
	vrepo   *verify.Repository
	access  *access.List
	reg     *botreg.Registry
	bot     botreg.Bot
	nextMsg int
}

func directBot() botreg.Bot {
	return botreg.Bot{Username: testBot, Token: "t", OwnerID: operator, Topology: botreg.Direct}
}

func groupedBot() botreg.Bot {
	return botreg.Bot{Username: testBot, Token: "t", OwnerID: operator, Topology: botreg.Grouped,
		GroupChatID: sql.NullInt64{Int64: testGroup, Valid: true}}
}

func newHarness(t *testing.T, bot botreg.Bot) *harness {
	t.Helper()
	store := testutil.OpenStore(t)
	h := &harness{
		t:       t,
		tr:      newFakeTransport(),
		sched:   &immediateScheduler{},
		corr:    correlation.NewRepository(store),
		vrepo:   verify.NewRepository(store),
		access:  access.NewList(store),
		reg:     botreg.NewRegistry(store),
		bot:     bot,
		nextMsg: 10,
	}
	h.mapper = correlation.NewStore(h.corr).ForBot(bot.Username)
	h.gate = verify.NewGate(h.vrepo, nil)
	require.NoError(t, h.reg.Upsert(context.Background(), bot))
	h.d = New(bot, Deps{
		Transport: h.tr,
		Scheduler: h.sched,
		Gate:      h.gate,
		Access:    h.access,
		Mapper:    h.mapper,
		Welcome:   h.reg,
	}, Options{})
	return h
}

func (h *harness) verifySender(id int64) {
	h.t.Helper()
	require.NoError(h.t, h.vrepo.MarkVerified(context.Background(), verify.Principal{
		Bot: testBot, UserID: id, DisplayName: "Alice", VerifiedAt: time.Now(),
	}))
}

func (h *harness) senderText(text string) Event {
	h.nextMsg++
	return Event{
		Kind:         EventNew,
		SenderID:     senderID,
		SenderName:   "Alice",
		SenderHandle: "alice",
		ChatID:       senderID,
		ChatPrivate:  true,
		MessageID:    h.nextMsg,
		Text:         text,
	}
}

func (h *harness) operatorText(text string, replyTo int) Event {
	h.nextMsg++
	return Event{
		Kind:        EventNew,
		SenderID:    operator,
		SenderName:  "Operator",
		ChatID:      operator,
		ChatPrivate: true,
		MessageID:   h.nextMsg,
		ReplyToID:   replyTo,
		Text:        text,
	}
}

func (h *harness) handle(ev Event) (Outcome, error) {
	return h.d.Handle(context.Background(), ev)
}

func (h *harness) mappingCount() int {
	h.t.Helper()
	n, err := h.corr.Count(context.Background(), testBot)
	require.NoError(h.t, err)
	return n
}

func containsText(calls []call, sub string) bool {
	for _, c := range calls {
		if strings.Contains(c.Text, sub) {
			return true
		}
	}
	return false
}

func correlationKey(chat int64, msg int) correlation.MessageKey {
	return correlation.MessageKey{ChatID: chat, MessageID: msg}
}
