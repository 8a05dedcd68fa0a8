// Package topics manages the per-sender threads of grouped bots.
package topics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"unicode/utf8"

	"github.com/m3rciful/relaybot/core/logger"
	"github.com/m3rciful/relaybot/internal/correlation"
)

const component = "topics"

// maxNameLen is the longest thread name the platform accepts.
const maxNameLen = 128

// ErrThreadMissing marks a delivery that failed because the target thread no
// longer exists. Transports wrap it.
var ErrThreadMissing = errors.New("thread missing")

// ThreadCreator opens a new thread in a group chat.
type ThreadCreator interface {
	CreateThread(ctx context.Context, groupChatID int64, name string) (int, error)
}

// Sender identifies whose thread is being resolved.
type Sender struct {
	ID     int64
	Name   string
	Handle string
}

// ThreadName renders the best-effort title of a sender's thread.
func ThreadName(s Sender) string {
	name := s.Name
	if name == "" {
		name = "User " + strconv.FormatInt(s.ID, 10)
	}
	if s.Handle != "" {
		name += " (@" + s.Handle + ")"
	}
	for utf8.RuneCountInString(name) > maxNameLen {
		_, size := utf8.DecodeLastRuneInString(name)
		name = name[:len(name)-size]
	}
	return name
}

// Delivery reports how a grouped delivery went.
type Delivery struct {
	MessageID int
	ThreadID  int
	Created   bool
	Healed    bool
}

type userKey struct {
	bot  string
	user int64
}

type userLock struct {
	mu   sync.Mutex
	refs int
}

// Manager resolves or lazily creates one thread per (bot, sender) and serializes
// that decision per key so concurrent first contacts share a thread.
type Manager struct {
	creator ThreadCreator

	mu    sync.Mutex
	locks map[userKey]*userLock
}

// NewManager builds a Manager on top of creator.
func NewManager(creator ThreadCreator) *Manager {
	return &Manager{creator: creator, locks: make(map[userKey]*userLock)}
}

func (m *Manager) lock(k userKey) func() {
	m.mu.Lock()
	l, ok := m.locks[k]
	if !ok {
		l = &userLock{}
		m.locks[k] = l
	}
	l.refs++
	m.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		m.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(m.locks, k)
		}
		m.mu.Unlock()
	}
}

// Ensure returns the sender's thread, creating it when none is recorded.
func (m *Manager) Ensure(ctx context.Context, mapper *correlation.Mapper, groupChatID int64, s Sender) (int, bool, error) {
	unlock := m.lock(userKey{mapper.Bot(), s.ID})
	defer unlock()
	return m.ensure(ctx, mapper, groupChatID, s)
}

func (m *Manager) ensure(ctx context.Context, mapper *correlation.Mapper, groupChatID int64, s Sender) (int, bool, error) {
	if thread, ok := mapper.ThreadOf(ctx, s.ID); ok {
		return thread, false, nil
	}
	thread, err := m.create(ctx, mapper, groupChatID, s)
	return thread, err == nil, err
}

func (m *Manager) create(ctx context.Context, mapper *correlation.Mapper, groupChatID int64, s Sender) (int, error) {
	name := ThreadName(s)
	thread, err := m.creator.CreateThread(ctx, groupChatID, name)
	if err != nil {
		return 0, fmt.Errorf("create thread: %w", err)
	}
	if err := mapper.SetThread(ctx, s.ID, thread); err != nil {
		// the thread exists; the cached mapping still routes replies
		logger.Warn(ctx, component, "thread.persist_failed",
			slog.Int64("target_user", s.ID),
			slog.Int("thread_id", thread),
			logger.Err(err),
		)
	}
	logger.Info(ctx, component, "thread.created",
		slog.Int64("target_user", s.ID),
		slog.Int("thread_id", thread),
		slog.String("name", logger.Sanitize(name)),
	)
	return thread, nil
}

// Deliver resolves the sender's thread and runs send into it. When send fails
// with ErrThreadMissing the thread is recreated once and send is retried once.
func (m *Manager) Deliver(ctx context.Context, mapper *correlation.Mapper, groupChatID int64, s Sender, send func(thread int) (int, error)) (Delivery, error) {
	unlock := m.lock(userKey{mapper.Bot(), s.ID})
	defer unlock()

	thread, created, err := m.ensure(ctx, mapper, groupChatID, s)
	if err != nil {
		return Delivery{}, err
	}
	d := Delivery{ThreadID: thread, Created: created}

	id, err := send(thread)
	if err == nil {
		d.MessageID = id
		return d, nil
	}
	if !errors.Is(err, ErrThreadMissing) {
		return d, err
	}

	logger.Warn(ctx, component, "thread.missing",
		slog.Int64("target_user", s.ID),
		slog.Int("thread_id", thread),
	)
	thread, err = m.create(ctx, mapper, groupChatID, s)
	if err != nil {
		return d, fmt.Errorf("self-heal: %w", err)
	}
	d.ThreadID, d.Created, d.Healed = thread, true, true

	id, err = send(thread)
	if err != nil {
		return d, fmt.Errorf("retry after self-heal: %w", err)
	}
	d.MessageID = id
	return d, nil
}
