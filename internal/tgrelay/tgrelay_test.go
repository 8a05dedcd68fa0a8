package tgrelay

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m3rciful/relaybot/core/telegram/keyboard"
	"github.com/m3rciful/relaybot/internal/relay"

	tele "gopkg.in/telebot.v4"
)

type sent struct {
	to   string
	what interface{}
	opts *tele.SendOptions
}

type fakeAPI struct {
	sent    []sent
	edited  []tele.Editable
	sendErr error
	editErr error
	topic   *tele.Topic
	chat    *tele.Chat
	answers []*tele.CallbackResponse
}

func optsOf(opts []interface{}) *tele.SendOptions {
	for _, o := range opts {
		if so, ok := o.(*tele.SendOptions); ok {
			return so
		}
	}
	return nil
}

func (f *fakeAPI) Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error) {
	f.sent = append(f.sent, sent{to: to.Recipient(), what: what, opts: optsOf(opts)})
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	return &tele.Message{ID: 500 + len(f.sent)}, nil
}

func (f *fakeAPI) Edit(msg tele.Editable, what interface{}, opts ...interface{}) (*tele.Message, error) {
	f.edited = append(f.edited, msg)
	return &tele.Message{}, f.editErr
}

func (f *fakeAPI) Copy(to tele.Recipient, msg tele.Editable, opts ...interface{}) (*tele.Message, error) {
	return f.Send(to, msg, opts...)
}

func (f *fakeAPI) Forward(to tele.Recipient, msg tele.Editable, opts ...interface{}) (*tele.Message, error) {
	return f.Send(to, msg, opts...)
}

func (f *fakeAPI) Delete(tele.Editable) error { return errors.New("Bad Request: message to delete not found") }

func (f *fakeAPI) CreateTopic(_ *tele.Chat, topic *tele.Topic) (*tele.Topic, error) {
	f.topic = topic
	return &tele.Topic{Name: topic.Name, ThreadID: 77}, nil
}

func (f *fakeAPI) ChatByID(int64) (*tele.Chat, error) {
	if f.chat == nil {
		return nil, errors.New("Bad Request: chat not found")
	}
	return f.chat, nil
}

func (f *fakeAPI) Respond(_ *tele.Callback, resp ...*tele.CallbackResponse) error {
	f.answers = append(f.answers, resp...)
	return nil
}

func TestSendTextOptions(t *testing.T) {
	api := &fakeAPI{}
	tr := NewTransport(api)
	id, err := tr.SendText(context.Background(), relay.Target{ChatID: -100, ThreadID: 77}, "<b>hi</b>", relay.SendOptions{
		HTML:    true,
		ReplyTo: 12,
		Buttons: [][]relay.Button{{{Text: "🚫 Block", Action: "block", Payload: "1001"}}},
	})
	require.NoError(t, err)
	assert.Equal(t, 501, id)

	require.Len(t, api.sent, 1)
	assert.Equal(t, "-100", api.sent[0].to)
	so := api.sent[0].opts
	require.NotNil(t, so)
	assert.Equal(t, 77, so.ThreadID)
	assert.Equal(t, tele.ModeHTML, so.ParseMode)
	require.NotNil(t, so.ReplyTo)
	assert.Equal(t, 12, so.ReplyTo.ID)
	require.NotNil(t, so.ReplyMarkup)
	assert.Len(t, so.ReplyMarkup.InlineKeyboard, 1)
	assert.Equal(t, "\fblock|1001", so.ReplyMarkup.InlineKeyboard[0][0].Data)
}

func TestOversizedButtonIsNotSent(t *testing.T) {
	api := &fakeAPI{}
	tr := NewTransport(api)
	long := relay.SendOptions{Buttons: [][]relay.Button{{{Text: "x", Action: "block", Payload: strings.Repeat("1", 70)}}}}

	_, err := tr.SendText(context.Background(), relay.Target{ChatID: 1}, "card", long)
	require.ErrorIs(t, err, keyboard.ErrDataTooLong)
	assert.Empty(t, api.sent)

	err = tr.EditText(context.Background(), 1, 5, "card", long)
	require.ErrorIs(t, err, keyboard.ErrDataTooLong)
	assert.Empty(t, api.edited)
}

func TestThreadMissingIsClassified(t *testing.T) {
	for _, msg := range []string{
		"telegram: Bad Request: message thread not found (400)",
		"telegram: Bad Request: TOPIC_DELETED (400)",
		"telegram: Bad Request: TOPIC_CLOSED (400)",
		"telegram: Bad Request: topic not found (400)",
	} {
		api := &fakeAPI{sendErr: errors.New(msg)}
		_, err := NewTransport(api).SendText(context.Background(), relay.Target{ChatID: -100, ThreadID: 77}, "x", relay.SendOptions{})
		assert.ErrorIs(t, err, relay.ErrThreadMissing, msg)
	}

	// outside a thread the same text is a plain failure
	api := &fakeAPI{sendErr: errors.New("Bad Request: message thread not found")}
	_, err := NewTransport(api).SendText(context.Background(), relay.Target{ChatID: 42}, "x", relay.SendOptions{})
	require.Error(t, err)
	assert.NotErrorIs(t, err, relay.ErrThreadMissing)

	api = &fakeAPI{sendErr: errors.New("Forbidden: bot was blocked by the user")}
	_, err = NewTransport(api).SendText(context.Background(), relay.Target{ChatID: -100, ThreadID: 77}, "x", relay.SendOptions{})
	assert.NotErrorIs(t, err, relay.ErrThreadMissing)
}

func TestEditIgnoresNotModified(t *testing.T) {
	api := &fakeAPI{editErr: errors.New("telegram: Bad Request: message is not modified (400)")}
	tr := NewTransport(api)
	require.NoError(t, tr.EditText(context.Background(), 42, 501, "same", relay.SendOptions{}))
	require.Len(t, api.edited, 1)
	id, chat := api.edited[0].MessageSig()
	assert.Equal(t, "501", id)
	assert.Equal(t, int64(42), chat)
}

func TestCreateThreadAndIdentity(t *testing.T) {
	api := &fakeAPI{chat: &tele.Chat{FirstName: "Alice", LastName: "Smith", Username: "alice"}}
	tr := NewTransport(api)
	ctx := context.Background()

	thread, err := tr.CreateThread(ctx, -100, "Alice (@alice)")
	require.NoError(t, err)
	assert.Equal(t, 77, thread)
	assert.Equal(t, "Alice (@alice)", api.topic.Name)

	ident, err := tr.FetchIdentity(ctx, 1001)
	require.NoError(t, err)
	assert.Equal(t, relay.Identity{Name: "Alice Smith", Handle: "alice"}, ident)

	assert.NoError(t, tr.DeleteMessage(ctx, 42, 9), "already deleted messages are fine")
	require.NoError(t, tr.AnswerCallback(ctx, "cb1", "done"))
	require.Len(t, api.answers, 1)
	assert.Equal(t, "done", api.answers[0].Text)
}

func TestCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	api := &fakeAPI{}
	_, err := NewTransport(api).SendText(ctx, relay.Target{ChatID: 42}, "x", relay.SendOptions{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, api.sent)
}
