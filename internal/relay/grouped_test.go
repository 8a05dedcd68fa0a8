package relay

import (
	"context"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m3rciful/relaybot/internal/botreg"
)

func TestGroupedScenario(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, groupedBot())
	h.verifySender(senderID)

	out, err := h.handle(h.senderText("first"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeRelayed, out)

	threads := h.tr.byMethod("create_thread")
	require.Len(t, threads, 1)
	assert.Equal(t, testGroup, threads[0].Chat)
	assert.Equal(t, "Alice (@alice)", threads[0].Text)
	thread, ok := h.mapper.ThreadOf(ctx, senderID)
	require.True(t, ok)
	assert.Equal(t, 77, thread)

	inGroup := h.tr.sentTo(testGroup)
	require.Len(t, inGroup, 1)
	assert.Equal(t, Target{ChatID: testGroup, ThreadID: 77}, inGroup[0].To)
	assert.Equal(t, "first", inGroup[0].Text)

	// the thread was deleted in the group
	h.tr.missing[77] = true
	h.tr.reset()
	out, err = h.handle(h.senderText("second"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeRelayed, out)

	require.Len(t, h.tr.byMethod("create_thread"), 1)
	thread, ok = h.mapper.ThreadOf(ctx, senderID)
	require.True(t, ok)
	assert.Equal(t, 78, thread)
	sends := h.tr.sentTo(testGroup)
	require.Len(t, sends, 2)
	assert.Equal(t, 77, sends[0].To.ThreadID)
	assert.Equal(t, 78, sends[1].To.ThreadID)

	user, ok := h.mapper.SenderOfThread(ctx, 78)
	require.True(t, ok)
	assert.Equal(t, senderID, user)
}

func TestGroupedOperatorReplyInThread(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, groupedBot())
	h.verifySender(senderID)
	_, err := h.handle(h.senderText("hi"))
	require.NoError(t, err)
	h.tr.reset()

	reply := h.operatorText("hello from the team", 0)
	reply.ChatID = testGroup
	reply.ChatPrivate = false
	reply.ThreadID = 77
	out, err := h.handle(reply)
	require.NoError(t, err)
	assert.Equal(t, OutcomeRelayed, out)

	copies := h.tr.byMethod("copy")
	require.Len(t, copies, 1)
	assert.Equal(t, Target{ChatID: senderID}, copies[0].To)
	copied, user, ok := h.mapper.ReplyCopy(ctx, correlationKey(testGroup, reply.MessageID))
	require.True(t, ok)
	assert.Equal(t, senderID, user)
	assert.Positive(t, copied)

	// an unknown thread is not routed anywhere
	h.tr.reset()
	stray := reply
	stray.MessageID++
	stray.ThreadID = 500
	out, err = h.handle(stray)
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, out)
	assert.Empty(t, h.tr.byMethod("copy"))
}

func TestGroupedWithoutGroupIsNotDelivered(t *testing.T) {
	bot := groupedBot()
	bot.GroupChatID.Valid = false
	bot.GroupChatID.Int64 = 0
	h := newHarness(t, bot)
	h.verifySender(senderID)

	out, err := h.handle(h.senderText("hi"))
	assert.Equal(t, OutcomeDropped, out)
	assert.Equal(t, DeliveryFailure, KindOf(err))
	assert.Empty(t, h.tr.byMethod("create_thread"))
	assert.True(t, containsText(h.tr.sentTo(senderID), "not configured"))
	assert.Zero(t, h.mappingCount())
}

func TestGroupedEditTargetsThreadCopy(t *testing.T) {
	h := newHarness(t, groupedBot())
	h.verifySender(senderID)
	in := h.senderText("hi")
	_, err := h.handle(in)
	require.NoError(t, err)
	h.tr.reset()

	edit := in
	edit.Kind = EventEdited
	edit.Text = "hi all"
	out, err := h.handle(edit)
	require.NoError(t, err)
	assert.Equal(t, OutcomeEdited, out)
	edits := h.tr.byMethod("edit")
	require.Len(t, edits, 1)
	assert.Equal(t, testGroup, edits[0].Chat)
	assert.Equal(t, "hi all [✏️ edited]", edits[0].Text)
}

func TestNonOperatorCommandsAreIgnored(t *testing.T) {
	h := newHarness(t, directBot())
	h.verifySender(senderID)

	out, err := h.handle(h.senderText("/b 2002"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, out)
	blocked, err := h.access.IsBlocked(context.Background(), testBot, 2002)
	require.NoError(t, err)
	assert.False(t, blocked)
	assert.Empty(t, h.tr.calls)
	assert.Zero(t, h.mappingCount())
}

func TestOperatorBlockByReply(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, directBot())
	h.verifySender(senderID)
	_, err := h.handle(h.senderText("spam"))
	require.NoError(t, err)
	h.tr.reset()

	out, err := h.handle(h.operatorText("/block@relay_demo_bot", 501))
	require.NoError(t, err)
	assert.Equal(t, OutcomeCommand, out)
	blocked, err := h.access.IsBlocked(ctx, testBot, senderID)
	require.NoError(t, err)
	assert.True(t, blocked)
	assert.True(t, containsText(h.tr.sentTo(operator), "has been blocked"))

	h.tr.reset()
	_, err = h.handle(h.operatorText("/b "+strconv.FormatInt(senderID, 10), 0))
	require.NoError(t, err)
	assert.True(t, containsText(h.tr.sentTo(operator), "already blocked"))

	h.tr.reset()
	_, err = h.handle(h.operatorText("/ub "+strconv.FormatInt(senderID, 10), 0))
	require.NoError(t, err)
	blocked, err = h.access.IsBlocked(ctx, testBot, senderID)
	require.NoError(t, err)
	assert.False(t, blocked)
}

func TestOperatorCommandWithoutTarget(t *testing.T) {
	h := newHarness(t, directBot())

	out, err := h.handle(h.operatorText("/id", 0))
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, out)
	assert.Empty(t, h.tr.calls)

	out, err = h.handle(h.operatorText("/uv", 0))
	require.NoError(t, err)
	assert.Equal(t, OutcomeCommand, out)
	assert.True(t, containsText(h.tr.sentTo(operator), "/uv <user_id>"))
}

func TestOperatorUnverifyAndIdentity(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, directBot())
	h.verifySender(senderID)

	_, err := h.handle(h.operatorText("/unverify 1001", 0))
	require.NoError(t, err)
	verified, err := h.gate.IsVerified(ctx, testBot, senderID)
	require.NoError(t, err)
	assert.False(t, verified)

	h.tr.reset()
	out, err := h.handle(h.operatorText("/id 1001", 0))
	require.NoError(t, err)
	assert.Equal(t, OutcomeCommand, out)
	cards := h.tr.sentTo(operator)
	require.Len(t, cards, 1)
	assert.Contains(t, cards[0].Text, "1001")
	assert.NotEmpty(t, cards[0].Opts.Buttons)
}

func TestOperatorStartShowsHelp(t *testing.T) {
	h := newHarness(t, directBot())
	out, err := h.handle(h.operatorText("/start", 0))
	require.NoError(t, err)
	assert.Equal(t, OutcomeCommand, out)
	sent := h.tr.sentTo(operator)
	require.Len(t, sent, 1)
	assert.Equal(t, operatorHelp, sent[0].Text)
}

func TestBlocklistCommand(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, directBot())
	_, err := h.access.Block(ctx, testBot, 2002, "spam")
	require.NoError(t, err)

	out, err := h.handle(h.operatorText("/bl", 0))
	require.NoError(t, err)
	assert.Equal(t, OutcomeCommand, out)
	assert.True(t, containsText(h.tr.sentTo(operator), "2002"))
}

func TestCallbackFromNonOwnerIsIgnored(t *testing.T) {
	h := newHarness(t, directBot())
	out, err := h.handle(Event{
		Kind: EventCallback, SenderID: senderID, ChatID: senderID, ChatPrivate: true,
		CallbackID: "cb1", Action: actionBlock, Payload: "2002",
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, out)

	blocked, err := h.access.IsBlocked(context.Background(), testBot, 2002)
	require.NoError(t, err)
	assert.False(t, blocked)
	answers := h.tr.byMethod("answer")
	require.Len(t, answers, 1)
	assert.Equal(t, textNotAllowed, answers[0].Text)
}

func TestCallbackFromOwnerRefreshesCard(t *testing.T) {
	h := newHarness(t, directBot())
	out, err := h.handle(Event{
		Kind: EventCallback, SenderID: operator, ChatID: operator, ChatPrivate: true, MessageID: 900,
		CallbackID: "cb1", Action: actionBlock, Payload: "2002",
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeCommand, out)

	blocked, err := h.access.IsBlocked(context.Background(), testBot, 2002)
	require.NoError(t, err)
	assert.True(t, blocked)
	edits := h.tr.byMethod("edit")
	require.Len(t, edits, 1)
	assert.Equal(t, 900, edits[0].Msg)
}

func TestOperatorCommandInGroup(t *testing.T) {
	h := newHarness(t, groupedBot())
	h.verifySender(senderID)
	_, err := h.handle(h.senderText("hi"))
	require.NoError(t, err)

	cmd := h.operatorText("/b", 0)
	cmd.ChatID = testGroup
	cmd.ChatPrivate = false
	cmd.ThreadID = 77
	out, err := h.handle(cmd)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCommand, out)
	blocked, err := h.access.IsBlocked(context.Background(), testBot, senderID)
	require.NoError(t, err)
	assert.True(t, blocked)
	assert.Equal(t, botreg.Grouped, h.d.Bot().Topology)
}
