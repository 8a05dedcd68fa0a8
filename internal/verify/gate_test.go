package verify

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m3rciful/relaybot/internal/testutil"
)

const testBot = "relay_demo_bot"

func TestWrongAnswerKeepsChallenge(t *testing.T) {
	ctx := context.Background()
	gate := NewGate(NewRepository(testutil.OpenStore(t)), seeded(10))

	issued, err := gate.Issue(ctx, testBot, 1001)
	require.NoError(t, err)

	sender := Principal{Bot: testBot, UserID: 1001, DisplayName: "Alice"}
	for i := 0; i < 2; i++ {
		res, err := gate.Check(ctx, sender, "not-"+issued.Answer)
		require.NoError(t, err)
		assert.Equal(t, Incorrect, res)
	}

	pending, ok, err := gate.Pending(ctx, testBot, 1001)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, issued, pending)

	verified, err := gate.IsVerified(ctx, testBot, 1001)
	require.NoError(t, err)
	assert.False(t, verified)
}

func TestCorrectAnswerVerifiesAndClears(t *testing.T) {
	ctx := context.Background()
	gate := NewGate(NewRepository(testutil.OpenStore(t)), seeded(11))

	issued, err := gate.Issue(ctx, testBot, 1001)
	require.NoError(t, err)

	res, err := gate.Check(ctx, Principal{Bot: testBot, UserID: 1001}, " "+issued.Answer+" ")
	require.NoError(t, err)
	assert.Equal(t, Correct, res)

	verified, err := gate.IsVerified(ctx, testBot, 1001)
	require.NoError(t, err)
	assert.True(t, verified)

	_, ok, err := gate.Pending(ctx, testBot, 1001)
	require.NoError(t, err)
	assert.False(t, ok)

	res, err = gate.Check(ctx, Principal{Bot: testBot, UserID: 1001}, issued.Answer)
	require.NoError(t, err)
	assert.Equal(t, NoChallenge, res)
}

func TestPendingSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	cfg := testutil.SQLiteConfig(t)

	first := NewGate(NewRepository(testutil.OpenStoreAt(t, cfg)), seeded(12))
	issued, err := first.Issue(ctx, testBot, 1001)
	require.NoError(t, err)

	second := NewGate(NewRepository(testutil.OpenStoreAt(t, cfg)), seeded(99))
	pending, ok, err := second.Pending(ctx, testBot, 1001)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, issued, pending)

	res, err := second.Check(ctx, Principal{Bot: testBot, UserID: 1001}, issued.Answer)
	require.NoError(t, err)
	assert.Equal(t, Correct, res)
}

func TestIssueReplacesPending(t *testing.T) {
	ctx := context.Background()
	gate := NewGate(NewRepository(testutil.OpenStore(t)), seeded(13))

	var last Challenge
	for i := 0; i < 5; i++ {
		c, err := gate.Issue(ctx, testBot, 1001)
		require.NoError(t, err)
		last = c
	}
	pending, ok, err := gate.Pending(ctx, testBot, 1001)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, last, pending)
}

func TestUnverify(t *testing.T) {
	ctx := context.Background()
	gate := NewGate(NewRepository(testutil.OpenStore(t)), seeded(14))

	c, err := gate.Issue(ctx, testBot, 1001)
	require.NoError(t, err)
	_, err = gate.Check(ctx, Principal{Bot: testBot, UserID: 1001}, c.Answer)
	require.NoError(t, err)

	removed, err := gate.Unverify(ctx, testBot, 1001)
	require.NoError(t, err)
	assert.True(t, removed)
	removed, err = gate.Unverify(ctx, testBot, 1001)
	require.NoError(t, err)
	assert.False(t, removed)

	verified, err := gate.IsVerified(ctx, testBot, 1001)
	require.NoError(t, err)
	assert.False(t, verified)
}

func TestSweepDropsExpiredChallenges(t *testing.T) {
	ctx := context.Background()
	gate := NewGate(NewRepository(testutil.OpenStore(t)), seeded(15))
	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	gate.SetClock(func() time.Time { return base })
	_, err := gate.Issue(ctx, testBot, 1)
	require.NoError(t, err)
	gate.SetClock(func() time.Time { return base.Add(20 * time.Hour) })
	_, err = gate.Issue(ctx, testBot, 2)
	require.NoError(t, err)

	gate.SetClock(func() time.Time { return base.Add(25 * time.Hour) })
	n, err := gate.Sweep(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, ok, err := gate.Pending(ctx, testBot, 1)
	require.NoError(t, err)
	assert.False(t, ok)
	_, ok, err = gate.Pending(ctx, testBot, 2)
	require.NoError(t, err)
	assert.True(t, ok)
}
