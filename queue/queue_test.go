package queue

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func testQueue(t *testing.T) *Queue {
	t.Helper()
	base := t.TempDir()
	q, err := Open(filepath.Join(base, "queue"), filepath.Join(base, "error"))
	require.NoError(t, err)
	return q
}

func TestEnqueueDequeueFIFO(t *testing.T) {
	q := testQueue(t)

	for i := 0; i < 3; i++ {
		require.NoError(t, q.Enqueue(&Item{
			Kind:    KindOutput,
			Inbox:   "https://remote.example/inbox",
			Payload: json.RawMessage(`{"seq":` + string(rune('0'+i)) + `}`),
		}))
		time.Sleep(2 * time.Millisecond) // distinct tids
	}

	require.Equal(t, 3, q.Len())

	var seen []string
	for i := 0; i < 3; i++ {
		it, err := q.Next()
		require.NoError(t, err)
		seen = append(seen, string(it.Payload))
		require.NoError(t, q.Ack(it))
	}

	require.Equal(t, []string{`{"seq":0}`, `{"seq":1}`, `{"seq":2}`}, seen)
	require.Equal(t, 0, q.Len())

	_, err := q.Next()
	require.ErrorIs(t, err, ErrEmpty)
}

func TestNotBeforeExcludesItem(t *testing.T) {
	q := testQueue(t)

	require.NoError(t, q.Enqueue(&Item{
		Kind:      KindOutput,
		NotBefore: time.Now().Add(time.Hour),
	}))

	require.Equal(t, 1, q.Len())

	_, err := q.Next()
	require.ErrorIs(t, err, ErrEmpty, "an item scheduled for later must not be claimable")
}

func TestClaimIsExclusive(t *testing.T) {
	q := testQueue(t)

	require.NoError(t, q.Enqueue(&Item{Kind: KindInput}))

	it, err := q.Next()
	require.NoError(t, err)

	// Claimed item is gone from the pending set
	_, err = q.Next()
	require.ErrorIs(t, err, ErrEmpty)

	require.NoError(t, q.Ack(it))
}

func TestHasKind(t *testing.T) {
	q := testQueue(t)

	require.False(t, q.HasKind(KindPurge))

	require.NoError(t, q.Enqueue(&Item{Kind: KindInput}))
	require.NoError(t, q.Enqueue(&Item{
		Kind:      KindPurge,
		NotBefore: time.Now().Add(24 * time.Hour),
	}))

	require.True(t, q.HasKind(KindPurge))
	require.True(t, q.HasKind(KindInput))
	require.False(t, q.HasKind(KindOutput))

	// A claimed item no longer counts as pending
	it, err := q.Next()
	require.NoError(t, err)
	require.Equal(t, KindInput, it.Kind)
	require.False(t, q.HasKind(KindInput))
	require.NoError(t, q.Ack(it))
}

func TestRetrySchedulesBackoff(t *testing.T) {
	q := testQueue(t)

	require.NoError(t, q.Enqueue(&Item{Kind: KindOutput}))

	it, err := q.Next()
	require.NoError(t, err)

	before := time.Now()
	require.NoError(t, q.Retry(it))

	require.Equal(t, 1, it.Attempts)
	require.True(t, it.NotBefore.After(before), "retry must carry a not-before timestamp")

	// Back in the queue, but not eligible until the backoff elapses
	require.Equal(t, 1, q.Len())
	_, err = q.Next()
	require.ErrorIs(t, err, ErrEmpty)
}

func TestBackoffNonDecreasingAndCapped(t *testing.T) {
	prev := time.Duration(0)
	for attempts := 1; attempts <= 12; attempts++ {
		d := Backoff(attempts)
		require.GreaterOrEqual(t, d, prev, "backoff must be non-decreasing")
		prev = d
	}
	require.Equal(t, Backoff(6), Backoff(100), "backoff must be capped")
}

func TestMaxAttemptsPerKind(t *testing.T) {
	require.Equal(t, 10, MaxAttempts(KindOutput))
	require.Equal(t, 3, MaxAttempts(KindInput))
	require.Greater(t, MaxAttempts(KindOutput), MaxAttempts(KindInput),
		"outbound items are retried more aggressively than inbound ones")
}

func TestDeadArchivesItem(t *testing.T) {
	base := t.TempDir()
	errDir := filepath.Join(base, "error")
	q, err := Open(filepath.Join(base, "queue"), errDir)
	require.NoError(t, err)

	require.NoError(t, q.Enqueue(&Item{
		Kind:    KindOutput,
		Payload: json.RawMessage(`{"important":true}`),
	}))

	it, err := q.Next()
	require.NoError(t, err)
	require.NoError(t, q.Dead(it))

	// Gone from the queue, preserved in the archive
	require.Equal(t, 0, q.Len())
	_, err = q.Next()
	require.ErrorIs(t, err, ErrEmpty)

	archived, err := filepath.Glob(filepath.Join(errDir, "*.json"))
	require.NoError(t, err)
	require.Len(t, archived, 1)
}

func TestRecoverAfterCrash(t *testing.T) {
	base := t.TempDir()
	qdir := filepath.Join(base, "queue")
	edir := filepath.Join(base, "error")

	q, err := Open(qdir, edir)
	require.NoError(t, err)

	require.NoError(t, q.Enqueue(&Item{Kind: KindOutput}))

	// Claim the item and "crash" without acking
	_, err = q.Next()
	require.NoError(t, err)
	require.Equal(t, 0, q.Len())

	// A fresh open (process restart) recovers the lease
	q2, err := Open(qdir, edir)
	require.NoError(t, err)
	require.Equal(t, 1, q2.Len())

	it, err := q2.Next()
	require.NoError(t, err)
	require.Equal(t, KindOutput, it.Kind)
	require.NoError(t, q2.Ack(it))
}

func TestRecoverRespectsMaxAge(t *testing.T) {
	q := testQueue(t)

	require.NoError(t, q.Enqueue(&Item{Kind: KindInput}))

	_, err := q.Next()
	require.NoError(t, err)

	// A young lease is still owned by its worker
	require.Equal(t, 0, q.Recover(time.Hour))
	require.Equal(t, 0, q.Len())
}
