package realtime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryTracker_BackoffSequence(t *testing.T) {
	tr := NewRetryTracker(5, time.Second, 16*time.Second)

	want := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
	}
	for i, expected := range want {
		info, err := tr.Record("c1")
		assert.NoError(t, err)
		assert.Equal(t, expected, info.Delay, "attempt %d", i)
		assert.Equal(t, i+1, info.Attempt)
		assert.Equal(t, 5, info.MaxRetries)
	}

	// the sixth attempt exceeds the ceiling
	_, err := tr.Record("c1")
	assert.ErrorIs(t, err, ErrMaxRetriesExceeded)
}

func TestRetryTracker_NextDelayIsCapped(t *testing.T) {
	tr := NewRetryTracker(5, time.Second, 16*time.Second)

	for i := 0; i < 4; i++ {
		_, err := tr.Record("c1")
		assert.NoError(t, err)
	}
	info, err := tr.Record("c1")
	assert.NoError(t, err)
	assert.Equal(t, 16*time.Second, info.Delay)
	assert.Equal(t, 16*time.Second, info.NextDelay)
}

func TestRetryTracker_ClearResets(t *testing.T) {
	tr := NewRetryTracker(5, time.Second, 16*time.Second)

	for i := 0; i < 5; i++ {
		_, err := tr.Record("c1")
		assert.NoError(t, err)
	}
	tr.Clear("c1")

	info, err := tr.Record("c1")
	assert.NoError(t, err)
	assert.Equal(t, time.Second, info.Delay)
	assert.Equal(t, 1, info.Attempt)
}

func TestRetryTracker_PurgeOlderThan(t *testing.T) {
	tr := NewRetryTracker(5, time.Second, 16*time.Second)

	_, err := tr.Record("old")
	assert.NoError(t, err)
	tr.entries["old"].lastAttempt = time.Now().Add(-10 * time.Minute)

	_, err = tr.Record("fresh")
	assert.NoError(t, err)

	purged := tr.PurgeOlderThan(5 * time.Minute)
	assert.Equal(t, 1, purged)
	assert.Equal(t, 1, tr.Len())

	snap := tr.Snapshot()
	_, ok := snap["fresh"]
	assert.True(t, ok)
	_, ok = snap["old"]
	assert.False(t, ok)
}

func TestRetryTracker_SnapshotIsACopy(t *testing.T) {
	tr := NewRetryTracker(5, time.Second, 16*time.Second)
	_, err := tr.Record("c1")
	assert.NoError(t, err)

	snap := tr.Snapshot()
	entry := snap["c1"]
	entry.Attempts = 99
	snap["c1"] = entry

	again := tr.Snapshot()
	assert.Equal(t, 1, again["c1"].Attempts)
}
