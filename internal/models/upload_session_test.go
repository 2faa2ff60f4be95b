package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionStatusTransitions(t *testing.T) {
	assert.True(t, SessionPending.CanTransition(SessionUploading))
	assert.True(t, SessionPending.CanTransition(SessionAssembling))
	assert.True(t, SessionUploading.CanTransition(SessionAssembling))
	assert.True(t, SessionAssembling.CanTransition(SessionProcessing))
	assert.True(t, SessionProcessing.CanTransition(SessionCompleted))

	// Skipping stages or moving backwards is never allowed.
	assert.False(t, SessionPending.CanTransition(SessionProcessing))
	assert.False(t, SessionPending.CanTransition(SessionCompleted))
	assert.False(t, SessionUploading.CanTransition(SessionCompleted))
	assert.False(t, SessionAssembling.CanTransition(SessionUploading))
	assert.False(t, SessionProcessing.CanTransition(SessionUploading))

	// Every non-terminal status can fail or be reclaimed.
	for _, s := range []SessionStatus{SessionPending, SessionUploading, SessionAssembling, SessionProcessing} {
		assert.True(t, s.CanTransition(SessionFailed), "%s -> failed", s)
		assert.True(t, s.CanTransition(SessionCancelled), "%s -> cancelled", s)
	}

	// Terminal statuses go nowhere.
	for _, s := range []SessionStatus{SessionCompleted, SessionFailed, SessionCancelled} {
		assert.True(t, s.Terminal())
		for _, next := range []SessionStatus{SessionPending, SessionUploading, SessionAssembling, SessionProcessing, SessionCompleted, SessionFailed, SessionCancelled} {
			assert.False(t, s.CanTransition(next), "%s -> %s", s, next)
		}
	}
}

func TestSessionStatusAcceptsChunks(t *testing.T) {
	assert.True(t, SessionPending.AcceptsChunks())
	assert.True(t, SessionUploading.AcceptsChunks())
	assert.False(t, SessionAssembling.AcceptsChunks())
	assert.False(t, SessionProcessing.AcceptsChunks())
	assert.False(t, SessionCompleted.AcceptsChunks())
	assert.False(t, SessionCancelled.AcceptsChunks())
}

func TestChunkSetAdd(t *testing.T) {
	var set ChunkSet
	assert.True(t, set.Add(2))
	assert.True(t, set.Add(0))
	assert.True(t, set.Add(1))
	assert.False(t, set.Add(1), "duplicate must report false")

	assert.Equal(t, ChunkSet{0, 1, 2}, set)
	assert.Equal(t, 3, set.Count())
	assert.True(t, set.Contains(0))
	assert.False(t, set.Contains(3))
}

func TestChunkSetMissing(t *testing.T) {
	var set ChunkSet
	set.Add(0)
	set.Add(3)
	assert.Equal(t, []int{1, 2, 4}, set.Missing(5))

	set.Add(1)
	set.Add(2)
	set.Add(4)
	assert.Empty(t, set.Missing(5))
}

func TestChunkSetRoundTrip(t *testing.T) {
	set := ChunkSet{0, 2, 5}
	value, err := set.Value()
	require.NoError(t, err)

	var decoded ChunkSet
	require.NoError(t, decoded.Scan(value))
	assert.Equal(t, set, decoded)

	var empty ChunkSet
	require.NoError(t, empty.Scan(nil))
	assert.Equal(t, 0, empty.Count())
}

func TestTotalChunksFor(t *testing.T) {
	assert.Equal(t, 1, TotalChunksFor(1, 5))
	assert.Equal(t, 1, TotalChunksFor(5, 5))
	assert.Equal(t, 2, TotalChunksFor(6, 5))
	assert.Equal(t, 3, TotalChunksFor(11, 5))
}

func TestExpectedChunkSize(t *testing.T) {
	s := &UploadSession{TotalSize: 11, ChunkSize: 5, TotalChunks: 3}
	assert.Equal(t, int64(5), s.ExpectedChunkSize(0))
	assert.Equal(t, int64(5), s.ExpectedChunkSize(1))
	assert.Equal(t, int64(1), s.ExpectedChunkSize(2), "last chunk carries the remainder")

	exact := &UploadSession{TotalSize: 10, ChunkSize: 5, TotalChunks: 2}
	assert.Equal(t, int64(5), exact.ExpectedChunkSize(1))
}

func TestProgress(t *testing.T) {
	s := &UploadSession{TotalChunks: 3}
	assert.Equal(t, 0.0, s.Progress())

	s.ReceivedChunks.Add(0)
	assert.Equal(t, 33.33, s.Progress())

	s.ReceivedChunks.Add(1)
	s.ReceivedChunks.Add(2)
	assert.Equal(t, 100.0, s.Progress())
	assert.True(t, s.IsComplete())
}

func TestExpired(t *testing.T) {
	now := time.Now()
	s := &UploadSession{ExpiresAt: now.Add(time.Hour)}
	assert.False(t, s.Expired(now))
	assert.True(t, s.Expired(now.Add(time.Hour)))
	assert.True(t, s.Expired(now.Add(2*time.Hour)))
}
