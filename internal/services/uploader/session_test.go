package uploader

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/3Eeeecho/go-cloudvault/internal/config"
	"github.com/3Eeeecho/go-cloudvault/internal/models"
	"github.com/3Eeeecho/go-cloudvault/internal/pkg/storage"
	"github.com/3Eeeecho/go-cloudvault/internal/pkg/xerr"
	"github.com/3Eeeecho/go-cloudvault/internal/repositories"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSessionRepo mirrors the repository's guarded-transition semantics in
// memory so the service can be exercised without a database.
type fakeSessionRepo struct {
	mu       sync.Mutex
	sessions map[string]*models.UploadSession
}

var _ repositories.UploadSessionRepository = (*fakeSessionRepo)(nil)

func newFakeSessionRepo() *fakeSessionRepo {
	return &fakeSessionRepo{sessions: make(map[string]*models.UploadSession)}
}

func (r *fakeSessionRepo) Create(_ context.Context, session *models.UploadSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *session
	r.sessions[session.ID] = &clone
	return nil
}

func (r *fakeSessionRepo) FindByID(_ context.Context, id string) (*models.UploadSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[id]
	if !ok {
		return nil, xerr.ErrUploadSessionNotFound
	}
	clone := *session
	return &clone, nil
}

func (r *fakeSessionRepo) CountActiveByUser(_ context.Context, userID uint64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var count int64
	for _, s := range r.sessions {
		if s.UserID == userID && !s.Status.Terminal() {
			count++
		}
	}
	return count, nil
}

func (r *fakeSessionRepo) ListByUser(_ context.Context, userID uint64) ([]models.UploadSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.UploadSession
	for _, s := range r.sessions {
		if s.UserID == userID {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (r *fakeSessionRepo) RecordChunk(_ context.Context, id string, chunkIndex int) (*models.UploadSession, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[id]
	if !ok {
		return nil, false, xerr.ErrUploadSessionNotFound
	}
	if !session.Status.AcceptsChunks() {
		return nil, false, xerr.ErrSessionNotAccepting
	}
	if session.Expired(time.Now()) {
		return nil, false, xerr.ErrSessionExpired
	}

	session.ReceivedChunks.Add(chunkIndex)
	if session.Status == models.SessionPending {
		session.Status = models.SessionUploading
	}
	completed := false
	if session.IsComplete() {
		session.Status = models.SessionAssembling
		completed = true
	}
	clone := *session
	return &clone, completed, nil
}

func (r *fakeSessionRepo) UpdateStatus(_ context.Context, id string, next models.SessionStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[id]
	if !ok {
		return xerr.ErrUploadSessionNotFound
	}
	if !session.Status.CanTransition(next) {
		return xerr.ErrInvalidTransition
	}
	session.Status = next
	return nil
}

func (r *fakeSessionRepo) MarkFailed(_ context.Context, id string, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[id]
	if !ok {
		return xerr.ErrUploadSessionNotFound
	}
	if session.Status.Terminal() {
		return nil
	}
	session.Status = models.SessionFailed
	session.ErrorMessage = &reason
	return nil
}

func (r *fakeSessionRepo) Cancel(_ context.Context, id string, userID uint64) (*models.UploadSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[id]
	if !ok {
		return nil, xerr.ErrUploadSessionNotFound
	}
	if session.UserID != userID {
		return nil, xerr.ErrForbidden
	}
	if !session.Status.AcceptsChunks() {
		return nil, xerr.ErrSessionNotAccepting
	}
	session.Status = models.SessionCancelled
	clone := *session
	return &clone, nil
}

func (r *fakeSessionRepo) CancelExpired(_ context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[id]
	if !ok {
		return false, nil
	}
	if session.Status.Terminal() || !session.Expired(time.Now()) {
		return false, nil
	}
	session.Status = models.SessionCancelled
	return true, nil
}

func (r *fakeSessionRepo) FindExpired(_ context.Context, now time.Time, limit int) ([]models.UploadSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.UploadSession
	for _, s := range r.sessions {
		if !s.Status.Terminal() && s.Expired(now) && len(out) < limit {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (r *fakeSessionRepo) DeleteTerminalBefore(_ context.Context, cutoff time.Time, limit int) ([]models.UploadSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.UploadSession
	for id, s := range r.sessions {
		if s.Status.Terminal() && s.UpdatedAt.Before(cutoff) && len(out) < limit {
			out = append(out, *s)
			delete(r.sessions, id)
		}
	}
	return out, nil
}

// fakePublisher records everything published.
type fakePublisher struct {
	mu       sync.Mutex
	messages map[string][][]byte
}

func newFakePublisher() *fakePublisher {
	return &fakePublisher{messages: make(map[string][][]byte)}
}

func (p *fakePublisher) Publish(queueName string, body []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages[queueName] = append(p.messages[queueName], body)
	return nil
}

func (p *fakePublisher) count(queueName string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.messages[queueName])
}

func testUploadConfig() *config.UploadConfig {
	return &config.UploadConfig{
		ChunkSize:         4,
		MaxUploadSize:     1024,
		SessionExpiry:     time.Hour,
		MaxActiveSessions: 2,
	}
}

func newTestSessionService(t *testing.T) (*SessionService, *fakeSessionRepo, *fakePublisher, *storage.LocalService) {
	t.Helper()
	repo := newFakeSessionRepo()
	pub := newFakePublisher()
	local, err := storage.NewLocalService(t.TempDir())
	require.NoError(t, err)
	security := NewFileSecurityService([]string{"exe"}, 1024)
	svc := NewSessionService(repo, local, pub, nil, security, testUploadConfig())
	return svc, repo, pub, local
}

func TestInitiate(t *testing.T) {
	svc, _, _, _ := newTestSessionService(t)
	ctx := context.Background()

	resp, err := svc.Initiate(ctx, 1, &models.InitiateUploadRequest{Filename: "notes.txt", FileSize: 10})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.SessionID)
	assert.Equal(t, int64(4), resp.ChunkSize)
	assert.Equal(t, 3, resp.TotalChunks)
	assert.True(t, resp.ExpiresAt.After(time.Now()))
}

func TestInitiateRejections(t *testing.T) {
	svc, _, _, _ := newTestSessionService(t)
	ctx := context.Background()

	_, err := svc.Initiate(ctx, 1, &models.InitiateUploadRequest{Filename: "../evil", FileSize: 10})
	assert.ErrorIs(t, err, xerr.ErrFileNameInvalid)

	_, err = svc.Initiate(ctx, 1, &models.InitiateUploadRequest{Filename: "tool.exe", FileSize: 10})
	assert.ErrorIs(t, err, xerr.ErrSecurityRejected)

	_, err = svc.Initiate(ctx, 1, &models.InitiateUploadRequest{Filename: "big.bin", FileSize: 2048})
	assert.ErrorIs(t, err, xerr.ErrFileTooLarge)
}

func TestInitiateSessionCap(t *testing.T) {
	svc, _, _, _ := newTestSessionService(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := svc.Initiate(ctx, 1, &models.InitiateUploadRequest{Filename: fmt.Sprintf("f%d.txt", i), FileSize: 10})
		require.NoError(t, err)
	}
	_, err := svc.Initiate(ctx, 1, &models.InitiateUploadRequest{Filename: "f3.txt", FileSize: 10})
	assert.ErrorIs(t, err, xerr.ErrTooManySessions)

	// The cap is per user.
	_, err = svc.Initiate(ctx, 2, &models.InitiateUploadRequest{Filename: "other.txt", FileSize: 10})
	assert.NoError(t, err)
}

func TestSubmitChunkOutOfOrderCompletes(t *testing.T) {
	svc, repo, pub, local := newTestSessionService(t)
	ctx := context.Background()

	resp, err := svc.Initiate(ctx, 1, &models.InitiateUploadRequest{Filename: "data.bin", FileSize: 10})
	require.NoError(t, err)
	id := resp.SessionID

	chunks := map[int]string{0: "aaaa", 1: "bbbb", 2: "cc"}
	for _, idx := range []int{2, 0, 1} {
		payload := chunks[idx]
		sub, err := svc.SubmitChunk(ctx, 1, id, idx, strings.NewReader(payload), int64(len(payload)))
		require.NoError(t, err)
		assert.Equal(t, idx, sub.ChunkIndex)
	}

	session, err := repo.FindByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.SessionAssembling, session.Status)
	assert.Equal(t, 1, pub.count("uploads.assemble"), "completion must enqueue assembly exactly once")

	for idx := range chunks {
		exists, err := local.Exists(ctx, StagingChunkKey(session.StagingPath, idx))
		require.NoError(t, err)
		assert.True(t, exists, "chunk %d must be staged", idx)
	}
}

func TestSubmitChunkDuplicateIsNoOp(t *testing.T) {
	svc, _, pub, _ := newTestSessionService(t)
	ctx := context.Background()

	resp, err := svc.Initiate(ctx, 1, &models.InitiateUploadRequest{Filename: "data.bin", FileSize: 10})
	require.NoError(t, err)

	_, err = svc.SubmitChunk(ctx, 1, resp.SessionID, 0, strings.NewReader("aaaa"), 4)
	require.NoError(t, err)
	sub, err := svc.SubmitChunk(ctx, 1, resp.SessionID, 0, strings.NewReader("aaaa"), 4)
	require.NoError(t, err)
	assert.Equal(t, 1, sub.ReceivedCount)
	assert.Equal(t, 0, pub.count("uploads.assemble"))
}

func TestSubmitChunkValidation(t *testing.T) {
	svc, repo, _, _ := newTestSessionService(t)
	ctx := context.Background()

	resp, err := svc.Initiate(ctx, 1, &models.InitiateUploadRequest{Filename: "data.bin", FileSize: 10})
	require.NoError(t, err)
	id := resp.SessionID

	_, err = svc.SubmitChunk(ctx, 2, id, 0, strings.NewReader("aaaa"), 4)
	assert.ErrorIs(t, err, xerr.ErrForbidden)

	_, err = svc.SubmitChunk(ctx, 1, id, -1, strings.NewReader("aaaa"), 4)
	assert.ErrorIs(t, err, xerr.ErrChunkIndexInvalid)
	_, err = svc.SubmitChunk(ctx, 1, id, 3, strings.NewReader("aaaa"), 4)
	assert.ErrorIs(t, err, xerr.ErrChunkIndexInvalid)

	// Oversize beyond the tolerance window is rejected; within it passes.
	big := strings.Repeat("x", 4+chunkSizeTolerance+1)
	_, err = svc.SubmitChunk(ctx, 1, id, 0, strings.NewReader(big), int64(len(big)))
	assert.ErrorIs(t, err, xerr.ErrChunkTooLarge)

	padded := strings.Repeat("x", 4+chunkSizeTolerance)
	_, err = svc.SubmitChunk(ctx, 1, id, 0, strings.NewReader(padded), int64(len(padded)))
	assert.NoError(t, err)

	// A session that stopped accepting chunks rejects further submissions.
	require.NoError(t, repo.UpdateStatus(ctx, id, models.SessionAssembling))
	_, err = svc.SubmitChunk(ctx, 1, id, 1, strings.NewReader("bbbb"), 4)
	assert.ErrorIs(t, err, xerr.ErrSessionNotAccepting)
}

func TestSubmitChunkExpiredSession(t *testing.T) {
	svc, repo, _, _ := newTestSessionService(t)
	ctx := context.Background()

	resp, err := svc.Initiate(ctx, 1, &models.InitiateUploadRequest{Filename: "data.bin", FileSize: 10})
	require.NoError(t, err)

	repo.mu.Lock()
	repo.sessions[resp.SessionID].ExpiresAt = time.Now().Add(-time.Minute)
	repo.mu.Unlock()

	_, err = svc.SubmitChunk(ctx, 1, resp.SessionID, 0, strings.NewReader("aaaa"), 4)
	assert.ErrorIs(t, err, xerr.ErrSessionExpired)
}

func TestConcurrentChunkSubmission(t *testing.T) {
	svc, repo, pub, _ := newTestSessionService(t)
	ctx := context.Background()

	resp, err := svc.Initiate(ctx, 1, &models.InitiateUploadRequest{Filename: "data.bin", FileSize: 10})
	require.NoError(t, err)
	id := resp.SessionID

	chunks := map[int]string{0: "aaaa", 1: "bbbb", 2: "cc"}
	var wg sync.WaitGroup
	for idx, payload := range chunks {
		wg.Add(1)
		go func(idx int, payload string) {
			defer wg.Done()
			_, err := svc.SubmitChunk(ctx, 1, id, idx, strings.NewReader(payload), int64(len(payload)))
			assert.NoError(t, err)
		}(idx, payload)
	}
	wg.Wait()

	session, err := repo.FindByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.SessionAssembling, session.Status)
	assert.Equal(t, 1, pub.count("uploads.assemble"), "exactly one submission observes completion")
}

func TestStatus(t *testing.T) {
	svc, _, _, _ := newTestSessionService(t)
	ctx := context.Background()

	resp, err := svc.Initiate(ctx, 1, &models.InitiateUploadRequest{Filename: "data.bin", FileSize: 10})
	require.NoError(t, err)

	_, err = svc.SubmitChunk(ctx, 1, resp.SessionID, 1, strings.NewReader("bbbb"), 4)
	require.NoError(t, err)

	status, err := svc.Status(ctx, 1, resp.SessionID)
	require.NoError(t, err)
	assert.Equal(t, string(models.SessionUploading), status.Status)
	assert.Equal(t, 1, status.ReceivedCount)
	assert.Equal(t, []int{0, 2}, status.MissingChunks)
	assert.False(t, status.IsExpired)

	_, err = svc.Status(ctx, 2, resp.SessionID)
	assert.ErrorIs(t, err, xerr.ErrForbidden)

	_, err = svc.Status(ctx, 1, "no-such-session")
	assert.ErrorIs(t, err, xerr.ErrUploadSessionNotFound)
}

func TestCancel(t *testing.T) {
	svc, repo, _, local := newTestSessionService(t)
	ctx := context.Background()

	resp, err := svc.Initiate(ctx, 1, &models.InitiateUploadRequest{Filename: "data.bin", FileSize: 10})
	require.NoError(t, err)
	id := resp.SessionID

	_, err = svc.SubmitChunk(ctx, 1, id, 0, strings.NewReader("aaaa"), 4)
	require.NoError(t, err)

	require.NoError(t, svc.Cancel(ctx, 1, id))

	session, err := repo.FindByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.SessionCancelled, session.Status)

	exists, err := local.Exists(ctx, StagingChunkKey(session.StagingPath, 0))
	require.NoError(t, err)
	assert.False(t, exists, "staged chunks must be freed on cancel")

	// Cancelling twice or after assembly started is rejected.
	assert.ErrorIs(t, svc.Cancel(ctx, 1, id), xerr.ErrSessionNotAccepting)
}

func TestList(t *testing.T) {
	svc, _, _, _ := newTestSessionService(t)
	ctx := context.Background()

	_, err := svc.Initiate(ctx, 1, &models.InitiateUploadRequest{Filename: "a.txt", FileSize: 10})
	require.NoError(t, err)
	_, err = svc.Initiate(ctx, 1, &models.InitiateUploadRequest{Filename: "b.txt", FileSize: 10})
	require.NoError(t, err)

	summaries, err := svc.List(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, summaries, 2)

	other, err := svc.List(ctx, 2)
	require.NoError(t, err)
	assert.Empty(t, other)
}
