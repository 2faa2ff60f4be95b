package worker

import (
	"context"
	"sync"
	"time"

	"github.com/3Eeeecho/go-cloudvault/internal/models"
	"github.com/3Eeeecho/go-cloudvault/internal/pkg/xerr"
	"github.com/3Eeeecho/go-cloudvault/internal/repositories"
)

// In-memory repository fakes mirroring the guarded-transition semantics of
// the real implementations.

type fakeSessionRepo struct {
	mu       sync.Mutex
	sessions map[string]*models.UploadSession
}

var _ repositories.UploadSessionRepository = (*fakeSessionRepo)(nil)

func newFakeSessionRepo(sessions ...*models.UploadSession) *fakeSessionRepo {
	r := &fakeSessionRepo{sessions: make(map[string]*models.UploadSession)}
	for _, s := range sessions {
		clone := *s
		r.sessions[s.ID] = &clone
	}
	return r
}

func (r *fakeSessionRepo) get(id string) *models.UploadSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[id]; ok {
		clone := *s
		return &clone
	}
	return nil
}

func (r *fakeSessionRepo) Create(_ context.Context, session *models.UploadSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *session
	r.sessions[session.ID] = &clone
	return nil
}

func (r *fakeSessionRepo) FindByID(_ context.Context, id string) (*models.UploadSession, error) {
	if s := r.get(id); s != nil {
		return s, nil
	}
	return nil, xerr.ErrUploadSessionNotFound
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

type fakeFileRepo struct {
	mu     sync.Mutex
	nextID uint64
	files  map[uint64]*models.File
}

var _ repositories.FileRepository = (*fakeFileRepo)(nil)

func newFakeFileRepo(files ...*models.File) *fakeFileRepo {
	r := &fakeFileRepo{files: make(map[uint64]*models.File), nextID: 1}
	for _, f := range files {
		clone := *f
		if clone.ID == 0 {
			clone.ID = r.nextID
		}
		if clone.ID >= r.nextID {
			r.nextID = clone.ID + 1
		}
		r.files[clone.ID] = &clone
	}
	return r
}

func (r *fakeFileRepo) Create(_ context.Context, file *models.File) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	file.ID = r.nextID
	r.nextID++
	clone := *file
	r.files[file.ID] = &clone
	return nil
}

func (r *fakeFileRepo) FindByID(_ context.Context, id uint64) (*models.File, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	file, ok := r.files[id]
	if !ok {
		return nil, xerr.ErrFileNotFound
	}
	clone := *file
	return &clone, nil
}

func (r *fakeFileRepo) Save(_ context.Context, file *models.File) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *file
	r.files[file.ID] = &clone
	return nil
}

type fakeLogRepo struct {
	mu      sync.Mutex
	nextID  uint64
	entries []*models.FileProcessingLog
}

var _ repositories.ProcessingLogRepository = (*fakeLogRepo)(nil)

func newFakeLogRepo() *fakeLogRepo {
	return &fakeLogRepo{nextID: 1}
}

func (r *fakeLogRepo) LogStart(_ context.Context, fileID uint64, step string) (*models.FileProcessingLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	entry := &models.FileProcessingLog{
		ID:        r.nextID,
		FileID:    fileID,
		Step:      step,
		Status:    models.LogProcessing,
		StartedAt: &now,
	}
	r.nextID++
	r.entries = append(r.entries, entry)
	return entry, nil
}

func (r *fakeLogRepo) MarkCompleted(_ context.Context, entry *models.FileProcessingLog, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	entry.Status = models.LogCompleted
	entry.CompletedAt = &now
	entry.Message = &message
	return nil
}

func (r *fakeLogRepo) MarkFailed(_ context.Context, entry *models.FileProcessingLog, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	entry.Status = models.LogFailed
	entry.CompletedAt = &now
	entry.Message = &message
	return nil
}

func (r *fakeLogRepo) ListByFile(_ context.Context, fileID uint64) ([]models.FileProcessingLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.FileProcessingLog
	for _, e := range r.entries {
		if e.FileID == fileID {
			out = append(out, *e)
		}
	}
	return out, nil
}

func (r *fakeLogRepo) byStep(step string) []*models.FileProcessingLog {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.FileProcessingLog
	for _, e := range r.entries {
		if e.Step == step {
			out = append(out, e)
		}
	}
	return out
}

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

func (p *fakePublisher) bodies(queueName string) [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][]byte(nil), p.messages[queueName]...)
}
