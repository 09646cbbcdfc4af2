package store

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/procsuite/signaling-server-go/internal/errors"
	"github.com/procsuite/signaling-server-go/internal/model"
)

// MemoryStore keeps sessions in process memory. Each session carries its own
// lock so mutations are serialized per session id while distinct sessions
// proceed independently; the map lock is only held for lookups and inserts.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*sessionEntry
}

type sessionEntry struct {
	mu      sync.Mutex
	session model.Session
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*sessionEntry),
	}
}

func (s *MemoryStore) CreateSession(ctx context.Context, params model.CreateSessionParams) (*model.Session, error) {
	now := time.Now().UTC()
	metadata := model.Metadata(params.Metadata)
	if metadata == nil {
		metadata = model.Metadata{}
	}
	session := model.Session{
		ID:                uuid.NewString(),
		ClientID:          params.ClientID,
		Status:            model.StatusPending,
		OfferSDP:          params.OfferSDP,
		Metadata:          metadata,
		ResponderMetadata: model.Metadata{},
		IceCandidates:     model.CandidateLog{},
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	s.mu.Lock()
	s.sessions[session.ID] = &sessionEntry{session: session}
	s.mu.Unlock()

	return session.Clone(), nil
}

func (s *MemoryStore) GetSession(ctx context.Context, id string) (*model.Session, error) {
	entry, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.session.Clone(), nil
}

func (s *MemoryStore) SubmitAnswer(ctx context.Context, id string, params model.SubmitAnswerParams) (*model.Session, error) {
	entry, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	sess := &entry.session
	if sess.Status == model.StatusClosed {
		return nil, apperrors.Conflict("Session is closed")
	}
	if sess.AnswerSDP != nil {
		if *sess.AnswerSDP == params.AnswerSDP {
			// Idempotent retry of the same answer.
			return sess.Clone(), nil
		}
		return nil, apperrors.Conflict("Answer already submitted")
	}

	answer := params.AnswerSDP
	responder := params.ResponderID
	sess.AnswerSDP = &answer
	sess.ResponderID = &responder
	sess.ResponderMetadata = model.Metadata(params.ResponderMetadata)
	if sess.ResponderMetadata == nil {
		sess.ResponderMetadata = model.Metadata{}
	}
	sess.Status = model.StatusAnswered
	sess.UpdatedAt = time.Now().UTC()

	return sess.Clone(), nil
}

func (s *MemoryStore) AppendCandidate(ctx context.Context, id string, candidate json.RawMessage) (*model.Session, error) {
	entry, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	sess := &entry.session
	if sess.Status == model.StatusClosed {
		return nil, apperrors.Conflict("Session is closed")
	}

	sess.IceCandidates = append(sess.IceCandidates, append(json.RawMessage(nil), candidate...))
	sess.UpdatedAt = time.Now().UTC()

	return sess.Clone(), nil
}

func (s *MemoryStore) CloseSession(ctx context.Context, id string) (*model.Session, error) {
	entry, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	sess := &entry.session
	if sess.Status != model.StatusClosed {
		sess.Status = model.StatusClosed
		sess.UpdatedAt = time.Now().UTC()
	}
	return sess.Clone(), nil
}

func (s *MemoryStore) CloseIdle(ctx context.Context, idleFor time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-idleFor)

	s.mu.RLock()
	entries := make([]*sessionEntry, 0, len(s.sessions))
	for _, entry := range s.sessions {
		entries = append(entries, entry)
	}
	s.mu.RUnlock()

	var closed int64
	for _, entry := range entries {
		entry.mu.Lock()
		if entry.session.Status != model.StatusClosed && entry.session.UpdatedAt.Before(cutoff) {
			entry.session.Status = model.StatusClosed
			entry.session.UpdatedAt = time.Now().UTC()
			closed++
		}
		entry.mu.Unlock()
	}
	return closed, nil
}

func (s *MemoryStore) lookup(id string) (*sessionEntry, error) {
	s.mu.RLock()
	entry, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, apperrors.NotFound("Session")
	}
	return entry, nil
}
