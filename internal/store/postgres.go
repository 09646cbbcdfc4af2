package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	apperrors "github.com/procsuite/signaling-server-go/internal/errors"
	"github.com/procsuite/signaling-server-go/internal/model"
)

// PostgresStore persists sessions in the webrtc_sessions table. Per-session
// serialization is pushed into SQL: the answer is a conditional UPDATE so
// racing submissions get exactly one winner, and candidate appends use jsonb
// concatenation, which is atomic per row.
type PostgresStore struct {
	db *sqlx.DB
}

var _ Store = (*PostgresStore)(nil)

func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) CreateSession(ctx context.Context, params model.CreateSessionParams) (*model.Session, error) {
	metadata := model.Metadata(params.Metadata)
	if metadata == nil {
		metadata = model.Metadata{}
	}

	var session model.Session
	err := s.db.GetContext(ctx, &session, `
		INSERT INTO webrtc_sessions (id, client_id, status, offer_sdp, metadata)
		VALUES ($1, $2, 'pending', $3, $4)
		RETURNING *
	`, uuid.NewString(), params.ClientID, params.OfferSDP, metadata)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	return &session, nil
}

func (s *PostgresStore) GetSession(ctx context.Context, id string) (*model.Session, error) {
	return s.fetch(ctx, id)
}

func (s *PostgresStore) SubmitAnswer(ctx context.Context, id string, params model.SubmitAnswerParams) (*model.Session, error) {
	responderMetadata := model.Metadata(params.ResponderMetadata)
	if responderMetadata == nil {
		responderMetadata = model.Metadata{}
	}

	var session model.Session
	err := s.db.GetContext(ctx, &session, `
		UPDATE webrtc_sessions SET
			answer_sdp = $2,
			responder_id = $3,
			responder_metadata = $4,
			status = 'answered',
			updated_at = NOW()
		WHERE id = $1 AND status <> 'closed' AND answer_sdp IS NULL
		RETURNING *
	`, id, params.AnswerSDP, params.ResponderID, responderMetadata)
	if err == nil {
		return &session, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.Database(err)
	}

	// The guarded update matched nothing: unknown id, closed, or already
	// answered. Re-read to tell which.
	current, ferr := s.fetch(ctx, id)
	if ferr != nil {
		return nil, ferr
	}
	if current.Status == model.StatusClosed {
		return nil, apperrors.Conflict("Session is closed")
	}
	if current.AnswerSDP != nil && *current.AnswerSDP == params.AnswerSDP {
		return current, nil
	}
	return nil, apperrors.Conflict("Answer already submitted")
}

func (s *PostgresStore) AppendCandidate(ctx context.Context, id string, candidate json.RawMessage) (*model.Session, error) {
	var session model.Session
	err := s.db.GetContext(ctx, &session, `
		UPDATE webrtc_sessions SET
			ice_candidates = ice_candidates || jsonb_build_array($2::jsonb),
			updated_at = NOW()
		WHERE id = $1 AND status <> 'closed'
		RETURNING *
	`, id, []byte(candidate))
	if err == nil {
		return &session, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.Database(err)
	}

	if _, ferr := s.fetch(ctx, id); ferr != nil {
		return nil, ferr
	}
	return nil, apperrors.Conflict("Session is closed")
}

func (s *PostgresStore) CloseSession(ctx context.Context, id string) (*model.Session, error) {
	var session model.Session
	err := s.db.GetContext(ctx, &session, `
		UPDATE webrtc_sessions SET
			status = 'closed',
			updated_at = NOW()
		WHERE id = $1 AND status <> 'closed'
		RETURNING *
	`, id)
	if err == nil {
		return &session, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.Database(err)
	}
	// Already closed, or unknown. fetch distinguishes the two.
	return s.fetch(ctx, id)
}

func (s *PostgresStore) CloseIdle(ctx context.Context, idleFor time.Duration) (int64, error) {
	interval := fmt.Sprintf("%d seconds", int64(idleFor.Seconds()))
	result, err := s.db.ExecContext(ctx, `
		UPDATE webrtc_sessions SET
			status = 'closed',
			updated_at = NOW()
		WHERE status <> 'closed' AND updated_at < NOW() - $1::interval
	`, interval)
	if err != nil {
		return 0, apperrors.Database(err)
	}
	return result.RowsAffected()
}

func (s *PostgresStore) fetch(ctx context.Context, id string) (*model.Session, error) {
	var session model.Session
	err := s.db.GetContext(ctx, &session, `
		SELECT * FROM webrtc_sessions WHERE id = $1
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("Session")
	}
	if err != nil {
		return nil, apperrors.Database(err)
	}
	return &session, nil
}
