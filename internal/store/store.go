package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/procsuite/signaling-server-go/internal/model"
)

// Store is the authoritative registry of signaling sessions. Implementations
// must serialize mutations per session id: concurrent answer submissions race
// to exactly one winner, and concurrent candidate appends never lose entries.
type Store interface {
	CreateSession(ctx context.Context, params model.CreateSessionParams) (*model.Session, error)
	GetSession(ctx context.Context, id string) (*model.Session, error)
	// SubmitAnswer sets answer_sdp, responder_id and responder_metadata
	// exactly once. Retrying with an identical answer is a no-op success;
	// a different answer after one is set returns Conflict.
	SubmitAnswer(ctx context.Context, id string, params model.SubmitAnswerParams) (*model.Session, error)
	// AppendCandidate appends to the candidate log. Rejected with Conflict
	// once the session is closed.
	AppendCandidate(ctx context.Context, id string, candidate json.RawMessage) (*model.Session, error)
	// CloseSession is idempotent.
	CloseSession(ctx context.Context, id string) (*model.Session, error)
	// CloseIdle closes every non-closed session whose last update is older
	// than idleFor and reports how many it closed.
	CloseIdle(ctx context.Context, idleFor time.Duration) (int64, error)
}
