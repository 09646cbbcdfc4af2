package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/procsuite/signaling-server-go/internal/errors"
	"github.com/procsuite/signaling-server-go/internal/model"
)

func newPendingSession(t *testing.T, s *MemoryStore) *model.Session {
	t.Helper()
	session, err := s.CreateSession(context.Background(), model.CreateSessionParams{
		ClientID: "client-1",
		OfferSDP: "v=0 offer",
		Metadata: map[string]any{"room": "or-3"},
	})
	require.NoError(t, err)
	return session
}

func candidate(s string) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(`{"candidate":%q}`, s))
}

func TestCreateSession(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	t.Run("assigns id and pending status", func(t *testing.T) {
		session := newPendingSession(t, s)
		assert.NotEmpty(t, session.ID)
		assert.Equal(t, model.StatusPending, session.Status)
		assert.Equal(t, "client-1", session.ClientID)
		assert.Equal(t, "v=0 offer", session.OfferSDP)
		assert.Nil(t, session.AnswerSDP)
		assert.Nil(t, session.ResponderID)
		assert.Empty(t, session.IceCandidates)
	})

	t.Run("sessions get distinct ids", func(t *testing.T) {
		a := newPendingSession(t, s)
		b := newPendingSession(t, s)
		assert.NotEqual(t, a.ID, b.ID)
	})

	t.Run("returned session is a snapshot", func(t *testing.T) {
		session := newPendingSession(t, s)
		session.Metadata["room"] = "tampered"

		fresh, err := s.GetSession(ctx, session.ID)
		require.NoError(t, err)
		assert.Equal(t, "or-3", fresh.Metadata["room"])
	})
}

func TestGetSession(t *testing.T) {
	s := NewMemoryStore()

	t.Run("returns NotFound for unknown id", func(t *testing.T) {
		_, err := s.GetSession(context.Background(), "nope")
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNotFound))
	})
}

func TestSubmitAnswer(t *testing.T) {
	ctx := context.Background()
	answer := model.SubmitAnswerParams{
		ResponderID:       "responder-1",
		AnswerSDP:         "v=0 answer",
		ResponderMetadata: map[string]any{"device": "cart-2"},
	}

	t.Run("sets answer, responder and status together", func(t *testing.T) {
		s := NewMemoryStore()
		session := newPendingSession(t, s)

		updated, err := s.SubmitAnswer(ctx, session.ID, answer)
		require.NoError(t, err)
		assert.Equal(t, model.StatusAnswered, updated.Status)
		require.NotNil(t, updated.AnswerSDP)
		assert.Equal(t, "v=0 answer", *updated.AnswerSDP)
		require.NotNil(t, updated.ResponderID)
		assert.Equal(t, "responder-1", *updated.ResponderID)
		assert.Equal(t, "cart-2", updated.ResponderMetadata["device"])
		assert.True(t, updated.UpdatedAt.After(session.UpdatedAt) || updated.UpdatedAt.Equal(session.UpdatedAt))
	})

	t.Run("identical retry is a no-op success", func(t *testing.T) {
		s := NewMemoryStore()
		session := newPendingSession(t, s)

		first, err := s.SubmitAnswer(ctx, session.ID, answer)
		require.NoError(t, err)

		second, err := s.SubmitAnswer(ctx, session.ID, answer)
		require.NoError(t, err)
		assert.Equal(t, first.Status, second.Status)
		assert.Equal(t, *first.AnswerSDP, *second.AnswerSDP)
		assert.Equal(t, first.UpdatedAt, second.UpdatedAt)
	})

	t.Run("different answer is rejected with Conflict", func(t *testing.T) {
		s := NewMemoryStore()
		session := newPendingSession(t, s)

		_, err := s.SubmitAnswer(ctx, session.ID, answer)
		require.NoError(t, err)

		other := answer
		other.AnswerSDP = "v=0 different answer"
		_, err = s.SubmitAnswer(ctx, session.ID, other)
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeConflict))
	})

	t.Run("unknown session returns NotFound", func(t *testing.T) {
		s := NewMemoryStore()
		_, err := s.SubmitAnswer(ctx, "nope", answer)
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNotFound))
	})

	t.Run("closed session returns Conflict", func(t *testing.T) {
		s := NewMemoryStore()
		session := newPendingSession(t, s)
		_, err := s.CloseSession(ctx, session.ID)
		require.NoError(t, err)

		_, err = s.SubmitAnswer(ctx, session.ID, answer)
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeConflict))
	})

	t.Run("exactly one concurrent submission wins", func(t *testing.T) {
		s := NewMemoryStore()
		session := newPendingSession(t, s)

		const racers = 8
		errs := make([]error, racers)
		var wg sync.WaitGroup
		for i := 0; i < racers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, errs[i] = s.SubmitAnswer(ctx, session.ID, model.SubmitAnswerParams{
					ResponderID: fmt.Sprintf("responder-%d", i),
					AnswerSDP:   fmt.Sprintf("v=0 answer %d", i),
				})
			}(i)
		}
		wg.Wait()

		wins := 0
		for _, err := range errs {
			if err == nil {
				wins++
			} else {
				assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeConflict))
			}
		}
		assert.Equal(t, 1, wins)
	})
}

func TestAppendCandidate(t *testing.T) {
	ctx := context.Background()

	t.Run("appends in submission order", func(t *testing.T) {
		s := NewMemoryStore()
		session := newPendingSession(t, s)

		for _, c := range []string{"c1", "c2", "c3"} {
			_, err := s.AppendCandidate(ctx, session.ID, candidate(c))
			require.NoError(t, err)
		}

		fresh, err := s.GetSession(ctx, session.ID)
		require.NoError(t, err)
		require.Len(t, fresh.IceCandidates, 3)
		assert.JSONEq(t, `{"candidate":"c1"}`, string(fresh.IceCandidates[0]))
		assert.JSONEq(t, `{"candidate":"c2"}`, string(fresh.IceCandidates[1]))
		assert.JSONEq(t, `{"candidate":"c3"}`, string(fresh.IceCandidates[2]))
	})

	t.Run("duplicate payloads are preserved as repeats", func(t *testing.T) {
		s := NewMemoryStore()
		session := newPendingSession(t, s)

		_, err := s.AppendCandidate(ctx, session.ID, candidate("dup"))
		require.NoError(t, err)
		fresh, err := s.AppendCandidate(ctx, session.ID, candidate("dup"))
		require.NoError(t, err)
		assert.Len(t, fresh.IceCandidates, 2)
	})

	t.Run("closed session rejects candidates", func(t *testing.T) {
		s := NewMemoryStore()
		session := newPendingSession(t, s)
		_, err := s.CloseSession(ctx, session.ID)
		require.NoError(t, err)

		_, err = s.AppendCandidate(ctx, session.ID, candidate("late"))
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeConflict))
	})

	t.Run("concurrent appends from two peers lose nothing", func(t *testing.T) {
		s := NewMemoryStore()
		session := newPendingSession(t, s)

		const perPeer = 100
		peers := []string{"a", "b"}
		errs := make([][]error, len(peers))
		var wg sync.WaitGroup
		for pi, peer := range peers {
			errs[pi] = make([]error, perPeer)
			wg.Add(1)
			go func(pi int, peer string) {
				defer wg.Done()
				for i := 0; i < perPeer; i++ {
					_, errs[pi][i] = s.AppendCandidate(ctx, session.ID, candidate(fmt.Sprintf("%s-%d", peer, i)))
				}
			}(pi, peer)
		}
		wg.Wait()

		for _, peerErrs := range errs {
			for _, err := range peerErrs {
				require.NoError(t, err)
			}
		}

		fresh, err := s.GetSession(ctx, session.ID)
		require.NoError(t, err)
		require.Len(t, fresh.IceCandidates, 2*perPeer)

		// Each peer's own submission order must survive the interleaving.
		position := map[string]int{"a": 0, "b": 0}
		for _, raw := range fresh.IceCandidates {
			var payload struct {
				Candidate string `json:"candidate"`
			}
			require.NoError(t, json.Unmarshal(raw, &payload))
			var peer string
			var n int
			_, err := fmt.Sscanf(payload.Candidate, "%1s-%d", &peer, &n)
			require.NoError(t, err)
			assert.Equal(t, position[peer], n)
			position[peer]++
		}
		assert.Equal(t, perPeer, position["a"])
		assert.Equal(t, perPeer, position["b"])
	})
}

func TestCloseSession(t *testing.T) {
	ctx := context.Background()

	t.Run("closes a pending session", func(t *testing.T) {
		s := NewMemoryStore()
		session := newPendingSession(t, s)

		closed, err := s.CloseSession(ctx, session.ID)
		require.NoError(t, err)
		assert.Equal(t, model.StatusClosed, closed.Status)
	})

	t.Run("is idempotent", func(t *testing.T) {
		s := NewMemoryStore()
		session := newPendingSession(t, s)

		first, err := s.CloseSession(ctx, session.ID)
		require.NoError(t, err)
		second, err := s.CloseSession(ctx, session.ID)
		require.NoError(t, err)
		assert.Equal(t, model.StatusClosed, second.Status)
		assert.Equal(t, first.UpdatedAt, second.UpdatedAt)
	})

	t.Run("unknown session returns NotFound", func(t *testing.T) {
		s := NewMemoryStore()
		_, err := s.CloseSession(ctx, "nope")
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNotFound))
	})
}

func TestCloseIdle(t *testing.T) {
	ctx := context.Background()

	t.Run("closes sessions idle past the threshold", func(t *testing.T) {
		s := NewMemoryStore()
		stale := newPendingSession(t, s)

		time.Sleep(20 * time.Millisecond)

		closed, err := s.CloseIdle(ctx, 10*time.Millisecond)
		require.NoError(t, err)
		assert.Equal(t, int64(1), closed)

		fresh, err := s.GetSession(ctx, stale.ID)
		require.NoError(t, err)
		assert.Equal(t, model.StatusClosed, fresh.Status)
	})

	t.Run("leaves recently active sessions alone", func(t *testing.T) {
		s := NewMemoryStore()
		active := newPendingSession(t, s)

		closed, err := s.CloseIdle(ctx, time.Hour)
		require.NoError(t, err)
		assert.Zero(t, closed)

		fresh, err := s.GetSession(ctx, active.ID)
		require.NoError(t, err)
		assert.Equal(t, model.StatusPending, fresh.Status)
	})

	t.Run("already closed sessions are not counted again", func(t *testing.T) {
		s := NewMemoryStore()
		session := newPendingSession(t, s)
		_, err := s.CloseSession(ctx, session.ID)
		require.NoError(t, err)

		time.Sleep(20 * time.Millisecond)

		closed, err := s.CloseIdle(ctx, 10*time.Millisecond)
		require.NoError(t, err)
		assert.Zero(t, closed)
	})
}
