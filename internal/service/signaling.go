package service

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog/log"

	apperrors "github.com/procsuite/signaling-server-go/internal/errors"
	"github.com/procsuite/signaling-server-go/internal/model"
	"github.com/procsuite/signaling-server-go/internal/store"
)

// SignalingService validates input and drives the session store. All the
// ordering and atomicity guarantees live in the store; this layer rejects
// malformed input before it gets there.
type SignalingService struct {
	store store.Store
}

func NewSignalingService(st store.Store) *SignalingService {
	return &SignalingService{store: st}
}

func (s *SignalingService) CreateSession(ctx context.Context, params model.CreateSessionParams) (*model.Session, error) {
	if params.ClientID == "" {
		return nil, apperrors.MissingRequired("client_id")
	}
	if params.OfferSDP == "" {
		return nil, apperrors.MissingRequired("offer_sdp")
	}

	session, err := s.store.CreateSession(ctx, params)
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("session_id", session.ID).
		Str("client_id", session.ClientID).
		Msg("signaling session created")

	return session, nil
}

func (s *SignalingService) GetSession(ctx context.Context, id string) (*model.Session, error) {
	if id == "" {
		return nil, apperrors.MissingRequired("session id")
	}
	return s.store.GetSession(ctx, id)
}

func (s *SignalingService) SubmitAnswer(ctx context.Context, id string, params model.SubmitAnswerParams) (*model.Session, error) {
	if id == "" {
		return nil, apperrors.MissingRequired("session id")
	}
	if params.ResponderID == "" {
		return nil, apperrors.MissingRequired("responder_id")
	}
	if params.AnswerSDP == "" {
		return nil, apperrors.MissingRequired("answer_sdp")
	}

	session, err := s.store.SubmitAnswer(ctx, id, params)
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("session_id", session.ID).
		Str("responder_id", params.ResponderID).
		Msg("answer attached")

	return session, nil
}

func (s *SignalingService) AppendCandidate(ctx context.Context, id string, candidate json.RawMessage) (*model.Session, error) {
	if id == "" {
		return nil, apperrors.MissingRequired("session id")
	}
	if len(candidate) == 0 {
		return nil, apperrors.MissingRequired("candidate")
	}
	if !json.Valid(candidate) {
		return nil, apperrors.InvalidArgument("candidate", "not valid JSON")
	}

	session, err := s.store.AppendCandidate(ctx, id, candidate)
	if err != nil {
		return nil, err
	}

	log.Debug().
		Str("session_id", session.ID).
		Int("log_length", len(session.IceCandidates)).
		Msg("candidate appended")

	return session, nil
}

func (s *SignalingService) CloseSession(ctx context.Context, id string) (*model.Session, error) {
	if id == "" {
		return nil, apperrors.MissingRequired("session id")
	}

	session, err := s.store.CloseSession(ctx, id)
	if err != nil {
		return nil, err
	}

	log.Info().Str("session_id", session.ID).Msg("signaling session closed")

	return session, nil
}
