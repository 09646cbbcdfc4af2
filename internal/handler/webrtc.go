package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	apperrors "github.com/procsuite/signaling-server-go/internal/errors"
	"github.com/procsuite/signaling-server-go/internal/model"
	"github.com/procsuite/signaling-server-go/internal/service"
)

type WebRTCHandler struct {
	signaling *service.SignalingService
	iceConfig *service.IceConfigProvider
}

func NewWebRTCHandler(signaling *service.SignalingService, iceConfig *service.IceConfigProvider) *WebRTCHandler {
	return &WebRTCHandler{
		signaling: signaling,
		iceConfig: iceConfig,
	}
}

func (h *WebRTCHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/config", h.GetConfig)
	r.Post("/sessions", h.CreateSession)
	r.Get("/sessions/{sessionID}", h.GetSession)
	r.Post("/sessions/{sessionID}/answer", h.SubmitAnswer)
	r.Post("/sessions/{sessionID}/candidates", h.SubmitCandidate)
	r.Post("/sessions/{sessionID}/close", h.CloseSession)

	return r
}

type iceConfigResponse struct {
	IceServers []model.IceServer `json:"ice_servers"`
}

// GET /webrtc/config
func (h *WebRTCHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, iceConfigResponse{IceServers: h.iceConfig.IceServers()})
}

// POST /webrtc/sessions
func (h *WebRTCHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req model.CreateSessionParams
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.InvalidArgument("request body", "malformed JSON"))
		return
	}

	session, err := h.signaling.CreateSession(r.Context(), req)
	if err != nil {
		logRequestError(r, err, "create session failed")
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, session)
}

// GET /webrtc/sessions/{sessionID}
func (h *WebRTCHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	session, err := h.signaling.GetSession(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		logRequestError(r, err, "get session failed")
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, session)
}

// POST /webrtc/sessions/{sessionID}/answer
func (h *WebRTCHandler) SubmitAnswer(w http.ResponseWriter, r *http.Request) {
	var req model.SubmitAnswerParams
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.InvalidArgument("request body", "malformed JSON"))
		return
	}

	session, err := h.signaling.SubmitAnswer(r.Context(), chi.URLParam(r, "sessionID"), req)
	if err != nil {
		logRequestError(r, err, "submit answer failed")
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, session)
}

// POST /webrtc/sessions/{sessionID}/candidates
func (h *WebRTCHandler) SubmitCandidate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Candidate json.RawMessage `json:"candidate"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.InvalidArgument("request body", "malformed JSON"))
		return
	}

	session, err := h.signaling.AppendCandidate(r.Context(), chi.URLParam(r, "sessionID"), req.Candidate)
	if err != nil {
		logRequestError(r, err, "append candidate failed")
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, session)
}

// POST /webrtc/sessions/{sessionID}/close
func (h *WebRTCHandler) CloseSession(w http.ResponseWriter, r *http.Request) {
	session, err := h.signaling.CloseSession(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		logRequestError(r, err, "close session failed")
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, session)
}

// logRequestError keeps expected client mistakes at debug level so a noisy
// peer cannot flood the error log.
func logRequestError(r *http.Request, err error, msg string) {
	switch apperrors.GetCode(err) {
	case apperrors.ErrCodeNotFound, apperrors.ErrCodeConflict,
		apperrors.ErrCodeInvalidArgument, apperrors.ErrCodeMissingRequired:
		log.Debug().Err(err).Str("path", r.URL.Path).Msg(msg)
	default:
		log.Error().Err(err).Str("path", r.URL.Path).Msg(msg)
	}
}
