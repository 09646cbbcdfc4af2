package handler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/procsuite/signaling-server-go/internal/config"
	"github.com/procsuite/signaling-server-go/internal/model"
	"github.com/procsuite/signaling-server-go/internal/service"
	"github.com/procsuite/signaling-server-go/internal/store"
)

func newTestRouter(cfg *config.Config) chi.Router {
	if cfg == nil {
		cfg = &config.Config{}
	}
	h := NewWebRTCHandler(
		service.NewSignalingService(store.NewMemoryStore()),
		service.NewIceConfigProvider(cfg),
	)
	r := chi.NewRouter()
	r.Mount("/webrtc", h.Routes())
	return r
}

func doJSON(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeSession(t *testing.T, rec *httptest.ResponseRecorder) model.Session {
	t.Helper()
	var session model.Session
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &session))
	return session
}

func createSession(t *testing.T, router http.Handler) model.Session {
	t.Helper()
	rec := doJSON(t, router, http.MethodPost, "/webrtc/sessions", map[string]any{
		"client_id": "client-1",
		"offer_sdp": "O1",
		"metadata":  map[string]any{"room": "or-3"},
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	return decodeSession(t, rec)
}

func TestGetConfig(t *testing.T) {
	t.Run("returns configured ice servers", func(t *testing.T) {
		router := newTestRouter(&config.Config{
			StunServers:  []string{"stun:stun.example.org:3478"},
			TurnServers:  []string{"turn:turn.example.org:3478"},
			TurnUsername: "user",
			TurnPassword: "pass",
		})

		rec := doJSON(t, router, http.MethodGet, "/webrtc/config", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var body struct {
			IceServers []model.IceServer `json:"ice_servers"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		require.Len(t, body.IceServers, 2)
		assert.Equal(t, []string{"stun:stun.example.org:3478"}, body.IceServers[0].URLs)
		assert.Equal(t, "user", body.IceServers[1].Username)
	})

	t.Run("empty config yields empty list, not null", func(t *testing.T) {
		router := newTestRouter(nil)
		rec := doJSON(t, router, http.MethodGet, "/webrtc/config", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"ice_servers":[]`)
	})
}

func TestCreateSessionEndpoint(t *testing.T) {
	t.Run("returns 201 with pending session", func(t *testing.T) {
		router := newTestRouter(nil)
		session := createSession(t, router)

		assert.NotEmpty(t, session.ID)
		assert.Equal(t, model.StatusPending, session.Status)
		assert.Equal(t, "O1", session.OfferSDP)
		assert.Equal(t, "or-3", session.Metadata["room"])
	})

	t.Run("returns 422 when offer_sdp missing", func(t *testing.T) {
		router := newTestRouter(nil)
		rec := doJSON(t, router, http.MethodPost, "/webrtc/sessions", map[string]any{
			"client_id": "client-1",
		})
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		assert.Contains(t, rec.Body.String(), "offer_sdp")
	})

	t.Run("returns 422 on malformed body", func(t *testing.T) {
		router := newTestRouter(nil)
		req := httptest.NewRequest(http.MethodPost, "/webrtc/sessions", bytes.NewBufferString("{not json"))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	})
}

func TestGetSessionEndpoint(t *testing.T) {
	router := newTestRouter(nil)

	t.Run("round trips a created session", func(t *testing.T) {
		session := createSession(t, router)
		rec := doJSON(t, router, http.MethodGet, "/webrtc/sessions/"+session.ID, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		fetched := decodeSession(t, rec)
		assert.Equal(t, session.ID, fetched.ID)
		assert.Equal(t, "O1", fetched.OfferSDP)
	})

	t.Run("returns 404 for unknown id", func(t *testing.T) {
		rec := doJSON(t, router, http.MethodGet, "/webrtc/sessions/unknown", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestSubmitAnswerEndpoint(t *testing.T) {
	answerBody := map[string]any{
		"responder_id":       "responder-1",
		"answer_sdp":         "A1",
		"responder_metadata": map[string]any{"device": "cart-2"},
	}

	t.Run("answers a pending session", func(t *testing.T) {
		router := newTestRouter(nil)
		session := createSession(t, router)

		rec := doJSON(t, router, http.MethodPost, "/webrtc/sessions/"+session.ID+"/answer", answerBody)
		require.Equal(t, http.StatusOK, rec.Code)
		answered := decodeSession(t, rec)
		assert.Equal(t, model.StatusAnswered, answered.Status)
		require.NotNil(t, answered.AnswerSDP)
		assert.Equal(t, "A1", *answered.AnswerSDP)
		require.NotNil(t, answered.ResponderID)
		assert.Equal(t, "responder-1", *answered.ResponderID)
	})

	t.Run("identical resubmission succeeds", func(t *testing.T) {
		router := newTestRouter(nil)
		session := createSession(t, router)

		first := doJSON(t, router, http.MethodPost, "/webrtc/sessions/"+session.ID+"/answer", answerBody)
		require.Equal(t, http.StatusOK, first.Code)
		second := doJSON(t, router, http.MethodPost, "/webrtc/sessions/"+session.ID+"/answer", answerBody)
		assert.Equal(t, http.StatusOK, second.Code)
	})

	t.Run("conflicting answer returns 409", func(t *testing.T) {
		router := newTestRouter(nil)
		session := createSession(t, router)

		first := doJSON(t, router, http.MethodPost, "/webrtc/sessions/"+session.ID+"/answer", answerBody)
		require.Equal(t, http.StatusOK, first.Code)

		rec := doJSON(t, router, http.MethodPost, "/webrtc/sessions/"+session.ID+"/answer", map[string]any{
			"responder_id": "responder-2",
			"answer_sdp":   "A2",
		})
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("unknown session returns 404", func(t *testing.T) {
		router := newTestRouter(nil)
		rec := doJSON(t, router, http.MethodPost, "/webrtc/sessions/unknown/answer", answerBody)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("missing answer_sdp returns 422", func(t *testing.T) {
		router := newTestRouter(nil)
		session := createSession(t, router)
		rec := doJSON(t, router, http.MethodPost, "/webrtc/sessions/"+session.ID+"/answer", map[string]any{
			"responder_id": "responder-1",
		})
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	})
}

func TestSubmitCandidateEndpoint(t *testing.T) {
	t.Run("appends candidates in order", func(t *testing.T) {
		router := newTestRouter(nil)
		session := createSession(t, router)

		var last model.Session
		for i := 1; i <= 3; i++ {
			rec := doJSON(t, router, http.MethodPost, "/webrtc/sessions/"+session.ID+"/candidates", map[string]any{
				"candidate": map[string]any{"candidate": fmt.Sprintf("c%d", i)},
			})
			require.Equal(t, http.StatusOK, rec.Code)
			last = decodeSession(t, rec)
		}

		require.Len(t, last.IceCandidates, 3)
		assert.JSONEq(t, `{"candidate":"c1"}`, string(last.IceCandidates[0]))
		assert.JSONEq(t, `{"candidate":"c3"}`, string(last.IceCandidates[2]))
	})

	t.Run("closed session returns 409", func(t *testing.T) {
		router := newTestRouter(nil)
		session := createSession(t, router)

		rec := doJSON(t, router, http.MethodPost, "/webrtc/sessions/"+session.ID+"/close", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		rec = doJSON(t, router, http.MethodPost, "/webrtc/sessions/"+session.ID+"/candidates", map[string]any{
			"candidate": map[string]any{"candidate": "late"},
		})
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("missing candidate returns 422", func(t *testing.T) {
		router := newTestRouter(nil)
		session := createSession(t, router)
		rec := doJSON(t, router, http.MethodPost, "/webrtc/sessions/"+session.ID+"/candidates", map[string]any{})
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	})
}

func TestCloseSessionEndpoint(t *testing.T) {
	t.Run("close is idempotent", func(t *testing.T) {
		router := newTestRouter(nil)
		session := createSession(t, router)

		first := doJSON(t, router, http.MethodPost, "/webrtc/sessions/"+session.ID+"/close", nil)
		require.Equal(t, http.StatusOK, first.Code)
		assert.Equal(t, model.StatusClosed, decodeSession(t, first).Status)

		second := doJSON(t, router, http.MethodPost, "/webrtc/sessions/"+session.ID+"/close", nil)
		assert.Equal(t, http.StatusOK, second.Code)
		assert.Equal(t, model.StatusClosed, decodeSession(t, second).Status)
	})

	t.Run("unknown session returns 404", func(t *testing.T) {
		router := newTestRouter(nil)
		rec := doJSON(t, router, http.MethodPost, "/webrtc/sessions/unknown/close", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}
