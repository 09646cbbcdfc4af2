package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

type SessionStatus string

const (
	// StatusPending: offer posted, waiting for an answer.
	StatusPending SessionStatus = "pending"
	// StatusAnswered: responder has attached an answer.
	StatusAnswered SessionStatus = "answered"
	// StatusClosed: terminal; no further mutations are accepted.
	StatusClosed SessionStatus = "closed"
)

// Session is a signaling session between an initiating and an answering peer.
// The SDP strings and candidate payloads are opaque to the server.
type Session struct {
	ID                string        `db:"id" json:"id"`
	ClientID          string        `db:"client_id" json:"client_id"`
	ResponderID       *string       `db:"responder_id" json:"responder_id"`
	Status            SessionStatus `db:"status" json:"status"`
	OfferSDP          string        `db:"offer_sdp" json:"offer_sdp"`
	AnswerSDP         *string       `db:"answer_sdp" json:"answer_sdp"`
	Metadata          Metadata      `db:"metadata" json:"metadata"`
	ResponderMetadata Metadata      `db:"responder_metadata" json:"responder_metadata"`
	IceCandidates     CandidateLog  `db:"ice_candidates" json:"ice_candidates"`
	CreatedAt         time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time     `db:"updated_at" json:"updated_at"`
}

// Clone returns a deep copy safe to hand out while the original keeps mutating.
func (s *Session) Clone() *Session {
	c := *s
	if s.ResponderID != nil {
		v := *s.ResponderID
		c.ResponderID = &v
	}
	if s.AnswerSDP != nil {
		v := *s.AnswerSDP
		c.AnswerSDP = &v
	}
	c.Metadata = s.Metadata.clone()
	c.ResponderMetadata = s.ResponderMetadata.clone()
	c.IceCandidates = make(CandidateLog, len(s.IceCandidates))
	for i, cand := range s.IceCandidates {
		c.IceCandidates[i] = append(json.RawMessage(nil), cand...)
	}
	return &c
}

type CreateSessionParams struct {
	ClientID string         `json:"client_id"`
	OfferSDP string         `json:"offer_sdp"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

type SubmitAnswerParams struct {
	ResponderID       string         `json:"responder_id"`
	AnswerSDP         string         `json:"answer_sdp"`
	ResponderMetadata map[string]any `json:"responder_metadata,omitempty"`
}

// IceServer mirrors the RTCIceServer dictionary handed to clients.
type IceServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

// Metadata is an opaque key/value bag stored as jsonb.
type Metadata map[string]any

func (m Metadata) clone() Metadata {
	if m == nil {
		return Metadata{}
	}
	c := make(Metadata, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}

func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

func (m *Metadata) Scan(src any) error {
	return scanJSON(src, m)
}

// CandidateLog is the append-only ICE candidate log, stored as a jsonb array.
type CandidateLog []json.RawMessage

func (l CandidateLog) Value() (driver.Value, error) {
	if l == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(l)
}

func (l *CandidateLog) Scan(src any) error {
	return scanJSON(src, l)
}

func scanJSON(src, dest any) error {
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		return json.Unmarshal(v, dest)
	case string:
		return json.Unmarshal([]byte(v), dest)
	default:
		return fmt.Errorf("cannot scan %T into %T", src, dest)
	}
}
