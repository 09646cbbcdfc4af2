package client

import (
	"context"
	"encoding/json"
)

// EngineEventKind enumerates what the media engine can report back.
type EngineEventKind int

const (
	// EngineCandidate: a local connectivity candidate was discovered.
	EngineCandidate EngineEventKind = iota
	// EngineTrack: a remote media track arrived.
	EngineTrack
	// EngineFailed: the underlying transport failed unrecoverably.
	EngineFailed
)

// EngineEvent is a message from the media engine, consumed by the
// negotiation control loop. Candidate payloads are opaque here.
type EngineEvent struct {
	Kind      EngineEventKind
	Candidate json.RawMessage
	TrackID   string
	Err       error
}

// MediaEngine is the port to the actual WebRTC implementation. The
// negotiation client never interprets SDP or candidate contents; it only
// moves them between the engine and the signaling server.
type MediaEngine interface {
	// AcquireMedia prepares local capture/transport. Failures here mean the
	// device or permission layer said no; no session should be created.
	AcquireMedia(ctx context.Context) error
	// CreateOffer builds the local session description.
	CreateOffer(ctx context.Context) (offerSDP string, err error)
	// CreateAnswer consumes a remote offer and builds the local answer.
	CreateAnswer(ctx context.Context, offerSDP string) (answerSDP string, err error)
	// ApplyAnswer applies the remote answer. Called at most once per session.
	ApplyAnswer(ctx context.Context, answerSDP string) error
	// AddRemoteCandidate feeds a remote connectivity candidate.
	AddRemoteCandidate(candidate json.RawMessage) error
	// Events delivers candidates and transport signals as they happen.
	Events() <-chan EngineEvent
	// Close releases media and transport resources.
	Close() error
}

// EngineFactory builds a fresh engine per negotiation attempt; a peer
// connection cannot be restarted once closed.
type EngineFactory func() (MediaEngine, error)
