package rtc

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/procsuite/signaling-server-go/internal/client"
	"github.com/procsuite/signaling-server-go/internal/model"
)

const eventBuffer = 64

// Engine adapts a pion PeerConnection to the negotiation client's media
// port. One Engine serves one negotiation attempt; it cannot be reused
// after Close.
type Engine struct {
	config webrtc.Configuration
	pc     *webrtc.PeerConnection
	events chan client.EngineEvent
}

var _ client.MediaEngine = (*Engine)(nil)

func NewEngine(iceServers []model.IceServer) *Engine {
	cfg := webrtc.Configuration{}
	for _, s := range iceServers {
		cfg.ICEServers = append(cfg.ICEServers, webrtc.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}
	return &Engine{
		config: cfg,
		events: make(chan client.EngineEvent, eventBuffer),
	}
}

// Factory returns an EngineFactory producing one Engine per negotiation.
func Factory(iceServers []model.IceServer) client.EngineFactory {
	return func() (client.MediaEngine, error) {
		return NewEngine(iceServers), nil
	}
}

func (e *Engine) AcquireMedia(ctx context.Context) error {
	pc, err := webrtc.NewPeerConnection(e.config)
	if err != nil {
		return fmt.Errorf("new peer connection: %w", err)
	}
	e.pc = pc

	// A headless peer negotiates bidirectional audio and video transceivers;
	// actual capture is wired in by the application via AddTrack.
	for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo} {
		if _, err := pc.AddTransceiverFromKind(kind); err != nil {
			return fmt.Errorf("add %s transceiver: %w", kind, err)
		}
	}

	pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		payload, err := json.Marshal(cand.ToJSON())
		if err != nil {
			log.Warn().Err(err).Msg("failed to encode local candidate")
			return
		}
		e.emit(client.EngineEvent{Kind: client.EngineCandidate, Candidate: payload})
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		log.Info().
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Msg("remote track")
		e.emit(client.EngineEvent{Kind: client.EngineTrack, TrackID: track.ID()})
	})

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("peer_connection_state", s.String()).Msg("peer state")
		if s == webrtc.PeerConnectionStateFailed {
			e.emit(client.EngineEvent{
				Kind: client.EngineFailed,
				Err:  fmt.Errorf("peer connection entered %s", s),
			})
		}
	})

	return nil
}

func (e *Engine) CreateOffer(ctx context.Context) (string, error) {
	offer, err := e.pc.CreateOffer(nil)
	if err != nil {
		return "", fmt.Errorf("create offer: %w", err)
	}
	if err := e.pc.SetLocalDescription(offer); err != nil {
		return "", fmt.Errorf("set local description: %w", err)
	}
	return offer.SDP, nil
}

func (e *Engine) CreateAnswer(ctx context.Context, offerSDP string) (string, error) {
	remote := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offerSDP}
	if err := e.pc.SetRemoteDescription(remote); err != nil {
		return "", fmt.Errorf("set remote description: %w", err)
	}
	answer, err := e.pc.CreateAnswer(nil)
	if err != nil {
		return "", fmt.Errorf("create answer: %w", err)
	}
	if err := e.pc.SetLocalDescription(answer); err != nil {
		return "", fmt.Errorf("set local description: %w", err)
	}
	return answer.SDP, nil
}

func (e *Engine) ApplyAnswer(ctx context.Context, answerSDP string) error {
	remote := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: answerSDP}
	if err := e.pc.SetRemoteDescription(remote); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	return nil
}

func (e *Engine) AddRemoteCandidate(candidate json.RawMessage) error {
	var init webrtc.ICECandidateInit
	if err := json.Unmarshal(candidate, &init); err != nil {
		return fmt.Errorf("decode candidate: %w", err)
	}
	return e.pc.AddICECandidate(init)
}

func (e *Engine) Events() <-chan client.EngineEvent {
	return e.events
}

func (e *Engine) Close() error {
	if e.pc == nil {
		return nil
	}
	return e.pc.Close()
}

// emit never blocks pion's callback goroutines; if the consumer has fallen
// this far behind the negotiation is already lost.
func (e *Engine) emit(ev client.EngineEvent) {
	select {
	case e.events <- ev:
	default:
		log.Warn().Int("kind", int(ev.Kind)).Msg("engine event dropped")
	}
}
