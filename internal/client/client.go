package client

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	apperrors "github.com/procsuite/signaling-server-go/internal/errors"
	"github.com/procsuite/signaling-server-go/internal/model"
)

// State of the negotiation lifecycle. Status moves forward only; error is
// terminal and reachable from any non-terminal state.
type State string

const (
	StateIdle            State = "idle"
	StateRequestingMedia State = "requesting-media"
	StateCreatingOffer   State = "creating-offer"
	StateCreatingAnswer  State = "creating-answer"
	StateWaitingAnswer   State = "waiting-answer"
	StateAnswered        State = "answered"
	StateClosed          State = "closed"
	StateError           State = "error"
)

const (
	// DefaultPollInterval is how often a peer re-reads the session.
	DefaultPollInterval = 2500 * time.Millisecond
	// defaultMaxPollFailures bounds transparent retry of transient poll errors.
	defaultMaxPollFailures = 5

	closeRequestTimeout = 3 * time.Second
)

// candidateEnvelope tags a candidate with the submitting peer so each side
// can skip its own entries when reading the shared log. The inner payload
// stays opaque.
type candidateEnvelope struct {
	Peer      string          `json:"peer"`
	Candidate json.RawMessage `json:"candidate"`
}

// NegotiationClient drives one side of a signaling exchange. All lifecycle
// state is owned by a single control loop goroutine; the exported surface
// only reads snapshots and posts cancellation.
type NegotiationClient struct {
	api             *APIClient
	newEngine       EngineFactory
	peerID          string
	metadata        map[string]any
	pollInterval    time.Duration
	maxPollFailures int
	onState         func(State)

	mu      sync.Mutex
	state   State
	cause   error
	session *model.Session
	engine  MediaEngine
	cancel  context.CancelFunc
	done    chan struct{}
}

type Option func(*NegotiationClient)

func WithPollInterval(d time.Duration) Option {
	return func(c *NegotiationClient) { c.pollInterval = d }
}

func WithMetadata(metadata map[string]any) Option {
	return func(c *NegotiationClient) { c.metadata = metadata }
}

func WithMaxPollFailures(n int) Option {
	return func(c *NegotiationClient) { c.maxPollFailures = n }
}

// WithStateListener registers a callback invoked on every state change,
// from the control loop goroutine.
func WithStateListener(fn func(State)) Option {
	return func(c *NegotiationClient) { c.onState = fn }
}

func New(api *APIClient, newEngine EngineFactory, peerID string, opts ...Option) *NegotiationClient {
	c := &NegotiationClient{
		api:             api,
		newEngine:       newEngine,
		peerID:          peerID,
		pollInterval:    DefaultPollInterval,
		maxPollFailures: defaultMaxPollFailures,
		state:           StateIdle,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start begins the initiator flow: acquire media, create the offer, register
// the session, then poll for the answer. Start calls while not idle are
// rejected so two sequences cannot run on one instance.
func (c *NegotiationClient) Start(ctx context.Context) error {
	runCtx, err := c.begin(ctx)
	if err != nil {
		return err
	}
	go c.runInitiator(runCtx)
	return nil
}

// Respond runs the answering flow against an existing session: fetch the
// offer, produce and submit the answer, then keep exchanging candidates.
func (c *NegotiationClient) Respond(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return apperrors.MissingRequired("session id")
	}
	runCtx, err := c.begin(ctx)
	if err != nil {
		return err
	}
	go c.runResponder(runCtx, sessionID)
	return nil
}

func (c *NegotiationClient) begin(ctx context.Context) (context.Context, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateIdle {
		return nil, apperrors.Conflict("negotiation already in progress")
	}
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	c.state = StateRequestingMedia
	c.notify(StateRequestingMedia)
	return runCtx, nil
}

// Close stops polling, abandons any in-flight call, tells the server the
// session is over and releases media. Safe to call in any state.
func (c *NegotiationClient) Close() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}

	// The loop tears down on cancellation; this path covers a client that
	// stopped in the error state (media deliberately kept alive) or never ran.
	c.mu.Lock()
	engine := c.engine
	alreadyClosed := c.state == StateClosed
	if !alreadyClosed {
		c.state = StateClosed
		c.engine = nil
	}
	c.mu.Unlock()

	if !alreadyClosed {
		if engine != nil {
			if err := engine.Close(); err != nil {
				log.Warn().Err(err).Msg("media engine close failed")
			}
		}
		c.notify(StateClosed)
	}
}

// Reset returns the client to idle so a fresh Start may run. A new media
// engine is built on the next attempt.
func (c *NegotiationClient) Reset() {
	c.Close()
	c.mu.Lock()
	c.state = StateIdle
	c.cause = nil
	c.session = nil
	c.cancel = nil
	c.done = nil
	c.mu.Unlock()
	c.notify(StateIdle)
}

func (c *NegotiationClient) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Err returns the cause once the client is in the error state.
func (c *NegotiationClient) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cause
}

// Session returns a snapshot of the last session state seen, if any.
func (c *NegotiationClient) Session() *model.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil
	}
	return c.session.Clone()
}

func (c *NegotiationClient) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return ""
	}
	return c.session.ID
}

type createResult struct {
	session *model.Session
	err     error
}

func (c *NegotiationClient) runInitiator(ctx context.Context) {
	defer c.finishRun()

	engine, ok := c.acquireEngine(ctx)
	if !ok {
		return
	}

	c.setState(StateCreatingOffer)
	offer, err := engine.CreateOffer(ctx)
	if err != nil {
		c.fail(apperrors.Wrap(apperrors.ErrCodeInternal, "Failed to create offer", err))
		return
	}

	// Session registration runs concurrently with candidate discovery: the
	// engine may start trickling before the session id exists, and those
	// candidates are buffered by the loop until it does.
	createCh := make(chan createResult, 1)
	go func() {
		session, err := c.api.CreateSession(ctx, model.CreateSessionParams{
			ClientID: c.peerID,
			OfferSDP: offer,
			Metadata: c.metadata,
		})
		createCh <- createResult{session: session, err: err}
	}()

	c.loop(ctx, &loopState{
		engine:   engine,
		createCh: createCh,
	})
}

func (c *NegotiationClient) runResponder(ctx context.Context, sessionID string) {
	defer c.finishRun()

	engine, ok := c.acquireEngine(ctx)
	if !ok {
		return
	}

	session, err := c.api.GetSession(ctx, sessionID)
	if err != nil {
		if ctx.Err() != nil {
			c.teardown(sessionID, engine)
			return
		}
		c.fail(err)
		return
	}

	c.setState(StateCreatingAnswer)
	answer, err := engine.CreateAnswer(ctx, session.OfferSDP)
	if err != nil {
		c.fail(apperrors.Wrap(apperrors.ErrCodeInternal, "Failed to create answer", err))
		return
	}

	updated, err := c.api.SubmitAnswer(ctx, sessionID, model.SubmitAnswerParams{
		ResponderID:       c.peerID,
		AnswerSDP:         answer,
		ResponderMetadata: c.metadata,
	})
	if err != nil {
		if ctx.Err() != nil {
			c.teardown(sessionID, engine)
			return
		}
		c.fail(err)
		return
	}

	c.setSession(updated)
	c.setState(StateAnswered)

	ls := &loopState{
		engine:        engine,
		sessionID:     sessionID,
		hasRemoteDesc: true,
		answerApplied: true,
	}
	c.feedRemoteCandidates(ls, updated)
	c.loop(ctx, ls)
}

func (c *NegotiationClient) acquireEngine(ctx context.Context) (MediaEngine, bool) {
	engine, err := c.newEngine()
	if err != nil {
		c.fail(apperrors.MediaDenied(err))
		return nil, false
	}
	c.mu.Lock()
	c.engine = engine
	c.mu.Unlock()

	if err := engine.AcquireMedia(ctx); err != nil {
		if ctx.Err() != nil {
			c.teardown("", engine)
			return nil, false
		}
		c.fail(apperrors.MediaDenied(err))
		return nil, false
	}
	return engine, true
}

// loopState is the session context the control loop owns exclusively: the
// pre-session candidate buffer, the answer-applied flag and the log cursor
// live here, never shared across goroutines.
type loopState struct {
	engine        MediaEngine
	sessionID     string
	createCh      chan createResult
	buffered      []json.RawMessage
	hasRemoteDesc bool
	answerApplied bool
	processed     int
	pollFailures  int
}

func (c *NegotiationClient) loop(ctx context.Context, ls *loopState) {
	var pollTimer *time.Timer
	var pollC <-chan time.Time
	startPolling := func() {
		pollTimer = time.NewTimer(c.pollInterval)
		pollC = pollTimer.C
	}
	if ls.sessionID != "" {
		startPolling()
	}
	defer func() {
		if pollTimer != nil {
			pollTimer.Stop()
		}
	}()

	events := ls.engine.Events()

	for {
		select {
		case <-ctx.Done():
			c.teardown(ls.sessionID, ls.engine)
			return

		case res := <-ls.createCh:
			if ctx.Err() != nil {
				// Reset/close raced session creation; drop the result so a
				// dead negotiation cannot resurrect. Teardown happens on the
				// ctx.Done branch.
				continue
			}
			if res.err != nil {
				c.fail(res.err)
				return
			}
			ls.sessionID = res.session.ID
			ls.createCh = nil
			c.setSession(res.session)
			c.setState(StateWaitingAnswer)

			// Flush candidates discovered before the session id was known,
			// oldest first.
			for _, payload := range ls.buffered {
				c.submitCandidate(ctx, ls.sessionID, payload)
			}
			ls.buffered = nil
			startPolling()

		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			switch ev.Kind {
			case EngineCandidate:
				payload, err := json.Marshal(candidateEnvelope{
					Peer:      c.peerID,
					Candidate: ev.Candidate,
				})
				if err != nil {
					log.Warn().Err(err).Msg("failed to encode candidate")
					continue
				}
				if ls.sessionID == "" {
					ls.buffered = append(ls.buffered, payload)
				} else {
					c.submitCandidate(ctx, ls.sessionID, payload)
				}
			case EngineTrack:
				log.Info().Str("track_id", ev.TrackID).Str("peer_id", c.peerID).Msg("remote track received")
			case EngineFailed:
				c.fail(apperrors.Wrap(apperrors.ErrCodeInternal, "Media transport failed", ev.Err))
				return
			}

		case <-pollC:
			session, err := c.api.GetSession(ctx, ls.sessionID)
			if ctx.Err() != nil {
				// Stale response after cancellation; ignored.
				continue
			}
			if err != nil {
				if !c.handlePollError(ls, err) {
					return
				}
			} else {
				ls.pollFailures = 0
				if !c.handleSessionUpdate(ctx, ls, session) {
					return
				}
			}
			pollTimer.Reset(c.pollInterval)
		}
	}
}

// handlePollError retries transient transport failures up to the limit and
// treats everything server-side as terminal. Returns false to stop the loop.
func (c *NegotiationClient) handlePollError(ls *loopState, err error) bool {
	switch apperrors.GetCode(err) {
	case apperrors.ErrCodeNetworkFailure, apperrors.ErrCodeTimeout:
		ls.pollFailures++
		log.Warn().Err(err).
			Str("session_id", ls.sessionID).
			Int("consecutive_failures", ls.pollFailures).
			Msg("poll failed")
		if ls.pollFailures < c.maxPollFailures {
			return true
		}
		c.fail(err)
		return false
	default:
		c.fail(err)
		return false
	}
}

// handleSessionUpdate applies one polled snapshot: remote closure wins, the
// answer is applied exactly once, then new remote candidates are fed through.
// Returns false to stop the loop.
func (c *NegotiationClient) handleSessionUpdate(ctx context.Context, ls *loopState, session *model.Session) bool {
	c.setSession(session)

	if session.Status == model.StatusClosed {
		c.releaseEngine(ls.engine)
		c.setState(StateClosed)
		return false
	}

	if session.AnswerSDP != nil && !ls.answerApplied {
		if err := ls.engine.ApplyAnswer(ctx, *session.AnswerSDP); err != nil {
			c.fail(apperrors.Wrap(apperrors.ErrCodeInternal, "Failed to apply answer", err))
			return false
		}
		ls.answerApplied = true
		ls.hasRemoteDesc = true
		c.setState(StateAnswered)
	}

	c.feedRemoteCandidates(ls, session)
	return true
}

// feedRemoteCandidates advances the log cursor, skipping this peer's own
// entries. Held back until a remote description exists because the engine
// cannot use candidates before then.
func (c *NegotiationClient) feedRemoteCandidates(ls *loopState, session *model.Session) {
	if !ls.hasRemoteDesc {
		return
	}
	for ls.processed < len(session.IceCandidates) {
		raw := session.IceCandidates[ls.processed]
		ls.processed++

		var env candidateEnvelope
		if err := json.Unmarshal(raw, &env); err != nil {
			log.Warn().Err(err).Str("session_id", session.ID).Msg("unreadable candidate entry")
			continue
		}
		if env.Peer == c.peerID {
			continue
		}
		if err := ls.engine.AddRemoteCandidate(env.Candidate); err != nil {
			log.Warn().Err(err).Str("session_id", session.ID).Msg("engine rejected remote candidate")
		}
	}
}

func (c *NegotiationClient) submitCandidate(ctx context.Context, sessionID string, payload json.RawMessage) {
	if _, err := c.api.SubmitCandidate(ctx, sessionID, payload); err != nil && ctx.Err() == nil {
		log.Warn().Err(err).Str("session_id", sessionID).Msg("failed to submit candidate")
	}
}

// teardown runs on explicit close/reset: best-effort server close on a fresh
// context, then release media.
func (c *NegotiationClient) teardown(sessionID string, engine MediaEngine) {
	if sessionID != "" {
		closeCtx, cancel := context.WithTimeout(context.Background(), closeRequestTimeout)
		if _, err := c.api.CloseSession(closeCtx, sessionID); err != nil {
			log.Warn().Err(err).Str("session_id", sessionID).Msg("server-side close failed")
		}
		cancel()
	}
	c.releaseEngine(engine)
	c.setState(StateClosed)
}

func (c *NegotiationClient) releaseEngine(engine MediaEngine) {
	c.mu.Lock()
	c.engine = nil
	c.mu.Unlock()
	if engine != nil {
		if err := engine.Close(); err != nil {
			log.Warn().Err(err).Msg("media engine close failed")
		}
	}
}

// fail marks the terminal error state. Media is deliberately left alive so
// the caller can decide between Reset and prompting for new permissions.
func (c *NegotiationClient) fail(err error) {
	c.mu.Lock()
	c.state = StateError
	c.cause = err
	c.mu.Unlock()
	log.Error().Err(err).Str("peer_id", c.peerID).Msg("negotiation failed")
	c.notify(StateError)
}

func (c *NegotiationClient) finishRun() {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()
	if done != nil {
		close(done)
	}
}

func (c *NegotiationClient) setState(state State) {
	c.mu.Lock()
	c.state = state
	c.mu.Unlock()
	c.notify(state)
}

func (c *NegotiationClient) setSession(session *model.Session) {
	c.mu.Lock()
	c.session = session
	c.mu.Unlock()
}

func (c *NegotiationClient) notify(state State) {
	if c.onState != nil {
		c.onState(state)
	}
}
