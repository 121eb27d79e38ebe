// Package call negotiates a two-party WebRTC call over a room-scoped signal
// transport.
package call

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hari1098/snaptalks/internal/media"
	"github.com/hari1098/snaptalks/internal/signaling"
	"github.com/pion/webrtc/v4"
)

const (
	inboxSize     = 64
	eventsSize    = 256
	publishWait   = 5 * time.Second
	shutdownWait  = time.Second
	lookupTimeout = 10 * time.Second
)

// Config wires an engine to its collaborators.
type Config struct {
	RoomID    string
	LocalRole signaling.Role

	// Signals is this room's subscription. The engine reads it until Run
	// returns but does not close it.
	Signals   signaling.Subscription
	Publisher signaling.Publisher
	Offers    signaling.OfferLookup

	Media media.Source
	Peers PeerFactory

	// Secure must be true before any call can start or be accepted.
	Secure bool

	Logger *slog.Logger
}

// Engine owns at most one live call session for one participant of a room.
// All session mutation happens on the Run goroutine.
type Engine struct {
	cfg Config
	log *slog.Logger

	inbox  chan any
	events chan Event
	done   chan struct{}

	runCtx context.Context
	sess   *Session

	mu        sync.RWMutex
	state     State
	summaries []Summary
}

// Mailbox messages produced off the Run goroutine. Each carries the session
// it belongs to so results for a replaced or ended session are discarded.
type (
	step int

	mediaResult struct {
		s      *Session
		tracks media.TrackSet
		err    error
		next   step
	}
	lookupResult struct {
		s   *Session
		res Resolution
		err error
	}
	displayResult struct {
		s     *Session
		track *media.Track
		err   error
	}
	localCandidate struct {
		s    *Session
		init webrtc.ICECandidateInit
	}
	connState struct {
		s     *Session
		state webrtc.PeerConnectionState
	}
	remoteTrack struct {
		s    *Session
		kind media.Kind
	}
	screenEnded struct {
		s     *Session
		track *media.Track
	}
)

const (
	stepOffer step = iota
	stepAnswer
)

// NewEngine validates cfg and returns an engine ready to Run.
func NewEngine(cfg Config) (*Engine, error) {
	switch {
	case cfg.RoomID == "":
		return nil, errors.New("room ID is required")
	case !cfg.LocalRole.Valid():
		return nil, errors.New("local role must be admin or client")
	case cfg.Signals == nil || cfg.Publisher == nil || cfg.Offers == nil:
		return nil, errors.New("signal transport is required")
	case cfg.Media == nil:
		return nil, errors.New("media source is required")
	case cfg.Peers == nil:
		return nil, errors.New("peer factory is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Engine{
		cfg:    cfg,
		log:    logger.With("room", cfg.RoomID, "role", cfg.LocalRole),
		inbox:  make(chan any, inboxSize),
		events: make(chan Event, eventsSize),
		done:   make(chan struct{}),
		state:  State{ConnectionState: webrtc.PeerConnectionStateNew.String()},
	}, nil
}

// Run processes commands, inbound signals and async results until ctx is
// cancelled. A live session is ended on the way out.
func (e *Engine) Run(ctx context.Context) error {
	defer close(e.done)
	e.runCtx = ctx

	signals := e.cfg.Signals.Signals()
	for {
		select {
		case <-ctx.Done():
			e.shutdown()
			return nil

		case sig, ok := <-signals:
			if !ok {
				e.log.Warn("signal subscription closed")
				signals = nil
				continue
			}
			e.handleSignal(sig)

		case msg := <-e.inbox:
			e.handle(msg)
		}
	}
}

// Dispatch queues cmd for the Run loop. It is a no-op once Run has returned.
func (e *Engine) Dispatch(cmd Command) {
	e.post(cmd)
}

func (e *Engine) StartCall(video bool)  { e.Dispatch(StartCall{Video: video}) }
func (e *Engine) AcceptCall(video bool) { e.Dispatch(AcceptCall{Video: video}) }
func (e *Engine) EndCall()              { e.Dispatch(EndCall{}) }
func (e *Engine) RejectCall()           { e.Dispatch(RejectCall{}) }
func (e *Engine) ToggleAudio()          { e.Dispatch(ToggleAudio{}) }
func (e *Engine) ToggleVideo()          { e.Dispatch(ToggleVideo{}) }
func (e *Engine) ToggleScreenShare()    { e.Dispatch(ToggleScreenShare{}) }

// Events streams engine events. Events are dropped if the reader falls
// more than the buffer behind.
func (e *Engine) Events() <-chan Event {
	return e.events
}

// State returns the latest state snapshot.
func (e *Engine) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// Summaries lists sessions that ended after being engaged, oldest first.
func (e *Engine) Summaries() []Summary {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]Summary(nil), e.summaries...)
}

// Done is closed when Run returns.
func (e *Engine) Done() <-chan struct{} {
	return e.done
}

func (e *Engine) post(msg any) {
	select {
	case e.inbox <- msg:
	case <-e.done:
	}
}

func (e *Engine) emit(ev Event) {
	select {
	case e.events <- ev:
	default:
		e.log.Warn("event dropped, reader is behind", "event", fmt.Sprintf("%T", ev))
	}
}

func (e *Engine) publishState(s *Session) {
	st := s.snapshot()
	e.mu.Lock()
	e.state = st
	e.mu.Unlock()
	e.emit(StateChanged{State: st})
}

func (e *Engine) handle(msg any) {
	switch m := msg.(type) {
	case StartCall:
		e.startCall(m.Video)
	case AcceptCall:
		e.acceptCall(m.Video)
	case EndCall:
		e.endCall()
	case RejectCall:
		e.rejectCall()
	case ToggleAudio:
		e.toggleAudio()
	case ToggleVideo:
		e.toggleVideo()
	case ToggleScreenShare:
		e.toggleScreenShare()

	case mediaResult:
		e.onMedia(m)
	case lookupResult:
		e.onLookup(m)
	case displayResult:
		e.onDisplay(m)
	case localCandidate:
		e.onLocalCandidate(m)
	case connState:
		e.onConnState(m)
	case remoteTrack:
		if m.s == e.sess && m.s.live() {
			e.log.Info("receiving remote media", "session", m.s.id, "kind", m.kind)
		}
	case screenEnded:
		if m.s == e.sess && m.s.live() && m.s.screen == m.track {
			e.stopScreenShare(m.s)
		}
	}
}

// current returns the live session, or nil.
func (e *Engine) current() *Session {
	if e.sess.live() {
		return e.sess
	}
	return nil
}

// session returns the live session, replacing an ended one with a fresh one.
func (e *Engine) session() *Session {
	if s := e.current(); s != nil {
		return s
	}
	e.sess = newSession(e.runCtx)
	e.log.Debug("session created", "session", e.sess.id)
	return e.sess
}

func (e *Engine) stale(s *Session) bool {
	return s != e.sess || !s.live()
}

// Commands

func (e *Engine) startCall(video bool) {
	if !e.cfg.Secure {
		e.emit(Notice{Err: NewError("start call", ErrInsecureContext)})
		return
	}
	s := e.session()
	if s.phase != PhaseIdle || s.started || s.accepting || s.role != RoleUndetermined {
		e.log.Debug("start call ignored", "session", s.id, "phase", s.phase)
		return
	}
	e.beginStart(s, video)
}

func (e *Engine) beginStart(s *Session, video bool) {
	s.started = true
	s.setRole(RoleCaller)
	s.wantsVideo = video
	// Early candidates belong to an offer this side will never answer.
	s.pending = nil
	e.publishState(s)
	e.acquire(s, video, stepOffer)
}

func (e *Engine) acceptCall(video bool) {
	if !e.cfg.Secure {
		e.emit(Notice{Err: NewError("accept call", ErrInsecureContext)})
		return
	}

	if s := e.current(); s != nil && s.phase == PhaseReceiving && s.remoteOffer != nil {
		if s.acquiring || !s.setRole(RoleCallee) {
			return
		}
		s.wantsVideo = s.remoteOffer.Video
		e.publishState(s)
		e.acquire(s, s.remoteOffer.Video, stepAnswer)
		return
	}

	s := e.session()
	if s.phase != PhaseIdle || s.started || s.accepting || s.role != RoleUndetermined {
		e.log.Debug("accept call ignored", "session", s.id, "phase", s.phase)
		return
	}
	s.accepting = true
	s.wantsVideo = video

	go func() {
		ctx, cancel := context.WithTimeout(s.ctx, lookupTimeout)
		defer cancel()
		res, err := ResolveInitialRole(ctx, e.cfg.Offers, e.cfg.RoomID, e.cfg.LocalRole)
		e.post(lookupResult{s: s, res: res, err: err})
	}()
}

func (e *Engine) endCall() {
	s := e.current()
	if s == nil {
		return
	}
	engaged := s.engaged()
	if engaged {
		e.sendBye(s, signaling.KindCallEnd)
	}
	e.teardown(s, ReasonLocalHangup, nil, engaged)
}

func (e *Engine) rejectCall() {
	s := e.current()
	if s == nil {
		return
	}
	engaged := s.engaged()
	if engaged {
		e.sendBye(s, signaling.KindCallReject)
	}
	e.teardown(s, ReasonDeclined, nil, engaged)
}

// Async steps

func (e *Engine) acquire(s *Session, video bool, next step) {
	s.acquiring = true
	go func() {
		tracks, err := e.cfg.Media.Acquire(s.ctx, media.Constraints{Audio: true, Video: video})
		e.post(mediaResult{s: s, tracks: tracks, err: err, next: next})
	}()
}

func (e *Engine) onMedia(r mediaResult) {
	if e.stale(r.s) {
		r.tracks.Stop()
		return
	}
	s := r.s
	s.acquiring = false
	if r.err != nil {
		e.fail(s, WrapError("acquire media", ErrMediaAccess, r.err))
		return
	}

	s.local = r.tracks
	s.mediaKind = mediaKindOf(r.tracks)
	switch r.next {
	case stepOffer:
		e.sendOffer(s)
	case stepAnswer:
		e.sendAnswer(s)
	}
}

func (e *Engine) onLookup(r lookupResult) {
	if e.stale(r.s) {
		return
	}
	s := r.s
	s.accepting = false

	// A live offer that arrived during the lookup wins over the fetched one.
	offer := s.remoteOffer
	if offer == nil {
		if r.err != nil {
			e.fail(s, r.err)
			return
		}
		offer = r.res.Offer
	}

	if offer == nil {
		e.log.Info("no pending offer, calling instead", "session", s.id)
		e.beginStart(s, s.wantsVideo)
		return
	}

	s.remoteOffer = offer
	s.setRole(RoleCallee)
	s.wantsVideo = offer.Video
	e.publishState(s)
	e.acquire(s, offer.Video, stepAnswer)
}

func (e *Engine) sendOffer(s *Session) {
	pc, err := e.ensurePeer(s)
	if err != nil {
		e.fail(s, err)
		return
	}
	if err := e.attachTracks(s); err != nil {
		e.fail(s, err)
		return
	}

	offer, err := pc.CreateOffer(s.wantsVideo)
	if err != nil {
		e.fail(s, WrapError("create offer", ErrNegotiation, err))
		return
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		e.fail(s, WrapError("set local description", ErrNegotiation, err))
		return
	}
	s.hasLocalOffer = true

	if err := e.publish(e.runCtx, signaling.KindOffer, signaling.Payload{SDP: offer.SDP, Video: s.wantsVideo}); err != nil {
		e.fail(s, err)
		return
	}

	s.phase = PhaseRinging
	e.log.Info("offer sent", "session", s.id, "video", s.wantsVideo)
	e.publishState(s)
}

func (e *Engine) sendAnswer(s *Session) {
	pc, err := e.ensurePeer(s)
	if err != nil {
		e.fail(s, err)
		return
	}
	if err := e.attachTracks(s); err != nil {
		e.fail(s, err)
		return
	}

	if !s.remoteSet {
		desc := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: s.remoteOffer.SDP}
		if err := pc.SetRemoteDescription(desc); err != nil {
			e.fail(s, WrapError("set remote offer", ErrNegotiation, err))
			return
		}
		s.remoteSet = true
		e.drainPending(s)
	}

	answer, err := pc.CreateAnswer()
	if err != nil {
		e.fail(s, WrapError("create answer", ErrNegotiation, err))
		return
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		e.fail(s, WrapError("set local description", ErrNegotiation, err))
		return
	}
	if err := e.publish(e.runCtx, signaling.KindAnswer, signaling.Payload{SDP: answer.SDP}); err != nil {
		e.fail(s, err)
		return
	}

	s.remoteOffer = nil
	s.phase = PhaseConnected
	s.connectedAt = time.Now()
	e.log.Info("answer sent", "session", s.id)
	e.publishState(s)
}

// Inbound signals

func (e *Engine) handleSignal(sig *signaling.Signal) {
	if sig == nil {
		return
	}
	if sig.RoomID != e.cfg.RoomID {
		e.log.Debug("dropping signal for another room", "signal_room", sig.RoomID, "kind", sig.Kind)
		return
	}
	if sig.SenderRole == e.cfg.LocalRole {
		e.log.Debug("dropping self-originated signal", "kind", sig.Kind)
		return
	}

	in, err := decodeSignal(sig)
	if err != nil {
		e.log.Warn("dropping malformed signal", "kind", sig.Kind, "error", err)
		return
	}

	switch v := in.(type) {
	case Offer:
		e.onOffer(v)
	case answerSignal:
		e.onAnswer(v)
	case candidateSignal:
		e.onCandidate(v)
	case endSignal:
		e.onBye(ReasonRemoteHangup)
	case rejectSignal:
		e.onBye(ReasonRejectedByPeer)
	}
}

func (e *Engine) onOffer(offer Offer) {
	s := e.current()
	if s != nil {
		switch {
		case s.role == RoleCaller:
			e.log.Info("ignoring offer while calling", "session", s.id)
			return
		case s.phase == PhaseConnected:
			e.log.Warn("ignoring renegotiation offer", "session", s.id)
			return
		case s.remoteSet:
			e.log.Debug("ignoring duplicate offer", "session", s.id)
			return
		}
	}
	s = e.session()

	pc, err := e.ensurePeer(s)
	if err != nil {
		e.fail(s, err)
		return
	}
	desc := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offer.SDP}
	if err := pc.SetRemoteDescription(desc); err != nil {
		e.log.Warn("dropping offer", "session", s.id, "error", WrapError("set remote offer", ErrNegotiation, err))
		if !s.accepting && s.role == RoleUndetermined {
			// Nothing else depends on this connection.
			s.pc.Close()
			s.pc = nil
		}
		return
	}

	s.remoteSet = true
	s.remoteOffer = &offer
	e.drainPending(s)

	if s.accepting || s.role == RoleCallee {
		return
	}
	s.phase = PhaseReceiving
	e.log.Info("incoming call", "session", s.id, "video", offer.Video)
	e.publishState(s)
	e.emit(IncomingCall{Video: offer.Video})
}

func (e *Engine) onAnswer(ans answerSignal) {
	s := e.current()
	if s == nil || s.pc == nil || !s.hasLocalOffer || s.remoteSet {
		e.log.Debug("dropping unexpected answer")
		return
	}

	desc := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: ans.SDP}
	if err := s.pc.SetRemoteDescription(desc); err != nil {
		e.fail(s, WrapError("set remote answer", ErrNegotiation, err))
		return
	}
	s.remoteSet = true
	e.drainPending(s)

	s.phase = PhaseConnected
	s.connectedAt = time.Now()
	e.log.Info("call answered", "session", s.id)
	e.publishState(s)
}

func (e *Engine) onCandidate(c candidateSignal) {
	s := e.current()
	if s == nil {
		// Candidates after an ended session belong to it. Only a room that
		// has never had a session queues them for an offer still to come.
		if e.sess != nil {
			e.log.Debug("dropping candidate, no live session", "session", e.sess.id)
			return
		}
		s = e.session()
	}
	if s.remoteSet && s.pc != nil {
		if err := s.pc.AddICECandidate(c.Init); err != nil {
			e.log.Warn("dropping candidate", "session", s.id, "error", WrapError("add candidate", ErrNegotiation, err))
		}
		return
	}
	s.pending = append(s.pending, c.Init)
}

func (e *Engine) onBye(reason EndReason) {
	s := e.current()
	if s == nil {
		e.log.Debug("no live session to end", "reason", reason)
		return
	}
	// The peer already knows.
	s.byeSent = true
	e.teardown(s, reason, nil, s.engaged())
}

// drainPending applies queued candidates in arrival order, exactly once.
func (e *Engine) drainPending(s *Session) {
	pending := s.pending
	s.pending = nil
	for _, c := range pending {
		if err := s.pc.AddICECandidate(c); err != nil {
			e.log.Warn("dropping queued candidate", "session", s.id, "error", WrapError("add candidate", ErrNegotiation, err))
		}
	}
}

// Peer connection

func (e *Engine) ensurePeer(s *Session) (PeerConnection, error) {
	if s.pc != nil {
		return s.pc, nil
	}
	pc, err := e.cfg.Peers.NewPeerConnection()
	if err != nil {
		return nil, WrapError("create peer connection", ErrNegotiation, err)
	}

	pc.OnICECandidate(func(c webrtc.ICECandidateInit) {
		e.post(localCandidate{s: s, init: c})
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		e.post(connState{s: s, state: state})
	})
	pc.OnRemoteTrack(func(kind media.Kind) {
		e.post(remoteTrack{s: s, kind: kind})
	})

	s.pc = pc
	return pc, nil
}

func (e *Engine) attachTracks(s *Session) error {
	for _, t := range s.local {
		if _, ok := s.senders[t]; ok {
			continue
		}
		snd, err := s.pc.AddTrack(t.Local())
		if err != nil {
			return WrapError("attach "+string(t.Kind)+" track", ErrNegotiation, err)
		}
		s.senders[t] = snd
	}
	return nil
}

func (e *Engine) onLocalCandidate(m localCandidate) {
	if e.stale(m.s) {
		return
	}
	payload := signaling.Payload{Candidate: candidateToWire(m.init)}
	if err := e.publish(e.runCtx, signaling.KindICECandidate, payload); err != nil {
		e.log.Warn("candidate not sent", "session", m.s.id, "error", err)
	}
}

func (e *Engine) onConnState(m connState) {
	if e.stale(m.s) {
		return
	}
	s := m.s
	s.connState = m.state.String()
	e.log.Debug("connection state", "session", s.id, "state", s.connState)

	if m.state == webrtc.PeerConnectionStateFailed {
		e.teardown(s, ReasonConnectionFailed, NewError("peer connection", ErrConnectionFailure), true)
		return
	}
	e.publishState(s)
}

// Teardown

func (e *Engine) publish(ctx context.Context, kind signaling.Kind, payload signaling.Payload) error {
	ctx, cancel := context.WithTimeout(ctx, publishWait)
	defer cancel()

	err := e.cfg.Publisher.Publish(ctx, &signaling.Signal{
		RoomID:     e.cfg.RoomID,
		SenderRole: e.cfg.LocalRole,
		Kind:       kind,
		Payload:    payload,
	})
	if err != nil {
		return WrapError("publish "+string(kind), ErrSignaling, err)
	}
	return nil
}

// sendBye sends call-end or call-reject at most once per session.
func (e *Engine) sendBye(s *Session, kind signaling.Kind) {
	if s.byeSent {
		return
	}
	s.byeSent = true

	ctx := e.runCtx
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.WithoutCancel(ctx), shutdownWait)
		defer cancel()
	}
	if err := e.publish(ctx, kind, signaling.Payload{}); err != nil {
		e.log.Warn("bye not sent", "session", s.id, "kind", kind, "error", err)
	}
}

// fail ends s after an unrecoverable error.
func (e *Engine) fail(s *Session, err error) {
	if !s.live() {
		return
	}
	e.log.Warn("call failed", "session", s.id, "error", err)
	if s.negotiated() || s.remoteOffer != nil {
		e.sendBye(s, signaling.KindCallEnd)
	}
	e.teardown(s, ReasonFailed, err, true)
}

// teardown releases everything s owns and moves it to ended. Later calls are
// no-ops. When notify is set the end is reported and recorded.
func (e *Engine) teardown(s *Session, reason EndReason, cause error, notify bool) {
	if !s.live() {
		return
	}
	summary := s.summary(reason, cause)

	s.phase = PhaseEnded
	s.cancel()
	if s.screen != nil {
		s.screen.Stop()
	}
	if s.original != nil {
		s.original.Stop()
	}
	s.local.Stop()
	if s.pc != nil {
		if err := s.pc.Close(); err != nil {
			e.log.Debug("close peer connection", "session", s.id, "error", err)
		}
	}
	s.local = nil
	s.senders = map[*media.Track]Sender{}
	s.screen, s.original = nil, nil
	s.screenPending = false
	s.pending = nil
	s.remoteOffer = nil
	s.connState = webrtc.PeerConnectionStateClosed.String()

	e.log.Info("call ended", "session", s.id, "reason", reason)
	e.publishState(s)
	if !notify {
		return
	}

	e.mu.Lock()
	e.summaries = append(e.summaries, summary)
	e.mu.Unlock()

	if reason == ReasonRejectedByPeer {
		e.emit(CallRejected{Summary: summary})
		return
	}
	e.emit(CallEnded{Reason: reason, Err: cause, Summary: summary})
}

func (e *Engine) shutdown() {
	s := e.current()
	if s == nil {
		return
	}
	engaged := s.engaged()
	if engaged && s.negotiated() {
		e.sendBye(s, signaling.KindCallEnd)
	}
	e.teardown(s, ReasonShutdown, nil, engaged)
}
