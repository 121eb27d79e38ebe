package call

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/hari1098/snaptalks/internal/media"
	"github.com/hari1098/snaptalks/internal/signaling"
	"github.com/pion/webrtc/v4"
)

const testRoom = "room-1"

type fakeSender struct {
	mu    sync.Mutex
	track webrtc.TrackLocal
	swaps int
}

func (s *fakeSender) ReplaceTrack(t webrtc.TrackLocal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.track = t
	s.swaps++
	return nil
}

func (s *fakeSender) current() webrtc.TrackLocal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.track
}

type fakePeer struct {
	id string

	mu      sync.Mutex
	log     []string
	applied []string
	senders []*fakeSender
	remote  *webrtc.SessionDescription
	closed  bool

	onCandidate func(webrtc.ICECandidateInit)
	onState     func(webrtc.PeerConnectionState)
}

func (p *fakePeer) record(entry string) {
	p.mu.Lock()
	p.log = append(p.log, entry)
	p.mu.Unlock()
}

func (p *fakePeer) AddTrack(t webrtc.TrackLocal) (Sender, error) {
	p.record("add-track")
	snd := &fakeSender{track: t}
	p.mu.Lock()
	p.senders = append(p.senders, snd)
	p.mu.Unlock()
	return snd, nil
}

func (p *fakePeer) RemoveTrack(s Sender) error {
	p.record("remove-track")
	return nil
}

func (p *fakePeer) CreateOffer(bool) (webrtc.SessionDescription, error) {
	p.record("create-offer")
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "offer-" + p.id}, nil
}

func (p *fakePeer) CreateAnswer() (webrtc.SessionDescription, error) {
	p.record("create-answer")
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer-" + p.id}, nil
}

func (p *fakePeer) SetLocalDescription(webrtc.SessionDescription) error {
	p.record("set-local")
	return nil
}

func (p *fakePeer) SetRemoteDescription(d webrtc.SessionDescription) error {
	if d.SDP == "garbage" {
		return errors.New("unparseable description")
	}
	p.record("set-remote")
	p.mu.Lock()
	p.remote = &d
	p.mu.Unlock()
	return nil
}

func (p *fakePeer) AddICECandidate(c webrtc.ICECandidateInit) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.remote == nil {
		return errors.New("remote description not set")
	}
	p.log = append(p.log, "add-candidate")
	p.applied = append(p.applied, c.Candidate)
	return nil
}

func (p *fakePeer) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	p.mu.Lock()
	p.onCandidate = fn
	p.mu.Unlock()
}

func (p *fakePeer) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) {
	p.mu.Lock()
	p.onState = fn
	p.mu.Unlock()
}

func (p *fakePeer) OnRemoteTrack(func(media.Kind)) {}

func (p *fakePeer) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}

func (p *fakePeer) fireState(s webrtc.PeerConnectionState) {
	p.mu.Lock()
	fn := p.onState
	p.mu.Unlock()
	fn(s)
}

func (p *fakePeer) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *fakePeer) appliedCandidates() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.applied...)
}

func (p *fakePeer) entries() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.log...)
}

type fakePeers struct {
	name  string
	mu    sync.Mutex
	peers []*fakePeer
}

func (f *fakePeers) NewPeerConnection() (PeerConnection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := &fakePeer{id: fmt.Sprintf("%s-%d", f.name, len(f.peers)+1)}
	f.peers = append(f.peers, p)
	return p, nil
}

func (f *fakePeers) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.peers)
}

func (f *fakePeers) last() *fakePeer {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.peers) == 0 {
		return nil
	}
	return f.peers[len(f.peers)-1]
}

type fakeMedia struct {
	// gate, when set, holds Acquire until closed.
	gate       chan struct{}
	ignoreCtx  bool
	failWith   error
	displayErr error

	mu          sync.Mutex
	constraints []media.Constraints
	acquired    []media.TrackSet
	displays    []*media.Track
}

func (m *fakeMedia) Acquire(ctx context.Context, c media.Constraints) (media.TrackSet, error) {
	m.mu.Lock()
	m.constraints = append(m.constraints, c)
	m.mu.Unlock()

	if m.gate != nil {
		if m.ignoreCtx {
			<-m.gate
		} else {
			select {
			case <-m.gate:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	if m.failWith != nil {
		return nil, m.failWith
	}

	var set media.TrackSet
	kinds := []media.Kind{media.KindAudio}
	if c.Video {
		kinds = append(kinds, media.KindVideo)
	}
	for _, k := range kinds {
		t, err := media.NewStaticTrack(string(k), k)
		if err != nil {
			return nil, err
		}
		set = append(set, t)
	}

	m.mu.Lock()
	m.acquired = append(m.acquired, set)
	m.mu.Unlock()
	return set, nil
}

func (m *fakeMedia) AcquireDisplay(context.Context) (*media.Track, error) {
	if m.displayErr != nil {
		return nil, m.displayErr
	}
	t, err := media.NewStaticTrack("screen", media.KindVideo)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.displays = append(m.displays, t)
	m.mu.Unlock()
	return t, nil
}

func (m *fakeMedia) lastConstraints() media.Constraints {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.constraints[len(m.constraints)-1]
}

func (m *fakeMedia) acquiredSets() []media.TrackSet {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]media.TrackSet(nil), m.acquired...)
}

// party is one engine on a shared bus with its collected events.
type party struct {
	e     *Engine
	peers *fakePeers
	media *fakeMedia

	mu   sync.Mutex
	seen []Event
}

type partyOption func(*Config)

func insecure(c *Config) { c.Secure = false }

func newParty(t *testing.T, bus *signaling.Bus, role signaling.Role, m *fakeMedia, opts ...partyOption) *party {
	t.Helper()
	if m == nil {
		m = &fakeMedia{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	sub, err := bus.Subscribe(ctx, testRoom)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	p := &party{peers: &fakePeers{name: string(role)}, media: m}
	cfg := Config{
		RoomID:    testRoom,
		LocalRole: role,
		Signals:   sub,
		Publisher: bus,
		Offers:    bus,
		Media:     m,
		Peers:     p.peers,
		Secure:    true,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	p.e, err = NewEngine(cfg)
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	go p.e.Run(ctx)
	go func() {
		for {
			select {
			case ev := <-p.e.Events():
				p.mu.Lock()
				p.seen = append(p.seen, ev)
				p.mu.Unlock()
			case <-p.e.Done():
				return
			}
		}
	}()

	t.Cleanup(func() {
		cancel()
		<-p.e.Done()
		sub.Close()
	})
	return p
}

func findEvent[T Event](p *party) (T, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, ev := range p.seen {
		if v, ok := ev.(T); ok {
			return v, true
		}
	}
	var zero T
	return zero, false
}

func countEvents[T Event](p *party) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, ev := range p.seen {
		if _, ok := ev.(T); ok {
			n++
		}
	}
	return n
}

func waitEvent[T Event](t *testing.T, p *party) T {
	t.Helper()
	var v T
	eventually(t, fmt.Sprintf("event %T", v), func() bool {
		var ok bool
		v, ok = findEvent[T](p)
		return ok
	})
	return v
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func waitPhase(t *testing.T, p *party, phase Phase) State {
	t.Helper()
	eventually(t, "phase "+phase.String(), func() bool {
		return p.e.State().Phase == phase
	})
	return p.e.State()
}

// recorder collects every signal published in the room.
type recorder struct {
	mu   sync.Mutex
	sigs []signaling.Signal
}

func record(t *testing.T, bus *signaling.Bus) *recorder {
	t.Helper()
	sub, err := bus.Subscribe(context.Background(), testRoom)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	r := &recorder{}
	go func() {
		for sig := range sub.Signals() {
			r.mu.Lock()
			r.sigs = append(r.sigs, *sig)
			r.mu.Unlock()
		}
	}()
	t.Cleanup(func() { sub.Close() })
	return r
}

func (r *recorder) count(kind signaling.Kind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.sigs {
		if s.Kind == kind {
			n++
		}
	}
	return n
}

func publish(t *testing.T, bus *signaling.Bus, from signaling.Role, kind signaling.Kind, payload signaling.Payload) {
	t.Helper()
	err := bus.Publish(context.Background(), &signaling.Signal{
		RoomID: testRoom, SenderRole: from, Kind: kind, Payload: payload,
	})
	if err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
}

func candidate(c string) signaling.Payload {
	return signaling.Payload{Candidate: &signaling.Candidate{Candidate: c}}
}
