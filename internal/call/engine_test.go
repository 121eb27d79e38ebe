package call

import (
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/hari1098/snaptalks/internal/media"
	"github.com/hari1098/snaptalks/internal/signaling"
	"github.com/pion/webrtc/v4"
)

func TestNewEngineValidation(t *testing.T) {
	bus := signaling.NewBus()
	sub, _ := bus.Subscribe(t.Context(), testRoom)
	valid := Config{
		RoomID: testRoom, LocalRole: signaling.RoleAdmin, Signals: sub,
		Publisher: bus, Offers: bus, Media: &fakeMedia{}, Peers: &fakePeers{},
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing room", func(c *Config) { c.RoomID = "" }},
		{"bad role", func(c *Config) { c.LocalRole = "guest" }},
		{"missing subscription", func(c *Config) { c.Signals = nil }},
		{"missing media", func(c *Config) { c.Media = nil }},
		{"missing peers", func(c *Config) { c.Peers = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			if _, err := NewEngine(cfg); err == nil {
				t.Fatal("expected error")
			}
		})
	}

	if _, err := NewEngine(valid); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
}

func TestHappyPathLiveOffer(t *testing.T) {
	bus := signaling.NewBus()
	a := newParty(t, bus, signaling.RoleAdmin, nil)
	b := newParty(t, bus, signaling.RoleClient, nil)

	a.e.StartCall(true)
	incoming := waitEvent[IncomingCall](t, b)
	if !incoming.Video {
		t.Fatal("incoming call lost the video intent")
	}
	if st := waitPhase(t, b, PhaseReceiving); st.Role != RoleUndetermined {
		t.Fatalf("role before accepting = %v", st.Role)
	}

	b.e.AcceptCall(false)

	sb := waitPhase(t, b, PhaseConnected)
	sa := waitPhase(t, a, PhaseConnected)
	if sa.Role != RoleCaller || sb.Role != RoleCallee {
		t.Fatalf("roles = %v / %v, want caller / callee", sa.Role, sb.Role)
	}
	if !b.media.lastConstraints().Video {
		t.Fatal("callee did not follow the caller's video plan")
	}
	if sb.LocalMediaKind != MediaAudioVideo {
		t.Fatalf("callee media = %v", sb.LocalMediaKind)
	}
}

func TestHappyPathLookup(t *testing.T) {
	bus := signaling.NewBus()
	a := newParty(t, bus, signaling.RoleAdmin, nil)

	a.e.StartCall(true)
	waitPhase(t, a, PhaseRinging)

	// b joins after the offer was sent, so it only finds it by lookup.
	b := newParty(t, bus, signaling.RoleClient, nil)
	b.e.AcceptCall(false)

	sb := waitPhase(t, b, PhaseConnected)
	sa := waitPhase(t, a, PhaseConnected)
	if sa.Role != RoleCaller || sb.Role != RoleCallee {
		t.Fatalf("roles = %v / %v, want caller / callee", sa.Role, sb.Role)
	}
	if !b.media.lastConstraints().Video {
		t.Fatal("callee did not follow the caller's video plan")
	}
	if _, ok := findEvent[IncomingCall](b); ok {
		t.Fatal("accepting party was prompted")
	}
}

func TestAcceptWithoutOfferBecomesCaller(t *testing.T) {
	bus := signaling.NewBus()
	a := newParty(t, bus, signaling.RoleAdmin, nil)
	rec := record(t, bus)

	a.e.AcceptCall(false)

	st := waitPhase(t, a, PhaseRinging)
	if st.Role != RoleCaller {
		t.Fatalf("role = %v, want caller", st.Role)
	}
	eventually(t, "offer published", func() bool { return rec.count(signaling.KindOffer) == 1 })
}

func TestDoubleAcceptRaceIsRecoverable(t *testing.T) {
	bus := signaling.NewBus()
	gateA, gateB := make(chan struct{}), make(chan struct{})
	a := newParty(t, bus, signaling.RoleAdmin, &fakeMedia{gate: gateA})
	b := newParty(t, bus, signaling.RoleClient, &fakeMedia{gate: gateB})

	a.e.AcceptCall(true)
	b.e.AcceptCall(true)
	eventually(t, "both resolved as caller", func() bool {
		return a.e.State().Role == RoleCaller && b.e.State().Role == RoleCaller
	})
	close(gateA)
	close(gateB)

	waitPhase(t, a, PhaseRinging)
	waitPhase(t, b, PhaseRinging)
	time.Sleep(50 * time.Millisecond)
	if a.e.State().Phase != PhaseRinging || b.e.State().Phase != PhaseRinging {
		t.Fatalf("phases = %v / %v, want both ringing", a.e.State().Phase, b.e.State().Phase)
	}

	a.e.EndCall()
	waitPhase(t, a, PhaseEnded)
	ended := waitEvent[CallEnded](t, b)
	if ended.Reason != ReasonRemoteHangup {
		t.Fatalf("b end reason = %v", ended.Reason)
	}

	a.e.AcceptCall(true)
	waitEvent[IncomingCall](t, b)
	b.e.AcceptCall(true)

	sa := waitPhase(t, a, PhaseConnected)
	sb := waitPhase(t, b, PhaseConnected)
	if sa.Role != RoleCaller || sb.Role != RoleCallee {
		t.Fatalf("roles after retry = %v / %v", sa.Role, sb.Role)
	}
}

func TestRejectReleasesBothSides(t *testing.T) {
	bus := signaling.NewBus()
	a := newParty(t, bus, signaling.RoleAdmin, nil)
	b := newParty(t, bus, signaling.RoleClient, nil)

	a.e.StartCall(true)
	waitEvent[IncomingCall](t, b)
	b.e.RejectCall()

	waitEvent[CallRejected](t, a)
	sa := waitPhase(t, a, PhaseEnded)
	if len(sa.LocalTracks) != 0 {
		t.Fatalf("caller still previews %d tracks", len(sa.LocalTracks))
	}
	for _, tr := range a.media.acquiredSets()[0] {
		if !tr.Stopped() {
			t.Fatalf("caller track %s not stopped", tr.ID)
		}
	}
	if !a.peers.last().isClosed() {
		t.Fatal("caller connection left open")
	}

	waitPhase(t, b, PhaseEnded)
	if !b.peers.last().isClosed() {
		t.Fatal("callee connection left open")
	}
	if got := waitEvent[CallEnded](t, b); got.Reason != ReasonDeclined {
		t.Fatalf("callee end reason = %v", got.Reason)
	}
}

func connectedPair(t *testing.T, bus *signaling.Bus, video bool) (*party, *party) {
	t.Helper()
	a := newParty(t, bus, signaling.RoleAdmin, nil)
	b := newParty(t, bus, signaling.RoleClient, nil)
	a.e.StartCall(video)
	waitEvent[IncomingCall](t, b)
	b.e.AcceptCall(video)
	waitPhase(t, a, PhaseConnected)
	waitPhase(t, b, PhaseConnected)
	return a, b
}

func TestScreenShareRoundTrip(t *testing.T) {
	bus := signaling.NewBus()
	a, _ := connectedPair(t, bus, true)
	rec := record(t, bus)

	before := a.e.State().LocalTracks
	camera := before.Video()[0]

	a.e.ToggleScreenShare()
	eventually(t, "screen sharing", func() bool { return a.e.State().ScreenSharing })

	during := a.e.State().LocalTracks
	if len(during) != len(before) {
		t.Fatalf("preview length %d -> %d", len(before), len(during))
	}
	screen := during.Video()[0]
	if screen.ID != "screen" {
		t.Fatalf("previewed video = %s, want screen", screen.ID)
	}
	sender := a.peers.last().senders[1]
	if sender.current() != screen.Local() {
		t.Fatal("outgoing video was not replaced")
	}

	a.e.ToggleScreenShare()
	eventually(t, "screen share stopped", func() bool { return !a.e.State().ScreenSharing })

	after := a.e.State().LocalTracks
	if len(after) != len(before) || after.Video()[0] != camera {
		t.Fatal("camera track not restored")
	}
	if sender.current() != camera.Local() {
		t.Fatal("outgoing video still the screen")
	}
	if !screen.Stopped() {
		t.Fatal("screen track not stopped")
	}
	if camera.Stopped() {
		t.Fatal("camera stopped by screen share")
	}

	time.Sleep(20 * time.Millisecond)
	if n := rec.count(signaling.KindOffer) + rec.count(signaling.KindAnswer); n != 0 {
		t.Fatalf("screen share renegotiated: %d descriptions sent", n)
	}
}

func TestScreenShareEndedByCapture(t *testing.T) {
	bus := signaling.NewBus()
	a, _ := connectedPair(t, bus, true)

	a.e.ToggleScreenShare()
	eventually(t, "screen sharing", func() bool { return a.e.State().ScreenSharing })

	screen := a.media.displays[0]
	screen.End()
	eventually(t, "screen share stopped", func() bool { return !a.e.State().ScreenSharing })
	if !screen.Stopped() {
		t.Fatal("ended screen track not released")
	}
}

func TestScreenShareAudioOnlyAddsSender(t *testing.T) {
	bus := signaling.NewBus()
	a, _ := connectedPair(t, bus, false)

	a.e.ToggleScreenShare()
	eventually(t, "screen sharing", func() bool { return a.e.State().ScreenSharing })
	if n := len(a.e.State().LocalTracks); n != 2 {
		t.Fatalf("preview has %d tracks, want 2", n)
	}

	a.e.ToggleScreenShare()
	eventually(t, "screen share stopped", func() bool { return !a.e.State().ScreenSharing })
	if n := len(a.e.State().LocalTracks); n != 1 {
		t.Fatalf("preview has %d tracks, want 1", n)
	}
	if !slices.Contains(a.peers.last().entries(), "remove-track") {
		t.Fatal("screen sender not removed")
	}
}

func TestScreenShareFailureLeavesStateUnchanged(t *testing.T) {
	bus := signaling.NewBus()
	a := newParty(t, bus, signaling.RoleAdmin, &fakeMedia{displayErr: media.ErrDisplayUnavailable})
	b := newParty(t, bus, signaling.RoleClient, nil)
	a.e.StartCall(true)
	waitEvent[IncomingCall](t, b)
	b.e.AcceptCall(true)
	waitPhase(t, a, PhaseConnected)

	a.e.ToggleScreenShare()
	notice := waitEvent[Notice](t, a)
	if !errors.Is(notice.Err, ErrScreenShareUnavailable) {
		t.Fatalf("notice = %v", notice.Err)
	}
	st := a.e.State()
	if st.ScreenSharing || st.Phase != PhaseConnected {
		t.Fatalf("state after failed share = %+v", st)
	}
}

func TestCandidatesQueuedUntilRemoteDescription(t *testing.T) {
	bus := signaling.NewBus()
	b := newParty(t, bus, signaling.RoleClient, nil)

	for _, c := range []string{"c1", "c2", "c3"} {
		publish(t, bus, signaling.RoleAdmin, signaling.KindICECandidate, candidate(c))
	}
	publish(t, bus, signaling.RoleAdmin, signaling.KindOffer, signaling.Payload{SDP: "remote-offer"})
	waitPhase(t, b, PhaseReceiving)

	peer := b.peers.last()
	if got := peer.appliedCandidates(); !slices.Equal(got, []string{"c1", "c2", "c3"}) {
		t.Fatalf("applied = %v", got)
	}
	log := peer.entries()
	if i := slices.Index(log, "set-remote"); i < 0 || i > slices.Index(log, "add-candidate") {
		t.Fatalf("candidates applied before remote description: %v", log)
	}

	publish(t, bus, signaling.RoleAdmin, signaling.KindICECandidate, candidate("c4"))
	eventually(t, "late candidate", func() bool { return len(peer.appliedCandidates()) == 4 })
	if got := peer.appliedCandidates(); got[3] != "c4" {
		t.Fatalf("applied = %v", got)
	}
}

func TestCandidatesQueuedUntilAnswer(t *testing.T) {
	bus := signaling.NewBus()
	a := newParty(t, bus, signaling.RoleAdmin, nil)

	a.e.StartCall(false)
	waitPhase(t, a, PhaseRinging)

	publish(t, bus, signaling.RoleClient, signaling.KindICECandidate, candidate("x1"))
	publish(t, bus, signaling.RoleClient, signaling.KindICECandidate, candidate("x2"))
	publish(t, bus, signaling.RoleClient, signaling.KindAnswer, signaling.Payload{SDP: "remote-answer"})
	waitPhase(t, a, PhaseConnected)

	if got := a.peers.last().appliedCandidates(); !slices.Equal(got, []string{"x1", "x2"}) {
		t.Fatalf("applied = %v", got)
	}
}

func TestEndCallIsIdempotent(t *testing.T) {
	bus := signaling.NewBus()
	a, b := connectedPair(t, bus, true)
	rec := record(t, bus)

	a.e.EndCall()
	a.e.EndCall()
	a.e.EndCall()
	waitPhase(t, a, PhaseEnded)
	waitPhase(t, b, PhaseEnded)
	time.Sleep(20 * time.Millisecond)

	if n := rec.count(signaling.KindCallEnd); n != 1 {
		t.Fatalf("call-end sent %d times", n)
	}
	if n := countEvents[CallEnded](a); n != 1 {
		t.Fatalf("CallEnded emitted %d times", n)
	}
	if n := len(a.e.Summaries()); n != 1 {
		t.Fatalf("summaries = %d", n)
	}
	if s := a.e.Summaries()[0]; s.Reason != ReasonLocalHangup || s.Role != RoleCaller || s.ConnectedAt.IsZero() {
		t.Fatalf("summary = %+v", s)
	}
}

func TestRoleIsNeverReassigned(t *testing.T) {
	bus := signaling.NewBus()
	a := newParty(t, bus, signaling.RoleAdmin, nil)

	a.e.StartCall(true)
	waitPhase(t, a, PhaseRinging)

	publish(t, bus, signaling.RoleClient, signaling.KindOffer, signaling.Payload{SDP: "competing-offer", Video: true})
	a.e.AcceptCall(true)
	time.Sleep(30 * time.Millisecond)

	st := a.e.State()
	if st.Role != RoleCaller || st.Phase != PhaseRinging {
		t.Fatalf("state = %v / %v, want caller / ringing", st.Role, st.Phase)
	}
	if _, ok := findEvent[IncomingCall](a); ok {
		t.Fatal("caller was prompted for a competing offer")
	}
}

func TestCalleeIgnoresDuplicateOffer(t *testing.T) {
	bus := signaling.NewBus()
	_, b := connectedPair(t, bus, false)

	publish(t, bus, signaling.RoleAdmin, signaling.KindOffer, signaling.Payload{SDP: "second-offer"})
	time.Sleep(30 * time.Millisecond)

	st := b.e.State()
	if st.Role != RoleCallee || st.Phase != PhaseConnected {
		t.Fatalf("state = %v / %v", st.Role, st.Phase)
	}
	if n := countEvents[IncomingCall](b); n != 1 {
		t.Fatalf("IncomingCall emitted %d times", n)
	}
}

func TestSelfSignalsAreIgnored(t *testing.T) {
	bus := signaling.NewBus()
	a := newParty(t, bus, signaling.RoleAdmin, nil)

	publish(t, bus, signaling.RoleAdmin, signaling.KindOffer, signaling.Payload{SDP: "own-offer"})
	publish(t, bus, signaling.RoleAdmin, signaling.KindCallEnd, signaling.Payload{})
	time.Sleep(30 * time.Millisecond)

	if st := a.e.State(); st.Phase != PhaseIdle || st.SessionID != "" {
		t.Fatalf("self signals changed state: %+v", st)
	}
	if a.peers.count() != 0 {
		t.Fatal("peer connection created for own offer")
	}
}

func TestForeignRoomIgnored(t *testing.T) {
	bus := signaling.NewBus()
	a := newParty(t, bus, signaling.RoleAdmin, nil)

	err := bus.Publish(t.Context(), &signaling.Signal{
		RoomID: "other", SenderRole: signaling.RoleClient, Kind: signaling.KindOffer,
		Payload: signaling.Payload{SDP: "x"},
	})
	if err != nil {
		t.Fatal(err)
	}
	time.Sleep(20 * time.Millisecond)
	if a.peers.count() != 0 {
		t.Fatal("offer for another room handled")
	}
}

func TestInsecureContextBlocksMedia(t *testing.T) {
	bus := signaling.NewBus()
	a := newParty(t, bus, signaling.RoleAdmin, nil, insecure)

	a.e.StartCall(true)
	notice := waitEvent[Notice](t, a)
	if !errors.Is(notice.Err, ErrInsecureContext) {
		t.Fatalf("notice = %v", notice.Err)
	}

	a.e.AcceptCall(true)
	eventually(t, "second notice", func() bool { return countEvents[Notice](a) == 2 })
	if len(a.media.constraints) != 0 {
		t.Fatal("media acquired in an insecure context")
	}
}

func TestMediaAccessFailureEndsCall(t *testing.T) {
	bus := signaling.NewBus()
	a := newParty(t, bus, signaling.RoleAdmin, &fakeMedia{failWith: media.ErrNoDevice})

	a.e.StartCall(true)
	ended := waitEvent[CallEnded](t, a)
	if ended.Reason != ReasonFailed || !errors.Is(ended.Err, ErrMediaAccess) {
		t.Fatalf("ended = %+v", ended)
	}
	waitPhase(t, a, PhaseEnded)
}

func TestConnectionFailureTearsDown(t *testing.T) {
	bus := signaling.NewBus()
	a, _ := connectedPair(t, bus, true)
	peer := a.peers.last()

	peer.fireState(webrtc.PeerConnectionStateFailed)

	ended := waitEvent[CallEnded](t, a)
	if ended.Reason != ReasonConnectionFailed || !errors.Is(ended.Err, ErrConnectionFailure) {
		t.Fatalf("ended = %+v", ended)
	}
	waitPhase(t, a, PhaseEnded)
	if !peer.isClosed() {
		t.Fatal("failed connection not closed")
	}
}

func TestEndDuringAcquisitionDiscardsTracks(t *testing.T) {
	bus := signaling.NewBus()
	gate := make(chan struct{})
	m := &fakeMedia{gate: gate, ignoreCtx: true}
	a := newParty(t, bus, signaling.RoleAdmin, m)
	rec := record(t, bus)

	a.e.StartCall(true)
	eventually(t, "acquisition started", func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		return len(m.constraints) == 1
	})
	a.e.EndCall()
	waitPhase(t, a, PhaseEnded)

	close(gate)
	eventually(t, "late tracks released", func() bool {
		sets := m.acquiredSets()
		if len(sets) != 1 {
			return false
		}
		for _, tr := range sets[0] {
			if !tr.Stopped() {
				return false
			}
		}
		return true
	})
	if a.peers.count() != 0 {
		t.Fatal("stale acquisition created a connection")
	}
	if n := rec.count(signaling.KindOffer); n != 0 {
		t.Fatalf("stale acquisition sent %d offers", n)
	}
}

func TestRemoteEndDuringRinging(t *testing.T) {
	bus := signaling.NewBus()
	a := newParty(t, bus, signaling.RoleAdmin, nil)
	a.e.StartCall(false)
	waitPhase(t, a, PhaseRinging)

	publish(t, bus, signaling.RoleClient, signaling.KindCallEnd, signaling.Payload{})

	ended := waitEvent[CallEnded](t, a)
	if ended.Reason != ReasonRemoteHangup {
		t.Fatalf("reason = %v", ended.Reason)
	}
}

func TestMuteToggles(t *testing.T) {
	bus := signaling.NewBus()
	a, _ := connectedPair(t, bus, true)
	tracks := a.e.State().LocalTracks

	a.e.ToggleAudio()
	eventually(t, "muted", func() bool { return a.e.State().AudioMuted })
	if tracks.Audio()[0].Enabled() {
		t.Fatal("audio track still enabled")
	}
	if !tracks.Video()[0].Enabled() {
		t.Fatal("video disabled by audio toggle")
	}

	a.e.ToggleVideo()
	eventually(t, "video off", func() bool { return a.e.State().VideoOff })
	if tracks.Video()[0].Enabled() {
		t.Fatal("video track still enabled")
	}

	a.e.ToggleAudio()
	eventually(t, "unmuted", func() bool { return !a.e.State().AudioMuted })
	if !tracks.Audio()[0].Enabled() {
		t.Fatal("audio track not re-enabled")
	}
}

func TestMalformedOfferDropped(t *testing.T) {
	bus := signaling.NewBus()
	b := newParty(t, bus, signaling.RoleClient, nil)

	publish(t, bus, signaling.RoleAdmin, signaling.KindOffer, signaling.Payload{SDP: "garbage"})
	time.Sleep(20 * time.Millisecond)
	if _, ok := findEvent[IncomingCall](b); ok {
		t.Fatal("malformed offer raised an incoming call")
	}

	publish(t, bus, signaling.RoleAdmin, signaling.KindOffer, signaling.Payload{SDP: "good-offer", Video: true})
	waitEvent[IncomingCall](t, b)
}

func TestCandidateAfterEndNotCarriedOver(t *testing.T) {
	bus := signaling.NewBus()
	b := newParty(t, bus, signaling.RoleClient, nil)

	publish(t, bus, signaling.RoleAdmin, signaling.KindOffer, signaling.Payload{SDP: "offer-1"})
	waitPhase(t, b, PhaseReceiving)
	publish(t, bus, signaling.RoleAdmin, signaling.KindCallEnd, signaling.Payload{})
	waitPhase(t, b, PhaseEnded)

	publish(t, bus, signaling.RoleAdmin, signaling.KindICECandidate, candidate("stale-1"))
	publish(t, bus, signaling.RoleAdmin, signaling.KindOffer, signaling.Payload{SDP: "offer-2"})
	eventually(t, "second incoming call", func() bool {
		return b.peers.count() == 2 && b.e.State().Phase == PhaseReceiving
	})

	peer := b.peers.last()
	publish(t, bus, signaling.RoleAdmin, signaling.KindICECandidate, candidate("fresh-1"))
	eventually(t, "fresh candidate", func() bool { return len(peer.appliedCandidates()) > 0 })
	if got := peer.appliedCandidates(); !slices.Equal(got, []string{"fresh-1"}) {
		t.Fatalf("applied = %v, want only the new call's candidate", got)
	}
}

func TestLookupMediaFailureTellsCaller(t *testing.T) {
	bus := signaling.NewBus()
	a := newParty(t, bus, signaling.RoleAdmin, nil)
	a.e.StartCall(true)
	waitPhase(t, a, PhaseRinging)

	b := newParty(t, bus, signaling.RoleClient, &fakeMedia{failWith: media.ErrNoDevice})
	b.e.AcceptCall(false)

	failed := waitEvent[CallEnded](t, b)
	if failed.Reason != ReasonFailed || !errors.Is(failed.Err, ErrMediaAccess) {
		t.Fatalf("callee ended = %+v", failed)
	}
	if failed.Summary.Role != RoleCallee {
		t.Fatalf("callee role = %v", failed.Summary.Role)
	}

	ended := waitEvent[CallEnded](t, a)
	if ended.Reason != ReasonRemoteHangup {
		t.Fatalf("caller reason = %v", ended.Reason)
	}
	waitPhase(t, a, PhaseEnded)
}

func TestScreenShareKeepsCameraOff(t *testing.T) {
	bus := signaling.NewBus()
	a, _ := connectedPair(t, bus, true)

	a.e.ToggleVideo()
	eventually(t, "video off", func() bool { return a.e.State().VideoOff })

	a.e.ToggleScreenShare()
	eventually(t, "screen sharing", func() bool { return a.e.State().ScreenSharing })

	st := a.e.State()
	screen := st.LocalTracks.Video()[0]
	if screen.ID != "screen" {
		t.Fatalf("previewed video = %s, want screen", screen.ID)
	}
	if !st.VideoOff || screen.Enabled() {
		t.Fatalf("video off = %v, screen enabled = %v", st.VideoOff, screen.Enabled())
	}

	a.e.ToggleVideo()
	eventually(t, "video on", func() bool { return !a.e.State().VideoOff })
	if !screen.Enabled() {
		t.Fatal("screen track not enabled with the camera back on")
	}
}
