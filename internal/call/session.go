package call

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/hari1098/snaptalks/internal/media"
	"github.com/pion/webrtc/v4"
)

// Session is one call attempt. It is only touched by the engine's Run loop.
type Session struct {
	id    string
	role  Role
	phase Phase

	pc      PeerConnection
	pending []webrtc.ICECandidateInit

	local     media.TrackSet
	senders   map[*media.Track]Sender
	mediaKind MediaKind

	screen        *media.Track
	original      *media.Track
	screenPending bool

	audioMuted bool
	videoOff   bool
	connState  string

	started       bool
	accepting     bool
	acquiring     bool
	wantsVideo    bool
	hasLocalOffer bool
	remoteSet     bool
	remoteOffer   *Offer
	byeSent       bool

	ctx    context.Context
	cancel context.CancelFunc

	startedAt   time.Time
	connectedAt time.Time
}

func newSession(parent context.Context) *Session {
	ctx, cancel := context.WithCancel(parent)
	return &Session{
		id:        uuid.NewString(),
		senders:   make(map[*media.Track]Sender),
		connState: webrtc.PeerConnectionStateNew.String(),
		ctx:       ctx,
		cancel:    cancel,
		startedAt: time.Now(),
	}
}

func (s *Session) live() bool {
	return s != nil && s.phase != PhaseEnded
}

// setRole assigns the role once. It reports whether the session now has r.
func (s *Session) setRole(r Role) bool {
	if s.role == RoleUndetermined {
		s.role = r
	}
	return s.role == r
}

// engaged reports whether the user or the peer has started anything in this
// session, as opposed to a placeholder holding early candidates.
func (s *Session) engaged() bool {
	return s.started || s.accepting || s.role != RoleUndetermined ||
		s.remoteOffer != nil || s.phase != PhaseIdle
}

// negotiated reports whether the peer may be holding state for this session.
func (s *Session) negotiated() bool {
	return s.hasLocalOffer || s.remoteSet
}

// videoSender returns the sender carrying the outgoing video track.
func (s *Session) videoSender() (Sender, *media.Track) {
	for _, t := range s.local.Video() {
		if snd, ok := s.senders[t]; ok {
			return snd, t
		}
	}
	return nil, nil
}

func (s *Session) snapshot() State {
	return State{
		SessionID:       s.id,
		Phase:           s.phase,
		Role:            s.role,
		LocalMediaKind:  mediaKindOf(s.local),
		AudioMuted:      s.audioMuted,
		VideoOff:        s.videoOff,
		ScreenSharing:   s.screen != nil,
		ConnectionState: s.connState,
		LocalTracks:     append(media.TrackSet(nil), s.local...),
	}
}

func (s *Session) summary(reason EndReason, err error) Summary {
	return Summary{
		SessionID:   s.id,
		Role:        s.role,
		Media:       s.mediaKind,
		StartedAt:   s.startedAt,
		ConnectedAt: s.connectedAt,
		EndedAt:     time.Now(),
		Reason:      reason,
		Err:         err,
	}
}
