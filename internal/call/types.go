package call

import (
	"time"

	"github.com/hari1098/snaptalks/internal/media"
)

// Role is the negotiation role of the local participant in one session.
type Role int

const (
	RoleUndetermined Role = iota
	RoleCaller
	RoleCallee
)

func (r Role) String() string {
	switch r {
	case RoleCaller:
		return "caller"
	case RoleCallee:
		return "callee"
	default:
		return "undetermined"
	}
}

// Phase is the call state machine position.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseRinging
	PhaseReceiving
	PhaseConnected
	PhaseEnded
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseRinging:
		return "ringing"
	case PhaseReceiving:
		return "receiving"
	case PhaseConnected:
		return "connected"
	case PhaseEnded:
		return "ended"
	}
	return "unknown"
}

// MediaKind describes what the local side captures.
type MediaKind int

const (
	MediaNone MediaKind = iota
	MediaAudio
	MediaAudioVideo
)

func (k MediaKind) String() string {
	switch k {
	case MediaAudio:
		return "audio"
	case MediaAudioVideo:
		return "audio+video"
	default:
		return "none"
	}
}

func mediaKindOf(tracks media.TrackSet) MediaKind {
	switch {
	case tracks.HasVideo():
		return MediaAudioVideo
	case len(tracks) > 0:
		return MediaAudio
	}
	return MediaNone
}

// State is a snapshot of the engine's current session for presentation.
type State struct {
	SessionID       string
	Phase           Phase
	Role            Role
	LocalMediaKind  MediaKind
	AudioMuted      bool
	VideoOff        bool
	ScreenSharing   bool
	ConnectionState string
	LocalTracks     media.TrackSet
}

// EndReason explains why a session ended.
type EndReason int

const (
	ReasonLocalHangup EndReason = iota
	ReasonRemoteHangup
	ReasonDeclined
	ReasonRejectedByPeer
	ReasonConnectionFailed
	ReasonFailed
	ReasonShutdown
)

func (r EndReason) String() string {
	switch r {
	case ReasonLocalHangup:
		return "hung up"
	case ReasonRemoteHangup:
		return "peer hung up"
	case ReasonDeclined:
		return "declined"
	case ReasonRejectedByPeer:
		return "peer declined"
	case ReasonConnectionFailed:
		return "connection failed"
	case ReasonFailed:
		return "failed"
	case ReasonShutdown:
		return "shutdown"
	}
	return "unknown"
}

// Summary records one finished session. Nothing is persisted.
type Summary struct {
	SessionID   string
	Role        Role
	Media       MediaKind
	StartedAt   time.Time
	ConnectedAt time.Time
	EndedAt     time.Time
	Reason      EndReason
	Err         error
}

// Duration is the connected time, zero if the call never connected.
func (s Summary) Duration() time.Duration {
	if s.ConnectedAt.IsZero() {
		return 0
	}
	return s.EndedAt.Sub(s.ConnectedAt)
}
