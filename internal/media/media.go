// Package media wraps local capture devices as stoppable, mutable tracks
// that can be attached to a peer connection.
package media

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/pion/webrtc/v4"
)

var (
	ErrNoDevice            = errors.New("no capture device available")
	ErrDisplayUnavailable  = errors.New("display capture unavailable")
	ErrUnsupportedPlatform = errors.New("media capture not supported on this platform")
)

// Kind is the media type of a track.
type Kind string

const (
	KindAudio Kind = "audio"
	KindVideo Kind = "video"
)

// Constraints selects what Acquire captures.
type Constraints struct {
	Audio bool
	Video bool
}

// Source acquires local capture tracks.
type Source interface {
	Acquire(ctx context.Context, c Constraints) (TrackSet, error)
	AcquireDisplay(ctx context.Context) (*Track, error)
}

// Track is one local capture track. Disabling a track keeps it attached but
// stops media from flowing.
type Track struct {
	ID   string
	Kind Kind

	local   webrtc.TrackLocal
	enabled atomic.Bool
	stopped atomic.Bool

	mu      sync.Mutex
	onEnded []func()
	ended   bool
	release func()
}

// NewTrack wraps local. release, if non-nil, runs once when the track stops.
func NewTrack(id string, kind Kind, local webrtc.TrackLocal, release func()) *Track {
	t := &Track{ID: id, Kind: kind, local: local, release: release}
	t.enabled.Store(true)
	return t
}

// NewStaticTrack creates a track backed by an unfed static RTP track.
func NewStaticTrack(id string, kind Kind) (*Track, error) {
	capability := webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}
	if kind == KindVideo {
		capability = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}
	}
	local, err := webrtc.NewTrackLocalStaticRTP(capability, id, "snaptalks")
	if err != nil {
		return nil, fmt.Errorf("create %s track: %w", kind, err)
	}
	return NewTrack(id, kind, local, nil), nil
}

// Local returns the track to hand to a peer connection.
func (t *Track) Local() webrtc.TrackLocal { return t.local }

func (t *Track) Enabled() bool { return t.enabled.Load() }

func (t *Track) SetEnabled(on bool) { t.enabled.Store(on) }

// Stopped reports whether Stop has been called.
func (t *Track) Stopped() bool { return t.stopped.Load() }

// OnEnded registers fn to run when capture ends on its own, for example
// when the user stops sharing the screen. It does not run on Stop.
func (t *Track) OnEnded(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onEnded = append(t.onEnded, fn)
}

// End marks capture as finished by the device and fires OnEnded callbacks once.
func (t *Track) End() {
	t.mu.Lock()
	if t.ended || t.stopped.Load() {
		t.mu.Unlock()
		return
	}
	t.ended = true
	fns := t.onEnded
	t.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// Stop releases the capture. It is safe to call more than once.
func (t *Track) Stop() {
	if t.stopped.Swap(true) {
		return
	}
	if t.release != nil {
		t.release()
	}
}

// TrackSet is the ordered set of local tracks previewed to the user.
type TrackSet []*Track

// Audio returns the audio tracks.
func (s TrackSet) Audio() TrackSet { return s.filter(KindAudio) }

// Video returns the video tracks.
func (s TrackSet) Video() TrackSet { return s.filter(KindVideo) }

func (s TrackSet) filter(k Kind) TrackSet {
	var out TrackSet
	for _, t := range s {
		if t.Kind == k {
			out = append(out, t)
		}
	}
	return out
}

// HasVideo reports whether any track is video.
func (s TrackSet) HasVideo() bool { return len(s.Video()) > 0 }

// Replace returns a copy with old swapped for replacement in place. If old
// is absent replacement is appended.
func (s TrackSet) Replace(old, replacement *Track) TrackSet {
	out := make(TrackSet, 0, len(s)+1)
	found := false
	for _, t := range s {
		if t == old && !found {
			out = append(out, replacement)
			found = true
			continue
		}
		out = append(out, t)
	}
	if !found {
		out = append(out, replacement)
	}
	return out
}

// Remove returns a copy without t.
func (s TrackSet) Remove(t *Track) TrackSet {
	out := make(TrackSet, 0, len(s))
	for _, x := range s {
		if x != t {
			out = append(out, x)
		}
	}
	return out
}

// Stop stops every track.
func (s TrackSet) Stop() {
	for _, t := range s {
		t.Stop()
	}
}
