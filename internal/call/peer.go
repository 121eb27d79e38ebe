package call

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/hari1098/snaptalks/internal/media"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
)

// Sender is the outgoing half of one attached track.
type Sender interface {
	ReplaceTrack(track webrtc.TrackLocal) error
}

// PeerConnection is the subset of a WebRTC peer connection the engine drives.
// Callbacks may fire on any goroutine.
type PeerConnection interface {
	AddTrack(track webrtc.TrackLocal) (Sender, error)
	RemoveTrack(s Sender) error
	CreateOffer(wantsVideo bool) (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetLocalDescription(desc webrtc.SessionDescription) error
	SetRemoteDescription(desc webrtc.SessionDescription) error
	AddICECandidate(c webrtc.ICECandidateInit) error
	OnICECandidate(fn func(webrtc.ICECandidateInit))
	OnConnectionStateChange(fn func(webrtc.PeerConnectionState))
	OnRemoteTrack(fn func(media.Kind))
	Close() error
}

// PeerFactory creates one peer connection per call session.
type PeerFactory interface {
	NewPeerConnection() (PeerConnection, error)
}

// PionPeers builds pion peer connections with default codecs and interceptors.
type PionPeers struct {
	api    *webrtc.API
	config webrtc.Configuration
	log    *slog.Logger
}

// NewPionPeers prepares a pion API using stunServers as ICE hints.
func NewPionPeers(stunServers []string) (*PionPeers, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, registry); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	se := webrtc.SettingEngine{}
	se.SetICETimeouts(10*time.Second, 30*time.Second, 2*time.Second)

	var config webrtc.Configuration
	if len(stunServers) > 0 {
		config.ICEServers = []webrtc.ICEServer{{URLs: stunServers}}
	}

	return &PionPeers{
		api: webrtc.NewAPI(
			webrtc.WithMediaEngine(mediaEngine),
			webrtc.WithInterceptorRegistry(registry),
			webrtc.WithSettingEngine(se),
		),
		config: config,
		log:    slog.Default().With("component", "peer"),
	}, nil
}

func (p *PionPeers) NewPeerConnection() (PeerConnection, error) {
	pc, err := p.api.NewPeerConnection(p.config)
	if err != nil {
		return nil, NewError("create peer connection", err)
	}
	return &pionPeer{pc: pc, log: p.log}, nil
}

type pionPeer struct {
	pc  *webrtc.PeerConnection
	log *slog.Logger
}

type pionSender struct {
	*webrtc.RTPSender
}

func (p *pionPeer) AddTrack(track webrtc.TrackLocal) (Sender, error) {
	sender, err := p.pc.AddTrack(track)
	if err != nil {
		return nil, err
	}

	// RTCP has to be read for interceptors to run.
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()
	return pionSender{sender}, nil
}

func (p *pionPeer) RemoveTrack(s Sender) error {
	ps, ok := s.(pionSender)
	if !ok {
		return fmt.Errorf("foreign sender %T", s)
	}
	return p.pc.RemoveTrack(ps.RTPSender)
}

// CreateOffer makes sure the offer asks to receive audio, and video when
// wanted, even if no local track of that kind is attached.
func (p *pionPeer) CreateOffer(wantsVideo bool) (webrtc.SessionDescription, error) {
	kinds := []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio}
	if wantsVideo {
		kinds = append(kinds, webrtc.RTPCodecTypeVideo)
	}
	for _, kind := range kinds {
		if p.hasTransceiver(kind) {
			continue
		}
		if _, err := p.pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			return webrtc.SessionDescription{}, fmt.Errorf("add %s transceiver: %w", kind, err)
		}
	}
	return p.pc.CreateOffer(nil)
}

func (p *pionPeer) hasTransceiver(kind webrtc.RTPCodecType) bool {
	for _, t := range p.pc.GetTransceivers() {
		if t.Kind() == kind {
			return true
		}
	}
	return false
}

func (p *pionPeer) CreateAnswer() (webrtc.SessionDescription, error) {
	return p.pc.CreateAnswer(nil)
}

func (p *pionPeer) SetLocalDescription(desc webrtc.SessionDescription) error {
	return p.pc.SetLocalDescription(desc)
}

func (p *pionPeer) SetRemoteDescription(desc webrtc.SessionDescription) error {
	return p.pc.SetRemoteDescription(desc)
}

func (p *pionPeer) AddICECandidate(c webrtc.ICECandidateInit) error {
	return p.pc.AddICECandidate(c)
}

func (p *pionPeer) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	p.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		fn(c.ToJSON())
	})
}

func (p *pionPeer) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) {
	p.pc.OnConnectionStateChange(fn)
}

// OnRemoteTrack reports each remote track and keeps it drained.
func (p *pionPeer) OnRemoteTrack(fn func(media.Kind)) {
	p.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		kind := media.KindAudio
		if track.Kind() == webrtc.RTPCodecTypeVideo {
			kind = media.KindVideo
		}
		p.log.Debug("remote track", "kind", kind, "codec", track.Codec().MimeType)
		fn(kind)

		go func() {
			for {
				if _, _, err := track.ReadRTP(); err != nil {
					return
				}
			}
		}()
	})
}

func (p *pionPeer) Close() error {
	return p.pc.Close()
}
