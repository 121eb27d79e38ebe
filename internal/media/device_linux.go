//go:build linux

package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	_ "github.com/pion/mediadevices/pkg/driver/screen"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

const rtpMTU = 1200

// DeviceSource captures camera, microphone and screen through mediadevices.
type DeviceSource struct {
	codecs *mediadevices.CodecSelector
	log    *slog.Logger
}

// NewDeviceSource prepares VP8 and Opus encoders for capture.
func NewDeviceSource() (*DeviceSource, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, fmt.Errorf("vp8 params: %w", err)
	}
	vpxParams.BitRate = 1_000_000

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, fmt.Errorf("opus params: %w", err)
	}

	return &DeviceSource{
		codecs: mediadevices.NewCodecSelector(
			mediadevices.WithVideoEncoders(&vpxParams),
			mediadevices.WithAudioEncoders(&opusParams),
		),
		log: slog.Default().With("component", "media"),
	}, nil
}

type captureResult struct {
	stream mediadevices.MediaStream
	err    error
}

// Acquire opens the microphone and, if requested, the camera. A capture that
// resolves after ctx is cancelled is closed instead of returned.
func (d *DeviceSource) Acquire(ctx context.Context, c Constraints) (TrackSet, error) {
	constraints := mediadevices.MediaStreamConstraints{Codec: d.codecs}
	if c.Audio {
		constraints.Audio = func(*mediadevices.MediaTrackConstraints) {}
	}
	if c.Video {
		constraints.Video = func(mc *mediadevices.MediaTrackConstraints) {
			mc.FrameFormat = prop.FrameFormatOneOf{frame.FormatYUYV, frame.FormatI420, frame.FormatRGBA}
			mc.Width = prop.IntRanged{Max: 640}
			mc.Height = prop.IntRanged{Max: 480}
		}
	}
	if !c.Audio && !c.Video {
		return nil, nil
	}

	stream, err := d.capture(ctx, func() (mediadevices.MediaStream, error) {
		return mediadevices.GetUserMedia(constraints)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoDevice, err)
	}
	return d.wrap(stream.GetTracks())
}

// AcquireDisplay opens a screen capture track.
func (d *DeviceSource) AcquireDisplay(ctx context.Context) (*Track, error) {
	stream, err := d.capture(ctx, func() (mediadevices.MediaStream, error) {
		return mediadevices.GetDisplayMedia(mediadevices.MediaStreamConstraints{
			Video: func(*mediadevices.MediaTrackConstraints) {},
			Codec: d.codecs,
		})
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDisplayUnavailable, err)
	}

	tracks, err := d.wrap(stream.GetVideoTracks())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDisplayUnavailable, err)
	}
	if len(tracks) == 0 {
		return nil, ErrDisplayUnavailable
	}
	for _, extra := range tracks[1:] {
		extra.Stop()
	}
	return tracks[0], nil
}

func (d *DeviceSource) capture(ctx context.Context, open func() (mediadevices.MediaStream, error)) (mediadevices.MediaStream, error) {
	done := make(chan captureResult, 1)
	go func() {
		s, err := open()
		done <- captureResult{s, err}
	}()

	select {
	case res := <-done:
		return res.stream, res.err
	case <-ctx.Done():
		go func() {
			if res := <-done; res.err == nil {
				for _, t := range res.stream.GetTracks() {
					t.Close()
				}
			}
		}()
		return nil, ctx.Err()
	}
}

func (d *DeviceSource) wrap(devTracks []mediadevices.Track) (TrackSet, error) {
	var set TrackSet
	for _, dt := range devTracks {
		t, err := d.forward(dt)
		if err != nil {
			set.Stop()
			for _, rest := range devTracks {
				rest.Close()
			}
			return nil, err
		}
		set = append(set, t)
	}
	return set, nil
}

// forward pumps encoded RTP from a device track into a static track that
// can be swapped between senders. Packets are dropped while disabled.
func (d *DeviceSource) forward(dt mediadevices.Track) (*Track, error) {
	kind := KindAudio
	capability := webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}
	if dt.Kind() == webrtc.RTPCodecTypeVideo {
		kind = KindVideo
		capability = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}
	}

	local, err := webrtc.NewTrackLocalStaticRTP(capability, dt.ID(), "snaptalks")
	if err != nil {
		return nil, err
	}
	reader, err := dt.NewRTPReader(capability.MimeType, rand.Uint32(), rtpMTU)
	if err != nil {
		return nil, fmt.Errorf("%s rtp reader: %w", kind, err)
	}

	track := NewTrack(dt.ID(), kind, local, func() {
		reader.Close()
		dt.Close()
	})
	dt.OnEnded(func(err error) {
		if err != nil {
			d.log.Debug("capture ended", "track", dt.ID(), "error", err)
		}
		track.End()
	})

	go d.pump(track, reader, local)
	return track, nil
}

func (d *DeviceSource) pump(track *Track, reader mediadevices.RTPReadCloser, local *webrtc.TrackLocalStaticRTP) {
	for {
		packets, release, err := reader.Read()
		if err != nil {
			if !errors.Is(err, io.EOF) && !track.Stopped() {
				d.log.Warn("rtp read failed", "track", track.ID, "error", err)
			}
			track.End()
			return
		}
		if track.Enabled() {
			writePackets(local, packets)
		}
		release()
	}
}

func writePackets(local *webrtc.TrackLocalStaticRTP, packets []*rtp.Packet) {
	for _, p := range packets {
		if err := local.WriteRTP(p); err != nil && errors.Is(err, io.ErrClosedPipe) {
			return
		}
	}
}
