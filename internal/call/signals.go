package call

import (
	"fmt"

	"github.com/hari1098/snaptalks/internal/signaling"
	"github.com/pion/webrtc/v4"
)

// inbound is a decoded remote signal.
type inbound interface {
	kind() signaling.Kind
}

// Offer is a remote session offer with the caller's media plan.
type Offer struct {
	SDP   string
	Video bool
}

type answerSignal struct{ SDP string }

type candidateSignal struct{ Init webrtc.ICECandidateInit }

type endSignal struct{}

type rejectSignal struct{}

func (Offer) kind() signaling.Kind           { return signaling.KindOffer }
func (answerSignal) kind() signaling.Kind    { return signaling.KindAnswer }
func (candidateSignal) kind() signaling.Kind { return signaling.KindICECandidate }
func (endSignal) kind() signaling.Kind       { return signaling.KindCallEnd }
func (rejectSignal) kind() signaling.Kind    { return signaling.KindCallReject }

func decodeSignal(sig *signaling.Signal) (inbound, error) {
	switch sig.Kind {
	case signaling.KindOffer:
		if sig.Payload.SDP == "" {
			return nil, &Error{Op: "decode offer", Err: ErrNegotiation, Details: "empty description"}
		}
		return Offer{SDP: sig.Payload.SDP, Video: sig.Payload.Video}, nil

	case signaling.KindAnswer:
		if sig.Payload.SDP == "" {
			return nil, &Error{Op: "decode answer", Err: ErrNegotiation, Details: "empty description"}
		}
		return answerSignal{SDP: sig.Payload.SDP}, nil

	case signaling.KindICECandidate:
		c := sig.Payload.Candidate
		if c == nil || c.Candidate == "" {
			return nil, &Error{Op: "decode candidate", Err: ErrNegotiation, Details: "missing candidate"}
		}
		return candidateSignal{Init: candidateFromWire(c)}, nil

	case signaling.KindCallEnd:
		return endSignal{}, nil

	case signaling.KindCallReject:
		return rejectSignal{}, nil
	}
	return nil, &Error{Op: "decode signal", Err: ErrNegotiation, Details: fmt.Sprintf("unknown kind %q", sig.Kind)}
}

func candidateFromWire(c *signaling.Candidate) webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}
}

func candidateToWire(c webrtc.ICECandidateInit) *signaling.Candidate {
	return &signaling.Candidate{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	}
}
