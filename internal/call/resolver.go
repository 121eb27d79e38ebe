package call

import (
	"context"

	"github.com/hari1098/snaptalks/internal/signaling"
)

// Resolution is the outcome of initial role resolution.
type Resolution struct {
	IsCaller bool
	Offer    *Offer
}

// ResolveInitialRole looks for an unconsumed offer in roomID sent by anyone
// but local. Finding none makes the local party the caller. Two parties that
// query at the same time may both become callers.
func ResolveInitialRole(ctx context.Context, lookup signaling.OfferLookup, roomID string, local signaling.Role) (Resolution, error) {
	sig, err := lookup.FetchLatestOffer(ctx, roomID, local)
	if err != nil {
		return Resolution{}, WrapError("fetch latest offer", ErrSignaling, err)
	}
	if !usableOffer(sig, roomID, local) {
		return Resolution{IsCaller: true}, nil
	}
	return Resolution{Offer: &Offer{SDP: sig.Payload.SDP, Video: sig.Payload.Video}}, nil
}

func usableOffer(sig *signaling.Signal, roomID string, local signaling.Role) bool {
	switch {
	case sig == nil:
		return false
	case sig.Kind != signaling.KindOffer:
		return false
	case sig.SenderRole == local:
		return false
	case sig.RoomID != "" && sig.RoomID != roomID:
		return false
	}
	return sig.Payload.SDP != ""
}
