package signaling

import (
	"context"
	"errors"
)

var (
	ErrClosed  = errors.New("signaling transport closed")
	ErrTimeout = errors.New("signaling timeout")
	ErrServer  = errors.New("relay error")
)

// Subscription is a room-scoped stream of signals. It may echo signals this
// participant published; consumers filter on SenderRole.
type Subscription interface {
	Signals() <-chan *Signal
	Close() error
}

// Publisher sends a signal to the other members of its room.
type Publisher interface {
	Publish(ctx context.Context, sig *Signal) error
}

// OfferLookup finds the latest unconsumed offer in a room sent by a role
// other than excluding. A nil signal with a nil error means none exists.
type OfferLookup interface {
	FetchLatestOffer(ctx context.Context, roomID string, excluding Role) (*Signal, error)
}

// Transport is the full signal transport consumed by a call participant.
type Transport interface {
	Publisher
	OfferLookup
	Subscribe(ctx context.Context, roomID string) (Subscription, error)
}

// ConsumesOffers reports whether a signal of kind k retires the room's
// stored offers.
func ConsumesOffers(k Kind) bool {
	return k == KindAnswer || k == KindCallEnd || k == KindCallReject
}
