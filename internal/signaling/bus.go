package signaling

import (
	"context"
	"sync"
)

const busBufferSize = 256

// Bus is an in-process Transport. Every subscriber of a room sees every
// signal published to it, the publisher included.
type Bus struct {
	mu     sync.Mutex
	subs   map[string]map[*busSubscription]struct{}
	offers map[string]map[Role]*Signal
	closed bool
}

// NewBus creates an empty in-process transport.
func NewBus() *Bus {
	return &Bus{
		subs:   make(map[string]map[*busSubscription]struct{}),
		offers: make(map[string]map[Role]*Signal),
	}
}

type busSubscription struct {
	bus    *Bus
	roomID string
	ch     chan *Signal
	once   sync.Once
}

func (s *busSubscription) Signals() <-chan *Signal {
	return s.ch
}

func (s *busSubscription) Close() error {
	s.once.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.subs[s.roomID], s)
		s.bus.mu.Unlock()
		close(s.ch)
	})
	return nil
}

// Subscribe opens a subscription to roomID.
func (b *Bus) Subscribe(_ context.Context, roomID string) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}

	sub := &busSubscription{bus: b, roomID: roomID, ch: make(chan *Signal, busBufferSize)}
	if b.subs[roomID] == nil {
		b.subs[roomID] = make(map[*busSubscription]struct{})
	}
	b.subs[roomID][sub] = struct{}{}
	return sub, nil
}

// Publish records offers and delivers sig to every subscriber of its room.
func (b *Bus) Publish(ctx context.Context, sig *Signal) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}

	switch {
	case sig.Kind == KindOffer:
		if b.offers[sig.RoomID] == nil {
			b.offers[sig.RoomID] = make(map[Role]*Signal)
		}
		stored := *sig
		b.offers[sig.RoomID][sig.SenderRole] = &stored
	case ConsumesOffers(sig.Kind):
		delete(b.offers, sig.RoomID)
	}

	targets := make([]*busSubscription, 0, len(b.subs[sig.RoomID]))
	for sub := range b.subs[sig.RoomID] {
		targets = append(targets, sub)
	}
	b.mu.Unlock()

	for _, sub := range targets {
		cp := *sig
		if err := sub.deliver(ctx, &cp); err != nil {
			return err
		}
	}
	return nil
}

func (s *busSubscription) deliver(ctx context.Context, sig *Signal) (err error) {
	defer func() {
		// The subscriber closed between snapshot and send.
		if recover() != nil {
			err = nil
		}
	}()
	select {
	case s.ch <- sig:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// FetchLatestOffer returns the stored offer of the role opposite excluding.
func (b *Bus) FetchLatestOffer(_ context.Context, roomID string, excluding Role) (*Signal, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}

	for role, offer := range b.offers[roomID] {
		if role != excluding {
			cp := *offer
			return &cp, nil
		}
	}
	return nil, nil
}

// Close closes every open subscription.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	var all []*busSubscription
	for _, subs := range b.subs {
		for sub := range subs {
			all = append(all, sub)
		}
	}
	b.mu.Unlock()

	for _, sub := range all {
		sub.Close()
	}
}
