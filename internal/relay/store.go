package relay

import (
	"context"
	"sync"

	"github.com/hari1098/snaptalks/internal/signaling"
)

// OfferStore keeps the latest unconsumed offer per room and sender role so
// a late joiner can answer it.
type OfferStore interface {
	Save(ctx context.Context, offer *signaling.Signal) error
	Latest(ctx context.Context, roomID string, excluding signaling.Role) (*signaling.Signal, error)
	Clear(ctx context.Context, roomID string) error
}

// MemoryStore is an OfferStore for a single relay process.
type MemoryStore struct {
	mu     sync.Mutex
	offers map[string]map[signaling.Role]signaling.Signal
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{offers: make(map[string]map[signaling.Role]signaling.Signal)}
}

func (m *MemoryStore) Save(_ context.Context, offer *signaling.Signal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.offers[offer.RoomID] == nil {
		m.offers[offer.RoomID] = make(map[signaling.Role]signaling.Signal)
	}
	m.offers[offer.RoomID][offer.SenderRole] = *offer
	return nil
}

func (m *MemoryStore) Latest(_ context.Context, roomID string, excluding signaling.Role) (*signaling.Signal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	offer, ok := m.offers[roomID][excluding.Other()]
	if !ok {
		return nil, nil
	}
	return &offer, nil
}

func (m *MemoryStore) Clear(_ context.Context, roomID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.offers, roomID)
	return nil
}
