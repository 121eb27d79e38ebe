package relay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hari1098/snaptalks/internal/signaling"
	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"
)

// OfferTTL bounds how long an unanswered offer stays fetchable.
const OfferTTL = 10 * time.Minute

// RedisStore is an OfferStore shared by every relay pointing at one Redis.
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisStore connects to addr and checks the connection.
func NewRedisStore(ctx context.Context, addr, password string, db int) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return &RedisStore{rdb: rdb, ttl: OfferTTL}, nil
}

func offerKey(roomID string, role signaling.Role) string {
	return fmt.Sprintf("snaptalks:offer:%s:%s", roomID, role)
}

func (r *RedisStore) Save(ctx context.Context, offer *signaling.Signal) error {
	b, err := msgpack.Marshal(offer)
	if err != nil {
		return fmt.Errorf("encode offer: %w", err)
	}
	return r.rdb.Set(ctx, offerKey(offer.RoomID, offer.SenderRole), b, r.ttl).Err()
}

func (r *RedisStore) Latest(ctx context.Context, roomID string, excluding signaling.Role) (*signaling.Signal, error) {
	b, err := r.rdb.Get(ctx, offerKey(roomID, excluding.Other())).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var offer signaling.Signal
	if err := msgpack.Unmarshal(b, &offer); err != nil {
		return nil, fmt.Errorf("decode offer: %w", err)
	}
	return &offer, nil
}

func (r *RedisStore) Clear(ctx context.Context, roomID string) error {
	return r.rdb.Del(ctx,
		offerKey(roomID, signaling.RoleAdmin),
		offerKey(roomID, signaling.RoleClient),
	).Err()
}

func (r *RedisStore) Close() error {
	return r.rdb.Close()
}
