package session

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bastion-iam/bastion/internal/shared"
)

const keyPrefix = "engine:session:"

// Store persists sessions with an inactivity TTL.
type Store interface {
	Save(ctx context.Context, s *Session) error
	Get(ctx context.Context, id string) (*Session, error)
	Delete(ctx context.Context, id string) error
}

// RedisStore keeps sessions in Redis, one JSON value per session keyed by
// ID. Expiry is left to Redis; a missing key reads as a closed session.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore constructs a store.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

var _ Store = (*RedisStore)(nil)

func (s *RedisStore) ttl(sess *Session) time.Duration {
	return time.Duration(sess.TimeoutMins) * time.Minute
}

// Save writes the session and resets its TTL.
func (s *RedisStore) Save(ctx context.Context, sess *Session) error {
	payload, err := json.Marshal(sess)
	if err != nil {
		return shared.Wrap(shared.KindValidation, err, "session: marshal session")
	}
	if err := s.client.Set(ctx, keyPrefix+sess.ID, payload, s.ttl(sess)).Err(); err != nil {
		return shared.Wrap(shared.KindStoreUnavailable, err, "session: save session")
	}
	return nil
}

// Get reads a session. A missing key means the session was closed or
// timed out.
func (s *RedisStore) Get(ctx context.Context, id string) (*Session, error) {
	payload, err := s.client.Get(ctx, keyPrefix+id).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, shared.E(shared.KindSessionClosed, "session: session %s is closed or expired", id)
		}
		return nil, shared.Wrap(shared.KindStoreUnavailable, err, "session: get session")
	}
	var sess Session
	if err := json.Unmarshal(payload, &sess); err != nil {
		return nil, shared.Wrap(shared.KindStoreUnavailable, err, "session: decode session")
	}
	return &sess, nil
}

// Delete closes a session. Deleting an absent key reports session-closed
// so Close is not idempotent-silent.
func (s *RedisStore) Delete(ctx context.Context, id string) error {
	deleted, err := s.client.Del(ctx, keyPrefix+id).Result()
	if err != nil {
		return shared.Wrap(shared.KindStoreUnavailable, err, "session: delete session")
	}
	if deleted == 0 {
		return shared.E(shared.KindSessionClosed, "session: session %s is closed or expired", id)
	}
	return nil
}
