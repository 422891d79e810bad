package token

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps token state in Redis so multiple API instances agree on
// the live code. Keys expire on their own a bit after the code does; an
// expired-but-present code still reports expired through the issuer.
type RedisStore struct {
	client *redis.Client
	prefix string
	// grace keeps keys around past token expiry so validation can
	// distinguish expired from unknown.
	grace time.Duration
}

// NewRedisStore builds a store under the given key prefix.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "smartattend"
	}
	return &RedisStore{client: client, prefix: prefix, grace: time.Hour}
}

func (s *RedisStore) valueKey(value string) string {
	return s.prefix + ":tok:" + value
}

func (s *RedisStore) sessionKey(sessionID string) string {
	return s.prefix + ":sess:" + sessionID + ":tok"
}

func (s *RedisStore) redeemKey(sessionID, studentID string) string {
	return s.prefix + ":sess:" + sessionID + ":redeemed:" + studentID
}

func (s *RedisStore) SetCurrent(ctx context.Context, tok Token) error {
	keep := time.Until(tok.ExpiresAt) + s.grace
	payload, err := json.Marshal(tok)
	if err != nil {
		return err
	}
	prev, err := s.client.GetSet(ctx, s.sessionKey(tok.SessionID), tok.Value).Result()
	if err != nil && err != redis.Nil {
		return err
	}
	if prev != "" && prev != tok.Value {
		_ = s.client.Del(ctx, s.valueKey(prev)).Err()
	}
	if err := s.client.Expire(ctx, s.sessionKey(tok.SessionID), keep).Err(); err != nil {
		return err
	}
	return s.client.Set(ctx, s.valueKey(tok.Value), payload, keep).Err()
}

func (s *RedisStore) Lookup(ctx context.Context, value string) (Token, bool, error) {
	raw, err := s.client.Get(ctx, s.valueKey(value)).Bytes()
	if err == redis.Nil {
		return Token{}, false, nil
	}
	if err != nil {
		return Token{}, false, err
	}
	var tok Token
	if err := json.Unmarshal(raw, &tok); err != nil {
		return Token{}, false, err
	}
	return tok, true, nil
}

func (s *RedisStore) Current(ctx context.Context, sessionID string) (Token, bool, error) {
	value, err := s.client.Get(ctx, s.sessionKey(sessionID)).Result()
	if err == redis.Nil {
		return Token{}, false, nil
	}
	if err != nil {
		return Token{}, false, err
	}
	return s.Lookup(ctx, value)
}

func (s *RedisStore) Redeem(ctx context.Context, sessionID, studentID string) (bool, error) {
	return s.client.SetNX(ctx, s.redeemKey(sessionID, studentID), "1", 24*time.Hour).Result()
}

func (s *RedisStore) Redeemed(ctx context.Context, sessionID, studentID string) (bool, error) {
	n, err := s.client.Exists(ctx, s.redeemKey(sessionID, studentID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *RedisStore) Invalidate(ctx context.Context, sessionID string) error {
	value, err := s.client.Get(ctx, s.sessionKey(sessionID)).Result()
	if err != nil && err != redis.Nil {
		return err
	}
	keys := []string{s.sessionKey(sessionID)}
	if value != "" {
		keys = append(keys, s.valueKey(value))
	}
	return s.client.Del(ctx, keys...).Err()
}
