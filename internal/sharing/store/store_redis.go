package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"custodia/internal/sharing/models"
	id "custodia/pkg/domain"
	dErrors "custodia/pkg/domain-errors"
)

const tokenKeyPrefix = "custodia:token:"

// Tokens expire naturally; keep the record around a little longer so late
// redemption attempts get a precise error instead of not-found.
const expiryGrace = time.Hour

// markUsedScript is the atomic compare-and-set for single-use redemption.
// Returns -1 when the token is absent, 0 when already used, 1 on success.
var markUsedScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
  return -1
end
if redis.call("HGET", KEYS[1], "used") == "1" then
  return 0
end
redis.call("HSET", KEYS[1], "used", "1", "usedAt", ARGV[1])
return 1
`)

// RedisStore persists sharing tokens in Redis. Single-use consumption runs as
// a Lua script so the check-and-set is atomic across replicas of this service.
type RedisStore struct {
	client *redis.Client
}

// NewRedis constructs a Redis-backed token store.
func NewRedis(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func tokenKey(tokenID id.TokenID) string {
	return tokenKeyPrefix + tokenID.String()
}

func (s *RedisStore) Save(ctx context.Context, token *models.Token) error {
	data, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("encode token: %w", err)
	}
	key := tokenKey(token.ID)

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key,
		"data", data,
		"key", token.EphemeralKey,
		"used", boolField(token.Used),
	)
	pipe.ExpireAt(ctx, key, token.ExpiresAt.Add(expiryGrace))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save token: %w", err)
	}
	return nil
}

func (s *RedisStore) FindByID(ctx context.Context, tokenID id.TokenID) (*models.Token, error) {
	fields, err := s.client.HGetAll(ctx, tokenKey(tokenID)).Result()
	if err != nil {
		return nil, fmt.Errorf("load token: %w", err)
	}
	if len(fields) == 0 {
		return nil, dErrors.New(dErrors.CodeNotFound, "token not found")
	}

	var token models.Token
	if err := json.Unmarshal([]byte(fields["data"]), &token); err != nil {
		return nil, fmt.Errorf("decode token: %w", err)
	}
	token.EphemeralKey = []byte(fields["key"])
	token.Used = fields["used"] == "1"
	if raw, ok := fields["usedAt"]; ok && raw != "" {
		usedAt, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return nil, fmt.Errorf("decode token usedAt: %w", err)
		}
		token.UsedAt = &usedAt
	}
	return &token, nil
}

func (s *RedisStore) MarkUsed(ctx context.Context, tokenID id.TokenID, at time.Time) error {
	result, err := markUsedScript.Run(ctx, s.client,
		[]string{tokenKey(tokenID)},
		at.UTC().Format(time.RFC3339Nano),
	).Int()
	if err != nil {
		return fmt.Errorf("mark token used: %w", err)
	}
	switch result {
	case -1:
		return dErrors.New(dErrors.CodeNotFound, "token not found")
	case 0:
		return dErrors.New(dErrors.CodeTokenUsed, "token already redeemed")
	}
	return nil
}

func boolField(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
