package presence

import (
	"context"
	"errors"
	"fmt"

	redis "github.com/redis/go-redis/v9"
)

const defaultKeyPrefix = "dm:presence"

// Both scripts touch the user key and the conn key in one atomic step so the
// forward and reverse mappings never disagree across router processes.
var registerScript = redis.NewScript(`
local userKey = KEYS[1]
local connKey = KEYS[2]
local prefix = ARGV[3]
local prev = redis.call("GET", userKey)
if prev and prev ~= ARGV[2] then
	redis.call("DEL", prefix .. ":conn:" .. prev)
end
local prevUser = redis.call("GET", connKey)
if prevUser and prevUser ~= ARGV[1] then
	local prevUserKey = prefix .. ":user:" .. prevUser
	if redis.call("GET", prevUserKey) == ARGV[2] then
		redis.call("DEL", prevUserKey)
		redis.call("SREM", prefix .. ":users", prevUser)
	end
end
redis.call("SET", userKey, ARGV[2])
redis.call("SET", connKey, ARGV[1])
redis.call("SADD", prefix .. ":users", ARGV[1])
return 1
`)

var unregisterScript = redis.NewScript(`
local connKey = KEYS[1]
local prefix = ARGV[1]
local userID = redis.call("GET", connKey)
if not userID then
	return 0
end
redis.call("DEL", connKey)
local userKey = prefix .. ":user:" .. userID
if redis.call("GET", userKey) == ARGV[2] then
	redis.call("DEL", userKey)
	redis.call("SREM", prefix .. ":users", userID)
end
return 1
`)

// RedisRegistry is a Registry shared by every router process pointed at the same Redis.
type RedisRegistry struct {
	client *redis.Client
	prefix string
}

func NewRedis(client *redis.Client, prefix string) *RedisRegistry {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &RedisRegistry{client: client, prefix: prefix}
}

var _ Registry = (*RedisRegistry)(nil)

func (r *RedisRegistry) userKey(userID string) string { return r.prefix + ":user:" + userID }
func (r *RedisRegistry) connKey(connID string) string { return r.prefix + ":conn:" + connID }

func (r *RedisRegistry) Register(ctx context.Context, userID, connID string) error {
	keys := []string{r.userKey(userID), r.connKey(connID)}
	if err := registerScript.Run(ctx, r.client, keys, userID, connID, r.prefix).Err(); err != nil {
		return fmt.Errorf("presence: register %s: %w", userID, err)
	}
	return nil
}

func (r *RedisRegistry) Resolve(ctx context.Context, userID string) (string, bool, error) {
	connID, err := r.client.Get(ctx, r.userKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("presence: resolve %s: %w", userID, err)
	}
	return connID, true, nil
}

func (r *RedisRegistry) Unregister(ctx context.Context, connID string) error {
	if err := unregisterScript.Run(ctx, r.client, []string{r.connKey(connID)}, r.prefix, connID).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("presence: unregister %s: %w", connID, err)
	}
	return nil
}

func (r *RedisRegistry) Count(ctx context.Context) (int, error) {
	n, err := r.client.SCard(ctx, r.prefix+":users").Result()
	if err != nil {
		return 0, fmt.Errorf("presence: count: %w", err)
	}
	return int(n), nil
}
