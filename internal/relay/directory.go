package relay

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/foundrybridge/relay/internal/logger"
)

// directoryOpTimeout bounds every directory RPC.
const directoryOpTimeout = 250 * time.Millisecond

// Directory is the cross-replica map from clientId to owning replica,
// with an API-key index. Records carry lease semantics: the TTL is
// refreshed on keep-alive and entries vanish when a replica dies.
//
// Implementations degrade gracefully: on backend failure, Instance
// returns not-found and the caller treats the local replica as
// authoritative.
type Directory interface {
	Put(ctx context.Context, clientID, apiKey string, meta SessionMeta, connectedSince time.Time, ttl time.Duration) error
	Instance(ctx context.Context, clientID string) (string, bool)
	Refresh(ctx context.Context, clientID, apiKey string, ttl time.Duration) error
	// Delete removes the record only when this replica is the current owner.
	Delete(ctx context.Context, clientID, apiKey string) error
	// KeyOwns reports whether clientID is registered under apiKey.
	KeyOwns(ctx context.Context, apiKey, clientID string) bool
	ClientsForKey(ctx context.Context, apiKey string) []string
	Meta(ctx context.Context, clientID string) map[string]string
}

// RedisDirectory stores records under the key layout
// client:{id}:instance, client:{id}:lastSeen, …, apikey:{key}:clients.
type RedisDirectory struct {
	rdb        *redis.Client
	instanceID string
}

func NewRedisDirectory(rdb *redis.Client, instanceID string) *RedisDirectory {
	return &RedisDirectory{rdb: rdb, instanceID: instanceID}
}

func clientKey(clientID, field string) string {
	return "client:" + clientID + ":" + field
}

func apiKeyClientsKey(apiKey string) string {
	return "apikey:" + apiKey + ":clients"
}

var metaFields = []string{
	"instance", "lastSeen", "connectedSince", "worldId", "worldTitle",
	"foundryVersion", "systemId", "systemTitle", "systemVersion", "customName",
}

func (d *RedisDirectory) Put(ctx context.Context, clientID, apiKey string, meta SessionMeta, connectedSince time.Time, ttl time.Duration) error {
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	pipe := d.rdb.Pipeline()
	pipe.Set(ctx, clientKey(clientID, "instance"), d.instanceID, ttl)
	pipe.Set(ctx, clientKey(clientID, "lastSeen"), now, ttl)
	pipe.Set(ctx, clientKey(clientID, "connectedSince"), strconv.FormatInt(connectedSince.UnixMilli(), 10), ttl)
	pipe.Set(ctx, clientKey(clientID, "worldId"), meta.WorldID, ttl)
	pipe.Set(ctx, clientKey(clientID, "worldTitle"), meta.WorldTitle, ttl)
	pipe.Set(ctx, clientKey(clientID, "foundryVersion"), meta.FoundryVersion, ttl)
	pipe.Set(ctx, clientKey(clientID, "systemId"), meta.SystemID, ttl)
	pipe.Set(ctx, clientKey(clientID, "systemTitle"), meta.SystemTitle, ttl)
	pipe.Set(ctx, clientKey(clientID, "systemVersion"), meta.SystemVersion, ttl)
	pipe.Set(ctx, clientKey(clientID, "customName"), meta.CustomName, ttl)
	pipe.SAdd(ctx, apiKeyClientsKey(apiKey), clientID)
	pipe.Expire(ctx, apiKeyClientsKey(apiKey), ttl)
	_, err := pipe.Exec(ctx)
	return err
}

func (d *RedisDirectory) Instance(ctx context.Context, clientID string) (string, bool) {
	val, err := d.rdb.Get(ctx, clientKey(clientID, "instance")).Result()
	if err != nil {
		if err != redis.Nil {
			logger.Debug("directory lookup failed", "clientId", clientID, "err", err)
		}
		return "", false
	}
	return val, true
}

func (d *RedisDirectory) Refresh(ctx context.Context, clientID, apiKey string, ttl time.Duration) error {
	pipe := d.rdb.Pipeline()
	for _, f := range metaFields {
		pipe.Expire(ctx, clientKey(clientID, f), ttl)
	}
	pipe.Set(ctx, clientKey(clientID, "lastSeen"), strconv.FormatInt(time.Now().UnixMilli(), 10), ttl)
	pipe.Expire(ctx, apiKeyClientsKey(apiKey), ttl)
	_, err := pipe.Exec(ctx)
	return err
}

// deleteOwnedScript removes a client's records only while the instance
// field still names the caller. The check and the deletes run as one
// script so a reconnect through another replica cannot lose its fresh
// record in between.
var deleteOwnedScript = redis.NewScript(`
if redis.call("get", KEYS[1]) ~= ARGV[1] then
	return 0
end
for i = 1, #KEYS - 1 do
	redis.call("del", KEYS[i])
end
redis.call("srem", KEYS[#KEYS], ARGV[2])
return 1
`)

func (d *RedisDirectory) Delete(ctx context.Context, clientID, apiKey string) error {
	// KEYS[1] is the instance key; metaFields lists it first.
	keys := make([]string, 0, len(metaFields)+1)
	for _, f := range metaFields {
		keys = append(keys, clientKey(clientID, f))
	}
	keys = append(keys, apiKeyClientsKey(apiKey))
	return deleteOwnedScript.Run(ctx, d.rdb, keys, d.instanceID, clientID).Err()
}

func (d *RedisDirectory) KeyOwns(ctx context.Context, apiKey, clientID string) bool {
	ok, err := d.rdb.SIsMember(ctx, apiKeyClientsKey(apiKey), clientID).Result()
	if err != nil {
		return false
	}
	return ok
}

func (d *RedisDirectory) ClientsForKey(ctx context.Context, apiKey string) []string {
	ids, err := d.rdb.SMembers(ctx, apiKeyClientsKey(apiKey)).Result()
	if err != nil {
		return nil
	}
	// Membership can outlive the per-client keys; only report live records.
	live := ids[:0]
	for _, id := range ids {
		if _, ok := d.Instance(ctx, id); ok {
			live = append(live, id)
		}
	}
	return live
}

func (d *RedisDirectory) Meta(ctx context.Context, clientID string) map[string]string {
	out := make(map[string]string, len(metaFields))
	for _, f := range metaFields {
		val, err := d.rdb.Get(ctx, clientKey(clientID, f)).Result()
		if err != nil {
			continue
		}
		out[f] = val
	}
	return out
}

// noopDirectory serves single-replica deployments: every lookup misses,
// so the local table is authoritative.
type noopDirectory struct{}

func (noopDirectory) Put(context.Context, string, string, SessionMeta, time.Time, time.Duration) error {
	return nil
}
func (noopDirectory) Instance(context.Context, string) (string, bool)           { return "", false }
func (noopDirectory) Refresh(context.Context, string, string, time.Duration) error { return nil }
func (noopDirectory) Delete(context.Context, string, string) error              { return nil }
func (noopDirectory) KeyOwns(context.Context, string, string) bool              { return false }
func (noopDirectory) ClientsForKey(context.Context, string) []string            { return nil }
func (noopDirectory) Meta(context.Context, string) map[string]string            { return nil }
