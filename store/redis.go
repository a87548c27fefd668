package store

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisConfig configures a RedisStore.
type RedisConfig struct {
	Host string
	Port uint16
	// Username and Password are optional; empty means not sent.
	Username string
	Password string
	DB       int
	// DefaultTTL applies to string and raw writes made with NoTTL.
	DefaultTTL TTL
	// KeyPrefix is prepended to every key, before the shape prefix.
	KeyPrefix   string
	DialTimeout time.Duration
	Logger      *zap.Logger
}

// RedisStore implements Storage against a Redis server. Shapes live under
// separate key prefixes; counters are stored as decimal text.
type RedisStore struct {
	client     *redis.Client
	prefix     string
	defaultTTL TTL
	logger     *zap.Logger
}

const (
	stringSpace  = "str:"
	rawSpace     = "raw:"
	counterSpace = "ctr:"
)

// storeScript sets a key and reports whether it existed, atomically.
// ARGV[2] is the TTL in seconds, or -1 for none. A TTL of 0 removes the key.
var storeScript = redis.NewScript(`
local existed = redis.call('EXISTS', KEYS[1])
local ttl = tonumber(ARGV[2])
if ttl < 0 then
	redis.call('SET', KEYS[1], ARGV[1])
elseif ttl == 0 then
	redis.call('DEL', KEYS[1])
else
	redis.call('SET', KEYS[1], ARGV[1], 'EX', ARGV[2])
end
return existed
`)

// incrementScript returns the counter text before INCRBY, or nil without
// touching a missing key.
var incrementScript = redis.NewScript(`
local before = redis.call('GET', KEYS[1])
if not before then
	return false
end
if not string.match(before, '^-?%d+$') then
	return {err = 'ERR value is not an integer'}
end
redis.call('INCRBY', KEYS[1], ARGV[1])
return before
`)

// Longer expiries are clamped so servers and clients that convert them to
// nanoseconds do not overflow.
const maxRedisTTL = 1 << 32

// NewRedisStore connects and waits for the server to answer PING.
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	port := cfg.Port
	if port == 0 {
		port = 6379
	}
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(int(port)))

	client := redis.NewClient(&redis.Options{
		Addr:        addr,
		Username:    cfg.Username,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: cfg.DialTimeout,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, connectionFailure("connect", addr, err)
	}
	logger.Info("connected to redis", zap.String("addr", addr), zap.Int("db", cfg.DB))

	return &RedisStore{
		client:     client,
		prefix:     cfg.KeyPrefix,
		defaultTTL: cfg.DefaultTTL,
		logger:     logger,
	}, nil
}

func (r *RedisStore) key(space, key string) string {
	return r.prefix + space + key
}

func redisTTLArg(ttl TTL) int64 {
	secs, ok := ttl.Get()
	if !ok {
		return -1
	}
	if secs > maxRedisTTL {
		return maxRedisTTL
	}
	return int64(secs)
}

func (r *RedisStore) set(ctx context.Context, op, space, key string, value any, ttl TTL) (StoreState, error) {
	if err := checkKey(op, key); err != nil {
		return StateNew, err
	}
	existed, err := storeScript.Run(ctx, r.client, []string{r.key(space, key)}, value, redisTTLArg(ttl)).Int64()
	if err != nil {
		return StateNew, connectionFailure(op, key, err)
	}
	return stateOf(existed == 1), nil
}

func (r *RedisStore) get(ctx context.Context, op, space, key string) ([]byte, bool, error) {
	if err := checkKey(op, key); err != nil {
		return nil, false, err
	}
	data, err := r.client.Get(ctx, r.key(space, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, connectionFailure(op, key, err)
	}
	return data, true, nil
}

func (r *RedisStore) del(ctx context.Context, op, space, key string) error {
	if err := checkKey(op, key); err != nil {
		return err
	}
	if err := r.client.Del(ctx, r.key(space, key)).Err(); err != nil {
		return connectionFailure(op, key, err)
	}
	return nil
}

func (r *RedisStore) StoreStringWithExpiry(ctx context.Context, key, value string, ttl TTL) (StoreState, error) {
	return r.set(ctx, OpStoreString, stringSpace, key, value, ttl.Or(r.defaultTTL))
}

func (r *RedisStore) StoreString(ctx context.Context, key, value string) (StoreState, error) {
	return r.StoreStringWithExpiry(ctx, key, value, NoTTL)
}

func (r *RedisStore) LoadString(ctx context.Context, key string) (string, bool, error) {
	data, ok, err := r.get(ctx, OpLoadString, stringSpace, key)
	return string(data), ok, err
}

func (r *RedisStore) DeleteString(ctx context.Context, key string) error {
	return r.del(ctx, OpDeleteString, stringSpace, key)
}

func (r *RedisStore) StoreRawWithExpiry(ctx context.Context, key string, value []byte, ttl TTL) (StoreState, error) {
	return r.set(ctx, OpStoreRaw, rawSpace, key, value, ttl.Or(r.defaultTTL))
}

func (r *RedisStore) StoreRaw(ctx context.Context, key string, value []byte) (StoreState, error) {
	return r.StoreRawWithExpiry(ctx, key, value, NoTTL)
}

func (r *RedisStore) LoadRaw(ctx context.Context, key string) ([]byte, bool, error) {
	return r.get(ctx, OpLoadRaw, rawSpace, key)
}

func (r *RedisStore) DeleteRaw(ctx context.Context, key string) error {
	return r.del(ctx, OpDeleteRaw, rawSpace, key)
}

func (r *RedisStore) AtomicStore(ctx context.Context, key string, value int64) (StoreState, error) {
	return r.set(ctx, OpAtomicStore, counterSpace, key, strconv.FormatInt(value, 10), NoTTL)
}

func (r *RedisStore) AtomicLoad(ctx context.Context, key string) (int64, bool, error) {
	data, ok, err := r.get(ctx, OpAtomicLoad, counterSpace, key)
	if err != nil || !ok {
		return 0, false, err
	}
	n, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return 0, false, deserializationFailure(OpAtomicLoad, key, err)
	}
	return n, true, nil
}

func (r *RedisStore) AtomicDelete(ctx context.Context, key string) error {
	return r.del(ctx, OpAtomicDelete, counterSpace, key)
}

func (r *RedisStore) AtomicIncrement(ctx context.Context, key string, delta int64) (int64, bool, error) {
	if err := checkKey(OpAtomicIncrement, key); err != nil {
		return 0, false, err
	}
	before, err := incrementScript.Run(ctx, r.client, []string{r.key(counterSpace, key)}, delta).Text()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		if strings.Contains(err.Error(), "not an integer") {
			return 0, false, deserializationFailure(OpAtomicIncrement, key, err)
		}
		return 0, false, connectionFailure(OpAtomicIncrement, key, err)
	}
	n, err := strconv.ParseInt(before, 10, 64)
	if err != nil {
		return 0, false, deserializationFailure(OpAtomicIncrement, key, fmt.Errorf("stored %q: %w", before, err))
	}
	return n, true, nil
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}
