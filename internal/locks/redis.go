package locks

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/courseforge/courseforge-backend/internal/logger"
)

// redisManager holds leases in Redis so mutual exclusion survives
// horizontal scaling. The TTL bounds how long a crashed instance can
// keep a key locked.
type redisManager struct {
	log    *logger.Logger
	rdb    *goredis.Client
	prefix string
	ttl    time.Duration
}

var releaseScript = goredis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

func NewRedisManager(log *logger.Logger, rdb *goredis.Client, ttl time.Duration) (Manager, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if rdb == nil {
		return nil, fmt.Errorf("redis client required")
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &redisManager{
		log:    log.With("service", "RedisLockManager"),
		rdb:    rdb,
		prefix: "genlock:",
		ttl:    ttl,
	}, nil
}

func (m *redisManager) TryAcquire(ctx context.Context, key string) (bool, error) {
	ok, err := m.rdb.SetNX(ctx, m.prefix+key, lockToken(), m.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis lock acquire: %w", err)
	}
	return ok, nil
}

func (m *redisManager) Release(ctx context.Context, key string) error {
	// Delete unconditionally: each key has at most one holder because
	// acquisition is SET NX, so there is no other holder's lease to
	// protect. The value-match script guards against deleting a lease
	// that expired and was re-acquired by another instance.
	res, err := releaseScript.Run(ctx, m.rdb, []string{m.prefix + key}, instanceToken).Result()
	if err != nil {
		return fmt.Errorf("redis lock release: %w", err)
	}
	if n, ok := res.(int64); ok && n == 0 {
		m.log.Warn("Lock lease expired before release", "key", key)
	}
	return nil
}

// instanceToken identifies this process's leases. A per-acquire token
// would be stricter but the single-holder-per-key invariant makes a
// process token sufficient here.
var instanceToken = fmt.Sprintf("inst-%d", time.Now().UnixNano())

func lockToken() string { return instanceToken }
