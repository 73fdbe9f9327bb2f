package ledger

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

// ErrLeaseHeld means another delivery currently owns the order.
var ErrLeaseHeld = errors.New("order lease held by another delivery")

// Locker grants short per-key leases. Acquire never blocks waiting for a
// holder; it fails with ErrLeaseHeld instead.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), err error)
}

// NopLocker grants every lease.
type NopLocker struct{}

func (NopLocker) Acquire(context.Context, string, time.Duration) (func(), error) {
	return func() {}, nil
}

// MemoryLocker leases keys within one process.
type MemoryLocker struct {
	mu     sync.Mutex
	leases map[string]memLease
	now    func() time.Time
}

type memLease struct {
	token   string
	expires time.Time
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{leases: map[string]memLease{}, now: time.Now}
}

func (m *MemoryLocker) Acquire(_ context.Context, key string, ttl time.Duration) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if l, ok := m.leases[key]; ok && now.Before(l.expires) {
		return nil, ErrLeaseHeld
	}
	tok := uuid.NewString()
	m.leases[key] = memLease{token: tok, expires: now.Add(ttl)}
	return func() {
		m.mu.Lock()
		if l, ok := m.leases[key]; ok && l.token == tok {
			delete(m.leases, key)
		}
		m.mu.Unlock()
	}, nil
}

// RedisLocker leases keys with SET NX PX so that several replicas share them.
type RedisLocker struct {
	rdb    redis.UniversalClient
	prefix string
}

var releaseScript = redis.NewScript(`if redis.call("get", KEYS[1]) == ARGV[1] then return redis.call("del", KEYS[1]) else return 0 end`)

func NewRedisLocker(rdb redis.UniversalClient) *RedisLocker {
	return &RedisLocker{rdb: rdb, prefix: "orderbridge:lease:"}
}

// NewRedisLockerFromURL parses a redis:// URL.
func NewRedisLockerFromURL(url string) (*RedisLocker, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return NewRedisLocker(redis.NewClient(opt)), nil
}

func (r *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	tok := uuid.NewString()
	k := r.prefix + key
	ok, err := r.rdb.SetNX(ctx, k, tok, ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrLeaseHeld
	}
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = releaseScript.Run(ctx, r.rdb, []string{k}, tok).Err()
	}, nil
}
