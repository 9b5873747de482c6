package lock

import (
	"context"
	"errors"
	"fmt"

	"github.com/vibast-solutions/ms-go-lavago-payments/config"
)

var ErrLockTimeout = errors.New("timed out waiting for lock")

// Locker serializes work on a single key. The returned release func must be
// called exactly once; extra calls are ignored.
type Locker interface {
	Lock(ctx context.Context, key string) (func(), error)
}

func PaymentKey(paymentID uint64) string {
	return fmt.Sprintf("payments:lock:%d", paymentID)
}

func NewFromConfig(cfg config.LockConfig, redisClient RedisClient) (Locker, error) {
	switch cfg.Backend {
	case config.LockBackendLocal, "":
		return NewLocalLocker(cfg.WaitTimeout), nil
	case config.LockBackendRedis:
		if redisClient == nil {
			return nil, errors.New("redis lock backend requires a redis client")
		}
		return NewRedisLocker(redisClient, cfg.TTL, cfg.WaitTimeout), nil
	default:
		return nil, fmt.Errorf("unsupported lock backend %q", cfg.Backend)
	}
}
