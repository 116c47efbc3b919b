package ratelimit

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

// LockNamespace prefixes every key the Locker touches.
const LockNamespace = "tillpoint:lock:"

var (
	ErrLockerUnavailable = errors.New("lock client not configured")
	ErrInvalidLock       = errors.New("invalid lock request")
)

const lockReleaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

// Locker hands out single-holder leases on named resources, such as a
// scheduler job, across every process pointed at the same redis.
type Locker struct {
	client *redis.Client
	script *redis.Script
}

// Lease is a held lock. Only the holder's token can release it; an expired
// lease that another process has since taken is left alone.
type Lease struct {
	locker *Locker
	key    string
	token  string
}

func NewLocker(client *redis.Client) *Locker {
	if client == nil {
		return nil
	}
	return &Locker{
		client: client,
		script: redis.NewScript(lockReleaseScript),
	}
}

func LockKey(resource string) string {
	return LockNamespace + strings.TrimSpace(resource)
}

// Acquire takes the lease on resource for ttl. A nil lease with a nil error
// means another holder has it.
func (l *Locker) Acquire(ctx context.Context, resource string, ttl time.Duration) (*Lease, error) {
	if l == nil || l.client == nil {
		return nil, ErrLockerUnavailable
	}
	if strings.TrimSpace(resource) == "" || ttl <= 0 {
		return nil, ErrInvalidLock
	}

	key := LockKey(resource)
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return &Lease{locker: l, key: key, token: token}, nil
}

func (l *Lease) Key() string {
	if l == nil {
		return ""
	}
	return l.key
}

func (l *Lease) Release(ctx context.Context) error {
	if l == nil || l.locker == nil || l.locker.client == nil {
		return nil
	}
	return l.locker.script.Run(ctx, l.locker.client, []string{l.key}, l.token).Err()
}
