package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var acquireScript = redis.NewScript(`
local current = redis.call('GET', KEYS[1])
if current == false or current == ARGV[1] then
	redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
	return 1
end
return 0
`)

var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

// Lease аренда синхронизации в Redis для клиентов на разных машинах
// или с разными локальными базами
type Lease struct {
	client *redis.Client
	prefix string
	name   string
}

// NewLease подключается по URL вида redis://host:port/db
func NewLease(redisURL, name string) (*Lease, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewLeaseWithClient(client, name), nil
}

func NewLeaseWithClient(client *redis.Client, name string) *Lease {
	return &Lease{
		client: client,
		prefix: "fieldsync:lease:",
		name:   name,
	}
}

func (l *Lease) key() string {
	return l.prefix + l.name
}

// Acquire берет свободную аренду или продлевает свою
func (l *Lease) Acquire(ctx context.Context, owner string, ttl time.Duration) (bool, error) {
	n, err := acquireScript.Run(ctx, l.client, []string{l.key()}, owner, ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("acquire lease %s: %w", l.name, err)
	}
	return n == 1, nil
}

// Release снимает аренду, только если ею владеет owner
func (l *Lease) Release(ctx context.Context, owner string) error {
	if err := releaseScript.Run(ctx, l.client, []string{l.key()}, owner).Err(); err != nil {
		return fmt.Errorf("release lease %s: %w", l.name, err)
	}
	return nil
}

func (l *Lease) Close() error {
	return l.client.Close()
}
