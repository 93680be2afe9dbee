package redislock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultPrefix = "charassets:lock:"
	defaultTTL    = 2 * time.Hour
	defaultKick   = 30 * time.Second
)

// ErrHeld is returned when another run owns the lock.
var ErrHeld = errors.New("lock held by another run")

var errNotInitialized = errors.New("redis lock not initialized")

// Client hands out SET NX PX locks released/refreshed through Lua compare-and-act
// scripts. It serializes pipeline runs that share a bucket but not a machine.
type Client struct {
	rdb    *redis.Client
	prefix string
}

func New(rdb *redis.Client, prefix string) *Client {
	return &Client{rdb: rdb, prefix: strings.TrimSpace(prefix)}
}

func (c *Client) Key(name string) string {
	name = strings.TrimSpace(name)
	if c == nil {
		return name
	}
	if c.prefix == "" {
		return defaultPrefix + name
	}
	return c.prefix + name
}

// Token returns a random owner token.
func Token() (string, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(b[:]), nil
}

// Lock is one acquired lock. Only the holder of token can extend or drop it.
type Lock struct {
	c     *Client
	key   string
	token string
	ttl   time.Duration
}

func (l *Lock) Key() string { return l.key }

// Acquire takes name for ttl (2h when <= 0). It returns ErrHeld when the key
// already has an owner.
func (c *Client) Acquire(ctx context.Context, name string, ttl time.Duration) (*Lock, error) {
	if c == nil || c.rdb == nil {
		return nil, errNotInitialized
	}
	if strings.TrimSpace(name) == "" {
		return nil, errors.New("lock name is empty")
	}
	key := c.Key(name)
	if ttl <= 0 {
		ttl = defaultTTL
	}
	token, err := Token()
	if err != nil {
		return nil, err
	}
	ok, err := c.rdb.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrHeld
	}
	return &Lock{c: c, key: key, token: token, ttl: ttl}, nil
}

// KEYS[1] lock key, ARGV[1] owner token, ARGV[2] new ttl in ms.
var refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// Refresh pushes the expiry out by the lock's ttl. false means the lock was
// lost (expired and possibly taken by another run).
func (l *Lock) Refresh(ctx context.Context) (bool, error) {
	if l == nil || l.c == nil || l.c.rdb == nil {
		return false, errNotInitialized
	}
	n, err := refreshScript.Run(ctx, l.c.rdb, []string{l.key}, l.token, l.ttl.Milliseconds()).Int64()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Release drops the lock if it is still ours.
func (l *Lock) Release(ctx context.Context) (bool, error) {
	if l == nil || l.c == nil || l.c.rdb == nil {
		return false, errNotInitialized
	}
	n, err := releaseScript.Run(ctx, l.c.rdb, []string{l.key}, l.token).Int64()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Hold acquires name and refreshes it every kick until the returned release
// func is called or ctx ends.
func (c *Client) Hold(ctx context.Context, name string, ttl, kick time.Duration) (func(), error) {
	lock, err := c.Acquire(ctx, name, ttl)
	if err != nil {
		return nil, err
	}
	if kick <= 0 {
		kick = defaultKick
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		t := time.NewTicker(kick)
		defer t.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				return
			case <-t.C:
				ok, err := lock.Refresh(context.Background())
				if err != nil {
					slog.Warn("lock refresh failed", "key", lock.key, "err", err)
				} else if !ok {
					slog.Error("lock lost", "key", lock.key)
				}
			}
		}
	}()

	return func() {
		close(stop)
		<-done
		rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, _ = lock.Release(rctx)
	}, nil
}
