package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
)

// RedisShiftLocker serializes shift closes across server instances with a
// redis lock keyed per shift.
type RedisShiftLocker struct {
	client *redislock.Client
	ttl    time.Duration
}

func NewRedisShiftLocker(client *redislock.Client) *RedisShiftLocker {
	return &RedisShiftLocker{client: client, ttl: 30 * time.Second}
}

func (l *RedisShiftLocker) WithShiftLock(ctx context.Context, shiftId int, fn func(ctx context.Context) error) error {
	key := fmt.Sprintf("shift-close:%d", shiftId)
	lock, err := l.client.Obtain(ctx, key, l.ttl, &redislock.Options{
		RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(200*time.Millisecond), 10),
	})
	if err != nil {
		if errors.Is(err, redislock.ErrNotObtained) {
			return ErrShiftCloseContended
		}
		return err
	}
	defer lock.Release(context.Background())
	return fn(ctx)
}
