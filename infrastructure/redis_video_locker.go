package infrastructure

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const lockReleaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

const (
	defaultVideoLockTTL  = 30 * time.Second
	defaultVideoLockPoll = 25 * time.Millisecond
)

// RedisVideoLocker serializes work on one video across service instances.
// The TTL bounds how long a crashed holder can block others.
type RedisVideoLocker struct {
	client *redis.Client
	script *redis.Script
	ttl    time.Duration
	poll   time.Duration
	log    *zap.Logger
}

func NewRedisVideoLocker(client *redis.Client, log *zap.Logger) *RedisVideoLocker {
	return &RedisVideoLocker{
		client: client,
		script: redis.NewScript(lockReleaseScript),
		ttl:    defaultVideoLockTTL,
		poll:   defaultVideoLockPoll,
		log:    log.Named("video.locker"),
	}
}

func (l *RedisVideoLocker) Lock(ctx context.Context, videoID snowflake.ID) (func(), error) {
	if l == nil || l.client == nil {
		return nil, errors.New("lock client not configured")
	}
	key := "video-lock:" + videoID.String()
	token := uuid.NewString()

	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return nil, err
		}
		if ok {
			break
		}
		timer := time.NewTimer(l.poll)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	return func() {
		// The caller's context may already be done by the time it unlocks.
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := l.script.Run(ctx, l.client, []string{key}, token).Err(); err != nil {
			l.log.Warn("failed to release video lock", zap.String("video_id", videoID.String()), zap.Error(err))
		}
	}, nil
}
