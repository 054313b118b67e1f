package usecase

import (
	"context"
	"sync"

	"github.com/bwmarrin/snowflake"
)

// VideoLocker serializes work on a single video across concurrent requests.
type VideoLocker interface {
	Lock(ctx context.Context, videoID snowflake.ID) (unlock func(), err error)
}

// LocalVideoLocker is a keyed mutex for single-instance deployments. Entries
// are reference counted and dropped once nobody holds or waits for them.
type LocalVideoLocker struct {
	mu    sync.Mutex
	locks map[snowflake.ID]*videoLock
}

type videoLock struct {
	ch   chan struct{}
	refs int
}

func NewLocalVideoLocker() *LocalVideoLocker {
	return &LocalVideoLocker{locks: make(map[snowflake.ID]*videoLock)}
}

func (l *LocalVideoLocker) Lock(ctx context.Context, videoID snowflake.ID) (func(), error) {
	l.mu.Lock()
	lk, ok := l.locks[videoID]
	if !ok {
		lk = &videoLock{ch: make(chan struct{}, 1)}
		l.locks[videoID] = lk
	}
	lk.refs++
	l.mu.Unlock()

	select {
	case lk.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(videoID, lk, false)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() { l.release(videoID, lk, true) })
	}, nil
}

func (l *LocalVideoLocker) release(videoID snowflake.ID, lk *videoLock, held bool) {
	if held {
		<-lk.ch
	}
	l.mu.Lock()
	lk.refs--
	if lk.refs == 0 {
		delete(l.locks, videoID)
	}
	l.mu.Unlock()
}

func (l *LocalVideoLocker) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
