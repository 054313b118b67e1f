package usecase

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalVideoLockerSerializesSameVideo(t *testing.T) {
	l := NewLocalVideoLocker()
	ctx := context.Background()
	id := snowflake.ID(42)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		inside  int
		maxSeen int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(ctx, id)
			require.NoError(t, err)
			mu.Lock()
			inside++
			if inside > maxSeen {
				maxSeen = inside
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			inside--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxSeen)
	assert.Zero(t, l.size())
}

func TestLocalVideoLockerIndependentVideos(t *testing.T) {
	l := NewLocalVideoLocker()
	ctx := context.Background()

	unlockA, err := l.Lock(ctx, 1)
	require.NoError(t, err)
	unlockB, err := l.Lock(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, l.size())

	unlockA()
	unlockA()
	unlockB()
	assert.Zero(t, l.size())
}

func TestLocalVideoLockerHonorsContext(t *testing.T) {
	l := NewLocalVideoLocker()
	unlock, err := l.Lock(context.Background(), 7)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, 7)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	assert.Zero(t, l.size())
}
