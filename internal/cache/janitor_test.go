package cache

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingSweeper struct{ n atomic.Int32 }

func (s *countingSweeper) Sweep() int {
	s.n.Add(1)
	return 0
}

func TestJanitor_RunOnceSweepsExpired(t *testing.T) {
	c, clock := newTestCache(t, 4, time.Minute)
	require.NoError(t, c.Put(context.Background(), "k", []string{"a"}))
	clock.Advance(2 * time.Minute)

	j, err := NewJanitor(c, time.Minute)
	require.NoError(t, err)
	j.RunOnce()

	assert.Equal(t, 0, c.Len())
}

func TestJanitor_RunsOnSchedule(t *testing.T) {
	// Given: a janitor on the shortest cron interval
	s := &countingSweeper{}
	j, err := NewJanitor(s, time.Second)
	require.NoError(t, err)

	// When: started
	j.Start()
	defer j.Stop(context.Background())

	// Then: the sweeper is called without any manual trigger
	assert.Eventually(t, func() bool { return s.n.Load() > 0 }, 5*time.Second, 50*time.Millisecond)
}

func TestNewJanitor_RejectsNonPositiveInterval(t *testing.T) {
	_, err := NewJanitor(&countingSweeper{}, 0)
	assert.Error(t, err)
}
