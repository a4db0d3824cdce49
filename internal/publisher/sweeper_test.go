package publisher

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fjod/storefront/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweeper_PassesThreshold(t *testing.T) {
	r := &MockRecoverer{Recovered: 2}
	s := NewSweeper(r, 10*time.Minute, logger.Discard())

	s.sweep(context.Background())

	assert.Equal(t, 1, r.calls())
	assert.Equal(t, 10*time.Minute, r.OlderThan)
	assert.Equal(t, 5*time.Minute, s.tick)
}

func TestSweeper_ErrorDoesNotStopRun(t *testing.T) {
	r := &MockRecoverer{Err: errors.New("database connection error")}
	s := NewSweeper(r, time.Minute, logger.Discard())
	s.tick = 10 * time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return r.calls() >= 2 }, 5*time.Second, 50*time.Millisecond)
	cancel()
	<-done
}
