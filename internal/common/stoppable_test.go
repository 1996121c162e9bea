package common

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubService is a Stoppable whose Stop blocks for a configured time
// and records whether it ran.
type stubService struct {
	delay   time.Duration
	err     error
	stopped bool
}

func (s *stubService) Stop(ctx context.Context) error {
	s.stopped = true
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return s.err
}

func TestStopWithTimeoutCompletes(t *testing.T) {
	svc := &stubService{}
	require.NoError(t, StopWithTimeout(svc, time.Second))
	assert.True(t, svc.stopped)
}

func TestStopWithTimeoutEnforcesDeadline(t *testing.T) {
	svc := &stubService{delay: time.Second}
	err := StopWithTimeout(svc, 20*time.Millisecond)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestStopWithTimeoutPropagatesError(t *testing.T) {
	boom := errors.New("device still held")
	svc := &stubService{err: boom}
	assert.ErrorIs(t, StopWithTimeout(svc, time.Second), boom)
}

func TestStopAllStopsEveryServiceDespiteErrors(t *testing.T) {
	boom := errors.New("first failure")
	a := &stubService{err: boom}
	b := &stubService{}
	c := &stubService{err: errors.New("second failure")}

	err := StopAll(time.Second, a, b, c)
	assert.ErrorIs(t, err, boom, "first error wins")
	assert.True(t, a.stopped)
	assert.True(t, b.stopped)
	assert.True(t, c.stopped)
}
