package auth_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/coin-ledger/auth"
)

type countingPurger struct {
	calls atomic.Int64
	ran   chan struct{}
}

func (p *countingPurger) PurgeExpiredTokens(context.Context, time.Time) (int64, error) {
	p.calls.Add(1)
	select {
	case p.ran <- struct{}{}:
	default:
	}
	return 1, nil
}

func TestPurgeScheduler_RunsImmediatelyAndStops(t *testing.T) {
	purger := &countingPurger{ran: make(chan struct{}, 1)}
	ps := auth.NewPurgeScheduler(purger)
	ps.CheckInterval = time.Hour // only the immediate run should fire

	ps.Start()
	select {
	case <-purger.ran:
	case <-time.After(2 * time.Second):
		t.Fatal("Scheduler should purge once immediately on start")
	}
	ps.Stop()

	require.Equal(t, int64(1), purger.calls.Load())
}

func TestPurgeScheduler_RunNow(t *testing.T) {
	purger := &countingPurger{ran: make(chan struct{}, 1)}
	ps := auth.NewPurgeScheduler(purger)

	ps.RunNow()
	ps.RunNow()
	assert.Equal(t, int64(2), purger.calls.Load())
}
