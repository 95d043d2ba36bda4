/*
purge.go - Background purge of expired revocation rows

PURPOSE:
  Periodically deletes revocation rows whose tokens have expired anyway.
  Revocation only needs to outlive the token, so the table stays bounded
  by the number of signouts within one token TTL.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Runs once immediately on start, then on every tick
  - Stop blocks until the goroutine has exited

USAGE:
  scheduler := auth.NewPurgeScheduler(store)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - store/sqlite: PurgeExpiredTokens implementation
*/
package auth

import (
	"context"
	"log"
	"sync"
	"time"
)

// TokenPurger deletes expired revocation rows and reports how many went.
type TokenPurger interface {
	PurgeExpiredTokens(ctx context.Context, now time.Time) (int64, error)
}

// PurgeScheduler periodically purges expired revocation rows.
type PurgeScheduler struct {
	Purger        TokenPurger
	CheckInterval time.Duration

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewPurgeScheduler creates a scheduler with an hourly check interval.
func NewPurgeScheduler(purger TokenPurger) *PurgeScheduler {
	return &PurgeScheduler{
		Purger:        purger,
		CheckInterval: 1 * time.Hour,
		stop:          make(chan struct{}),
	}
}

// Start begins the scheduler.
func (ps *PurgeScheduler) Start() {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	ps.ticker = time.NewTicker(ps.CheckInterval)
	ps.wg.Add(1)

	go ps.run()

	log.Printf("[Purge] Started with check interval: %v", ps.CheckInterval)
}

// Stop stops the scheduler and waits for the current run to finish.
func (ps *PurgeScheduler) Stop() {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	if ps.ticker != nil {
		ps.ticker.Stop()
		close(ps.stop)
		ps.wg.Wait()
		log.Println("[Purge] Stopped")
	}
}

func (ps *PurgeScheduler) run() {
	defer ps.wg.Done()

	// Run immediately on start
	ps.purge()

	for {
		select {
		case <-ps.ticker.C:
			ps.purge()
		case <-ps.stop:
			return
		}
	}
}

func (ps *PurgeScheduler) purge() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	n, err := ps.Purger.PurgeExpiredTokens(ctx, time.Now())
	if err != nil {
		log.Printf("[Purge] Failed to purge expired tokens: %v", err)
		return
	}
	if n > 0 {
		log.Printf("[Purge] Removed %d expired revocation rows", n)
	}
}

// RunNow triggers an immediate purge (for testing/admin).
func (ps *PurgeScheduler) RunNow() {
	ps.purge()
}
