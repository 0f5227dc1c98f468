/*
scheduler.go - Idle session sweeper

PURPOSE:
  Editing sessions live in memory. The sweeper periodically closes sessions
  that have not been touched for IdleTimeout, discarding their unsaved
  edits, so abandoned editors do not hold memory forever.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - A session's clock resets on every request that resolves it
  - Closing waits for the session's in-flight service-area lookups

CONFIGURATION:
  - CheckInterval: How often to check (default: 5 minutes)
  - IdleTimeout:   How long a session may sit unused (default: 1 hour)
  - Enabled:       Whether the sweeper is active (default: true)

USAGE:
  sweeper := NewSessionSweeper(handler)
  sweeper.Start()
  // ... later
  sweeper.Stop()

SEE ALSO:
  - handlers.go: OpenSession / CloseSession
*/
package api

import (
	"log"
	"sync"
	"time"
)

// SessionSweeper closes idle editing sessions.
type SessionSweeper struct {
	Handler       *Handler
	CheckInterval time.Duration
	IdleTimeout   time.Duration
	Enabled       bool

	now    func() time.Time
	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewSessionSweeper creates a new sweeper.
func NewSessionSweeper(handler *Handler) *SessionSweeper {
	return &SessionSweeper{
		Handler:       handler,
		CheckInterval: 5 * time.Minute,
		IdleTimeout:   time.Hour,
		Enabled:       true,
		now:           time.Now,
	}
}

// Start begins the sweeper.
func (ss *SessionSweeper) Start() {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	if !ss.Enabled {
		log.Println("[Sweeper] Disabled, not starting")
		return
	}
	if ss.ticker != nil {
		return
	}

	ss.ticker = time.NewTicker(ss.CheckInterval)
	ss.stop = make(chan struct{})
	ss.wg.Add(1)

	go ss.run()

	log.Printf("[Sweeper] Started with check interval %v, idle timeout %v", ss.CheckInterval, ss.IdleTimeout)
}

// Stop stops the sweeper.
func (ss *SessionSweeper) Stop() {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	if ss.ticker != nil {
		ss.ticker.Stop()
		close(ss.stop)
		ss.wg.Wait()
		ss.ticker = nil
		log.Println("[Sweeper] Stopped")
	}
}

func (ss *SessionSweeper) run() {
	defer ss.wg.Done()

	for {
		select {
		case <-ss.ticker.C:
			ss.RunNow()
		case <-ss.stop:
			return
		}
	}
}

// RunNow closes every session idle longer than IdleTimeout.
func (ss *SessionSweeper) RunNow() int {
	closed := ss.Handler.closeIdle(ss.now().Add(-ss.IdleTimeout))
	if closed > 0 {
		log.Printf("[Sweeper] Closed %d idle session(s)", closed)
	}
	return closed
}
