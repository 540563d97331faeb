package game

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

const DefaultTickRate = 60 // ticks per second

// TickFunc is invoked once per tick with a monotonically increasing tick number
type TickFunc func(tick int64)

// Clock is the time source of the loop
type Clock interface {
	Now() time.Time
	// Sleep blocks for d or until ctx is done, returning ctx.Err() in the latter case
	Sleep(ctx context.Context, d time.Duration) error
}

// SystemClock uses the monotonic wall clock
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

func (SystemClock) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// GameLoop calls its handler at a fixed rate. Each cycle sleeps for whatever is left
// of the interval after the handler returns; overruns start the next cycle at once
// without catching up.
type GameLoop struct {
	handler  TickFunc
	tickRate int
	interval time.Duration
	clock    Clock

	mu      sync.Mutex
	running atomic.Bool
	tick    atomic.Int64
	cancel  context.CancelFunc
	done    chan struct{}
}

// LoopOption customises a GameLoop
type LoopOption func(*GameLoop)

// WithLoopClock replaces the system clock
func WithLoopClock(c Clock) LoopOption {
	return func(l *GameLoop) { l.clock = c }
}

// NewGameLoop creates a stopped loop. tickRate <= 0 means DefaultTickRate.
func NewGameLoop(handler TickFunc, tickRate int, opts ...LoopOption) *GameLoop {
	if tickRate <= 0 {
		tickRate = DefaultTickRate
	}
	l := &GameLoop{
		handler:  handler,
		tickRate: tickRate,
		interval: time.Second / time.Duration(tickRate),
		clock:    SystemClock{},
		done:     make(chan struct{}),
	}
	close(l.done)
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Interval returns the target time between tick starts
func (l *GameLoop) Interval() time.Duration { return l.interval }

// Start launches the loop goroutine. Returns false while a previous run has not
// exited yet, so at most one goroutine ever calls the handler.
func (l *GameLoop) Start() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running.Load() {
		return false
	}
	ctx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel
	l.done = make(chan struct{})
	l.running.Store(true)

	log.Printf("game loop started (tickRate=%d, interval=%s)", l.tickRate, l.interval)
	go l.run(ctx, l.done)
	return true
}

// Stop cancels the loop. Safe from any goroutine, including the tick handler;
// a tick in progress always runs to completion. Running reports true until it has.
func (l *GameLoop) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cancel != nil {
		l.cancel()
	}
}

// Done is closed once the loop goroutine has exited
func (l *GameLoop) Done() <-chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.done
}

func (l *GameLoop) Running() bool { return l.running.Load() }

func (l *GameLoop) CurrentTick() int64 { return l.tick.Load() }

func (l *GameLoop) run(ctx context.Context, done chan struct{}) {
	defer func() {
		log.Printf("game loop stopped (total ticks: %d)", l.tick.Load())
		l.running.Store(false)
		close(done)
	}()

	for ctx.Err() == nil {
		start := l.clock.Now()
		l.handler(l.tick.Add(1))

		wait := l.interval - l.clock.Now().Sub(start)
		if wait <= 0 {
			continue
		}
		if err := l.clock.Sleep(ctx, wait); err != nil {
			return
		}
	}
}
