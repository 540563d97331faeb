package game

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// stepClock advances instantly on Sleep
type stepClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *stepClock) Sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
	return ctx.Err()
}

func waitDone(t *testing.T, l *GameLoop) {
	t.Helper()
	select {
	case <-l.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("game loop did not stop")
	}
}

func TestGameLoopTicksPerSecond(t *testing.T) {
	clk := &stepClock{t: time.Unix(0, 0)}
	start := clk.Now()

	var (
		loop  *GameLoop
		ticks int
	)
	loop = NewGameLoop(func(int64) {
		if clk.Now().Sub(start) < time.Second {
			ticks++
			return
		}
		loop.Stop()
	}, 60, WithLoopClock(clk))

	if !loop.Start() {
		t.Fatal("start should succeed")
	}
	waitDone(t, loop)

	if ticks < 59 || ticks > 61 {
		t.Errorf("expected ~60 ticks in one second, got %d", ticks)
	}
	if loop.Running() {
		t.Error("loop should not be running after Stop")
	}
}

func TestGameLoopStartIdempotent(t *testing.T) {
	var n atomic.Int64
	loop := NewGameLoop(func(int64) { n.Add(1) }, 1000)
	if !loop.Start() {
		t.Fatal("first start should succeed")
	}
	if loop.Start() {
		t.Error("second start should be a no-op")
	}
	loop.Stop()
	loop.Stop()
	waitDone(t, loop)

	// restart after stop
	if !loop.Start() {
		t.Fatal("restart should succeed")
	}
	loop.Stop()
	waitDone(t, loop)
}

func TestGameLoopRestartWaitsForTickInProgress(t *testing.T) {
	var active, maxActive atomic.Int64
	entered := make(chan struct{})
	release := make(chan struct{})

	loop := NewGameLoop(func(tick int64) {
		n := active.Add(1)
		defer active.Add(-1)
		for {
			m := maxActive.Load()
			if n <= m || maxActive.CompareAndSwap(m, n) {
				break
			}
		}
		if tick == 1 {
			close(entered)
			<-release
		}
	}, 1000)

	loop.Start()
	<-entered
	loop.Stop()
	if loop.Start() {
		t.Error("start must fail while the stopped run is still inside a tick")
	}
	if !loop.Running() {
		t.Error("loop should report running until the tick in progress returns")
	}

	close(release)
	waitDone(t, loop)
	if loop.Running() {
		t.Error("loop should not be running after its goroutine exited")
	}

	if !loop.Start() {
		t.Fatal("restart after exit should succeed")
	}
	time.Sleep(20 * time.Millisecond)
	loop.Stop()
	waitDone(t, loop)

	if m := maxActive.Load(); m != 1 {
		t.Errorf("handler ran %d times concurrently", m)
	}
}

func TestGameLoopTickNumbersIncrease(t *testing.T) {
	var (
		mu   sync.Mutex
		seen []int64
	)
	clk := &stepClock{t: time.Unix(0, 0)}
	var loop *GameLoop
	loop = NewGameLoop(func(tick int64) {
		mu.Lock()
		seen = append(seen, tick)
		mu.Unlock()
		if tick == 10 {
			loop.Stop()
		}
	}, 60, WithLoopClock(clk))
	loop.Start()
	waitDone(t, loop)

	if len(seen) != 10 {
		t.Fatalf("expected 10 ticks, got %d", len(seen))
	}
	for i, tick := range seen {
		if tick != int64(i+1) {
			t.Errorf("tick %d: got %d", i, tick)
		}
	}
	if loop.CurrentTick() != 10 {
		t.Errorf("expected current tick 10, got %d", loop.CurrentTick())
	}
}

func TestGameLoopStopFromOtherGoroutine(t *testing.T) {
	var n atomic.Int64
	loop := NewGameLoop(func(int64) { n.Add(1) }, 200)
	loop.Start()
	time.Sleep(50 * time.Millisecond)
	go loop.Stop()
	waitDone(t, loop)
	if n.Load() == 0 {
		t.Error("loop should have ticked before stopping")
	}
}

func TestGameLoopDefaults(t *testing.T) {
	loop := NewGameLoop(func(int64) {}, 0)
	if loop.Interval() != time.Second/DefaultTickRate {
		t.Errorf("unexpected interval %s", loop.Interval())
	}
	select {
	case <-loop.Done():
	default:
		t.Error("Done of a never-started loop should be closed")
	}
}
