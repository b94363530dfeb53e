package tracker

import (
	"context"
	"sync"
	"time"
)

// DefaultFlushInterval is how often buffered segment state is persisted.
const DefaultFlushInterval = 10 * time.Second

// DefaultSnapshotInterval is the least time between snapshots taken on accepted fixes.
const DefaultSnapshotInterval = 2 * time.Second

// Flusher calls fn on a fixed interval until stopped.
type Flusher struct {
	interval time.Duration
	fn       func(ctx context.Context)

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// StartFlusher launches the flush loop.
func StartFlusher(interval time.Duration, fn func(ctx context.Context)) *Flusher {
	if interval <= 0 {
		interval = DefaultFlushInterval
	}
	f := &Flusher{
		interval: interval,
		fn:       fn,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go f.loop()
	return f
}

func (f *Flusher) loop() {
	defer close(f.done)

	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), f.interval)
			f.fn(ctx)
			cancel()
		case <-f.stop:
			return
		}
	}
}

// Cancel ends the loop without waiting. A flush already running completes on its own.
func (f *Flusher) Cancel() {
	f.stopOnce.Do(func() { close(f.stop) })
}

// Stop ends the loop and waits for an in-flight flush to return.
func (f *Flusher) Stop() {
	f.Cancel()
	<-f.done
}

// Done is closed once the loop has exited.
func (f *Flusher) Done() <-chan struct{} {
	return f.done
}
