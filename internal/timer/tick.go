package timer

import "time"

// tickSource is the cancellable 1-second tick handle owned by its Timer.
type tickSource struct {
	stop chan struct{}
	done chan struct{}
}

// startTick arms the periodic tick. Guarded by the running flag in Start, so
// a second source can never stack on top of an active one.
func (t *Timer) startTick() {
	if t.tick != nil {
		return
	}
	src := &tickSource{
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	t.tick = src

	ticker := t.clock.NewTicker(time.Second)
	go func() {
		defer close(src.done)
		defer ticker.Stop()
		for {
			select {
			case <-src.stop:
				return
			default:
			}
			select {
			case <-ticker.Chan():
				// Non-blocking: if the engine loop is busy, the next
				// tick supersedes this one anyway.
				select {
				case t.ticks <- t.id:
				default:
				}
			case <-src.stop:
				return
			}
		}
	}()
}

// stopTick cancels the tick source and waits for it to wind down, so no new
// tick is emitted once this returns. A tick already queued on the engine
// loop simply resolves against current registry contents.
func (t *Timer) stopTick() {
	if t.tick == nil {
		return
	}
	close(t.tick.stop)
	<-t.tick.done
	t.tick = nil
}
