package channel

import (
	"sync"

	"github.com/btcsuite/bsd/bserr"
)

// strand is a single-consumer task queue: every read, write, and
// protocol-state mutation for one channel runs through its strand, so
// a channel's handler code never needs its own locking. This is the
// same shape as the read/write/queue handler triad a peer connection
// uses to serialize outgoing message sends against concurrent callers,
// generalized here to arbitrary closures instead of just wire
// messages.
type strand struct {
	tasks chan func()
	quit  chan struct{}
	once  sync.Once
	wg    sync.WaitGroup
}

func newStrand() *strand {
	s := &strand{
		tasks: make(chan func(), 64),
		quit:  make(chan struct{}),
	}
	s.wg.Add(1)
	go s.run()
	return s
}

func (s *strand) run() {
	defer s.wg.Done()
	for {
		select {
		case fn := <-s.tasks:
			fn()
		case <-s.quit:
			// Drain whatever was already queued before exiting, so a
			// task enqueued just before Stop still runs.
			for {
				select {
				case fn := <-s.tasks:
					fn()
				default:
					return
				}
			}
		}
	}
}

// Execute enqueues fn to run on the strand goroutine, returning
// bserr.KindChannelStopped if the strand has already been stopped.
func (s *strand) Execute(fn func()) error {
	select {
	case <-s.quit:
		return bserr.New(bserr.KindChannelStopped, "strand stopped")
	default:
	}
	select {
	case s.tasks <- fn:
		return nil
	case <-s.quit:
		return bserr.New(bserr.KindChannelStopped, "strand stopped")
	}
}

// Stop halts the strand after draining its pending queue.
func (s *strand) Stop() {
	s.once.Do(func() {
		close(s.quit)
	})
	s.wg.Wait()
}
