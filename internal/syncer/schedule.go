package syncer

import (
	"sync"
	"time"
)

// schedule owns one goroutine per sync type: an initial staggered delay,
// one immediate run, then a steady ticker. stop tears all of them down
// and waits until they exit.
type schedule struct {
	stopCh chan struct{}
	wg     sync.WaitGroup
}

func newSchedule() *schedule {
	return &schedule{stopCh: make(chan struct{})}
}

func (s *schedule) run(delay, interval time.Duration, fn func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-s.stopCh:
			return
		case <-timer.C:
		}
		fn()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.stopCh:
				return
			case <-ticker.C:
				fn()
			}
		}
	}()
}

func (s *schedule) stop() {
	close(s.stopCh)
	s.wg.Wait()
}
