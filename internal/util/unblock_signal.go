package util

import "sync"

// UnblockSignal lets one goroutine wait until another one calls Trigger.
// Only the first trigger counts.
type UnblockSignal struct {
	once sync.Once
	err  error
	done chan struct{}
}

func NewUnblockSignal() *UnblockSignal {
	return &UnblockSignal{done: make(chan struct{})}
}

func (s *UnblockSignal) Trigger() {
	s.TriggerWithError(nil)
}

func (s *UnblockSignal) TriggerWithError(err error) {
	s.once.Do(func() {
		s.err = err
		close(s.done)
	})
}

func (s *UnblockSignal) Wait() error {
	<-s.done
	return s.err
}

func (s *UnblockSignal) Done() <-chan struct{} {
	return s.done
}

// Err is only meaningful after Done is closed.
func (s *UnblockSignal) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}
