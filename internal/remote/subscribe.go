package remote

import (
	"context"
	"encoding/json"
	"log"
	"sync"
)

type readFunc func(ctx context.Context, path string) (json.RawMessage, error)

// subscribers fans change notifications out to subscriptions. Each
// subscription owns a goroutine that re-reads its path whenever it is
// kicked, so a burst of writes may collapse into fewer deliveries but the
// last delivery always reflects the latest committed value.
type subscribers struct {
	read   readFunc
	logger *log.Logger

	mu     sync.Mutex
	nextID int
	subs   map[int]*subscription
}

type subscription struct {
	path string
	fn   func(json.RawMessage)
	kick chan struct{}
	done chan struct{}
	once sync.Once
}

func newSubscribers(read readFunc, logger *log.Logger) *subscribers {
	return &subscribers{
		read:   read,
		logger: logger,
		subs:   make(map[int]*subscription),
	}
}

func (s *subscribers) add(path string, fn func(json.RawMessage)) func() {
	sub := &subscription{
		path: path,
		fn:   fn,
		kick: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	// The first delivery is the current value.
	sub.kick <- struct{}{}

	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = sub
	s.mu.Unlock()

	go s.run(sub)

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
		sub.stop()
	}
}

func (sub *subscription) stop() {
	sub.once.Do(func() { close(sub.done) })
}

func (s *subscribers) run(sub *subscription) {
	for {
		select {
		case <-sub.done:
			return
		case <-sub.kick:
		}

		value, err := s.read(context.Background(), sub.path)
		if err != nil {
			s.logger.Printf("Warning: failed to read %s for subscriber: %v", sub.path, err)
			continue
		}

		select {
		case <-sub.done:
			return
		default:
		}
		sub.fn(value)
	}
}

// notify kicks every subscription that can observe a change at path.
func (s *subscribers) notify(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sub := range s.subs {
		if !related(sub.path, path) {
			continue
		}
		select {
		case sub.kick <- struct{}{}:
		default:
		}
	}
}

func (s *subscribers) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, sub := range s.subs {
		sub.stop()
		delete(s.subs, id)
	}
}

func (s *subscribers) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}
