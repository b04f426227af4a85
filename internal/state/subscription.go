package state

import (
	"context"
	"errors"
	"iter"
	"sync"
)

// ErrSubscriptionClosed is returned by Next after Close.
var ErrSubscriptionClosed = errors.New("state: subscription closed")

// SubscribeOption configures a Subscription.
type SubscribeOption func(*Subscription)

// WithPrefix limits a subscription to paths at or beneath prefix.
func WithPrefix(prefix DevicePath) SubscribeOption {
	return func(s *Subscription) {
		s.prefix = prefix
		s.hasPrefix = true
	}
}

// WithPath limits a subscription to one exact path.
func WithPath(path DevicePath) SubscribeOption {
	return func(s *Subscription) {
		s.exact = path
		s.hasExact = true
	}
}

// WithReplay seeds the subscription with the current value of every
// matching path before any live change.
func WithReplay() SubscribeOption {
	return func(s *Subscription) { s.replay = true }
}

// Subscription is one consumer's cursor over store changes.
type Subscription struct {
	id    uint64
	store *Store

	prefix    DevicePath
	hasPrefix bool
	exact     DevicePath
	hasExact  bool
	replay    bool

	mu     sync.Mutex
	queue  []AttributeValue
	closed bool

	notify    chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func (s *Subscription) matches(p DevicePath) bool {
	if s.hasExact && p != s.exact {
		return false
	}
	if s.hasPrefix && !p.HasPrefix(s.prefix) {
		return false
	}
	return true
}

func (s *Subscription) push(av AttributeValue) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, av)
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Next blocks until a change is available, the context ends, or the
// subscription is closed.
func (s *Subscription) Next(ctx context.Context) (AttributeValue, error) {
	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return AttributeValue{}, ErrSubscriptionClosed
		}
		if len(s.queue) > 0 {
			av := s.queue[0]
			s.queue[0] = AttributeValue{}
			s.queue = s.queue[1:]
			s.mu.Unlock()
			return av, nil
		}
		s.mu.Unlock()

		select {
		case <-s.notify:
		case <-s.done:
		case <-ctx.Done():
			return AttributeValue{}, ctx.Err()
		}
	}
}

// TryNext returns the next queued change without blocking.
func (s *Subscription) TryNext() (AttributeValue, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || len(s.queue) == 0 {
		return AttributeValue{}, false
	}
	av := s.queue[0]
	s.queue[0] = AttributeValue{}
	s.queue = s.queue[1:]
	return av, true
}

// All returns an iterator over changes that ends when ctx is done or the
// subscription closes.
//
//	for change := range sub.All(ctx) {
//	    ...
//	}
func (s *Subscription) All(ctx context.Context) iter.Seq[AttributeValue] {
	return func(yield func(AttributeValue) bool) {
		for {
			av, err := s.Next(ctx)
			if err != nil {
				return
			}
			if !yield(av) {
				return
			}
		}
	}
}

// Pending returns the number of queued, unread changes.
func (s *Subscription) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Done is closed when the subscription is closed.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Close detaches the subscription and discards queued changes. Idempotent.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		s.store.unsubscribe(s.id)
		s.mu.Lock()
		s.closed = true
		s.queue = nil
		s.mu.Unlock()
		close(s.done)
	})
}
