// Package live holds at most one push subscriber per crawl task and delivers
// task events to it on a best-effort basis. Events for a task without a
// subscriber are dropped; nothing is buffered for later replay.
package live

import (
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/ondemand-crawler/internal/crawler"
)

var (
	// ErrNoSubscriber reports that no subscriber is registered for the task.
	ErrNoSubscriber = errors.New("no live subscriber")
	// ErrSubscriberBusy reports that the subscriber could not take the event
	// without blocking.
	ErrSubscriberBusy = errors.New("live subscriber busy")
)

// Subscriber receives events for one task. Send must not block.
type Subscriber interface {
	Send(evt crawler.Event) bool
	Close()
}

// Option customizes a Registry.
type Option func(*Registry)

// WithLogger sets the registry logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithPushObserver reports the outcome of every Push ("delivered",
// "no_subscriber", or "busy").
func WithPushObserver(fn func(outcome string)) Option {
	return func(r *Registry) {
		r.observe = fn
	}
}

// Registry maps task ids to their single live subscriber. It satisfies
// crawler.Notifier.
type Registry struct {
	mu      sync.Mutex
	subs    map[string]Subscriber
	closed  bool
	logger  *zap.Logger
	observe func(string)
}

// NewRegistry constructs an empty Registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		subs:   make(map[string]Subscriber),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register makes sub the subscriber for taskID, closing any subscriber it
// replaces. After Close, sub is closed immediately.
func (r *Registry) Register(taskID string, sub Subscriber) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		sub.Close()
		return
	}
	prev := r.subs[taskID]
	r.subs[taskID] = sub
	r.mu.Unlock()

	if prev != nil && prev != sub {
		r.logger.Info("live subscriber replaced", zap.String("task_id", taskID))
		prev.Close()
	}
}

// Unregister removes sub if it is still the subscriber for taskID. It returns
// false when sub was already replaced or removed.
func (r *Registry) Unregister(taskID string, sub Subscriber) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.subs[taskID]; ok && cur == sub {
		delete(r.subs, taskID)
		return true
	}
	return false
}

// Deliver hands evt to the subscriber for taskID without blocking.
func (r *Registry) Deliver(taskID string, evt crawler.Event) error {
	r.mu.Lock()
	sub, ok := r.subs[taskID]
	r.mu.Unlock()
	if !ok {
		return ErrNoSubscriber
	}
	if !sub.Send(evt) {
		return ErrSubscriberBusy
	}
	return nil
}

// Push implements crawler.Notifier. It reports whether evt was handed to a
// subscriber.
func (r *Registry) Push(taskID string, evt crawler.Event) bool {
	err := r.Deliver(taskID, evt)
	outcome := "delivered"
	switch {
	case errors.Is(err, ErrNoSubscriber):
		outcome = "no_subscriber"
	case errors.Is(err, ErrSubscriberBusy):
		outcome = "busy"
		r.logger.Debug("live event dropped", zap.String("task_id", taskID), zap.String("event", evt.Event))
	}
	if r.observe != nil {
		r.observe(outcome)
	}
	return err == nil
}

// Len returns the number of registered subscribers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}

// Close closes every subscriber and rejects later registrations.
func (r *Registry) Close() {
	r.mu.Lock()
	subs := r.subs
	r.subs = make(map[string]Subscriber)
	r.closed = true
	r.mu.Unlock()
	for _, sub := range subs {
		sub.Close()
	}
}
