package event

import (
	"context"
	"sync"

	"github.com/maniartech/signals"
)

// Kind names an event topic.
type Kind string

var (
	mu     sync.Mutex
	topics = make(map[Kind]*signals.AsyncSignal[any])
)

func signalOf(k Kind) *signals.AsyncSignal[any] {
	mu.Lock()
	defer mu.Unlock()

	sig, ok := topics[k]
	if !ok {
		sig = signals.New[any]()
		topics[k] = sig
	}
	return sig
}

// Topic is a typed publish/subscribe channel keyed by Kind.
type Topic[T any] struct {
	kind Kind
}

func NewTopic[T any](kind Kind) Topic[T] {
	return Topic[T]{kind: kind}
}

func (t Topic[T]) Kind() Kind {
	return t.kind
}

// Emit delivers payload to every subscriber. Delivery is asynchronous;
// Emit never blocks on slow subscribers.
func (t Topic[T]) Emit(ctx context.Context, payload T) {
	signalOf(t.kind).Emit(ctx, payload)
}

// Listen registers handler under key. Re-using a key replaces the previous
// handler for that key.
func (t Topic[T]) Listen(key string, handler func(ctx context.Context, payload T)) {
	signalOf(t.kind).AddListener(func(ctx context.Context, payload any) {
		if v, ok := payload.(T); ok {
			handler(ctx, v)
		}
	}, key)
}

// Mute removes the handler registered under key.
func (t Topic[T]) Mute(key string) {
	signalOf(t.kind).RemoveListener(key)
}
