// Package eventbus classifies task-graph mutations into resource
// categories and fans them out to the single subscribed consumer.
// Delivery is best-effort and never blocks the mutating call: a slow or
// absent consumer loses events, it never stalls a claim or update.
package eventbus

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Subscription names the (Kind, resource URI pattern) pairs a consumer
// wants delivered. A pattern ending in "*" matches any URI with that
// prefix; an empty pattern matches every URI; any other pattern matches
// only that exact URI.
type Subscription struct {
	Kind    Kind
	Pattern string
}

func (s Subscription) matches(e Event) bool {
	if s.Kind != e.Kind {
		return false
	}
	if strings.HasSuffix(s.Pattern, "*") {
		return strings.HasPrefix(e.ResourceURI, strings.TrimSuffix(s.Pattern, "*"))
	}
	return s.Pattern == e.ResourceURI || s.Pattern == ""
}

// Bus fans mutation events out to at most one subscribed consumer.
type Bus struct {
	mu       sync.RWMutex
	consumer chan<- Event
	subs     []Subscription
	logger   *slog.Logger
}

// New creates an empty bus. A nil logger falls back to slog.Default().
func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{logger: logger}
}

// Subscribe replaces any previously subscribed consumer — spec.md §4.9
// guarantees "at most one" concurrently subscribed listener, so a new
// Subscribe call supersedes the old one rather than adding a second.
func (b *Bus) Subscribe(consumer chan<- Event, subs []Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consumer = consumer
	b.subs = subs
}

// Unsubscribe clears the current consumer, if any.
func (b *Bus) Unsubscribe() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consumer = nil
	b.subs = nil
}

// Publish classifies event against the current subscription and, if it
// matches, attempts delivery in the background with a short bounded
// retry. Publish itself never blocks: the retry and send both happen on a
// separate goroutine, and a full or gone consumer channel just drops the
// event after the retry budget is spent.
func (b *Bus) Publish(ctx context.Context, event Event) {
	b.mu.RLock()
	consumer := b.consumer
	subs := b.subs
	b.mu.RUnlock()

	if consumer == nil {
		return
	}
	matched := false
	for _, s := range subs {
		if s.matches(event) {
			matched = true
			break
		}
	}
	if !matched {
		return
	}

	go b.deliver(ctx, consumer, event)
}

// deliver retries a non-blocking send for a short, bounded window —
// enough to ride out a momentarily-full channel without holding the
// mutating call hostage to a stalled consumer.
func (b *Bus) deliver(ctx context.Context, consumer chan<- Event, event Event) {
	// BackOff implementations are stateful; always build a fresh instance.
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = 5 * time.Millisecond
	exp.MaxInterval = 100 * time.Millisecond
	exp.MaxElapsedTime = 500 * time.Millisecond
	bo := backoff.WithMaxRetries(exp, 5)

	err := backoff.Retry(func() error {
		select {
		case consumer <- event:
			return nil
		case <-ctx.Done():
			return backoff.Permanent(ctx.Err())
		default:
			return errChannelBusy
		}
	}, bo)
	if err != nil {
		b.logger.Warn("eventbus: dropped event", "kind", event.Kind, "resource_uri", event.ResourceURI, "error", err)
	}
}

type busyError struct{}

func (busyError) Error() string { return "consumer channel busy" }

var errChannelBusy = busyError{}
