package eventbus_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/graphwork/taskgraphd/internal/eventbus"
)

func TestPublishDeliversToMatchingSubscription(t *testing.T) {
	bus := eventbus.New(nil)
	ch := make(chan eventbus.Event, 1)
	bus.Subscribe(ch, []eventbus.Subscription{{Kind: eventbus.KindTaskChanged, Pattern: "*"}})

	bus.Publish(context.Background(), eventbus.Event{Kind: eventbus.KindTaskChanged, ResourceURI: "task://t1", At: time.Now()})

	select {
	case ev := <-ch:
		require.Equal(t, "task://t1", ev.ResourceURI)
	case <-time.After(time.Second):
		t.Fatal("expected event delivery within timeout")
	}
}

func TestPublishSkipsNonMatchingKind(t *testing.T) {
	bus := eventbus.New(nil)
	ch := make(chan eventbus.Event, 1)
	bus.Subscribe(ch, []eventbus.Subscription{{Kind: eventbus.KindWorkerChanged, Pattern: "*"}})

	bus.Publish(context.Background(), eventbus.Event{Kind: eventbus.KindTaskChanged, ResourceURI: "task://t1", At: time.Now()})

	select {
	case ev := <-ch:
		t.Fatalf("unexpected delivery of non-subscribed kind: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSubscribeReplacesPriorConsumer(t *testing.T) {
	bus := eventbus.New(nil)
	first := make(chan eventbus.Event, 1)
	second := make(chan eventbus.Event, 1)

	bus.Subscribe(first, []eventbus.Subscription{{Kind: eventbus.KindTaskChanged, Pattern: "*"}})
	bus.Subscribe(second, []eventbus.Subscription{{Kind: eventbus.KindTaskChanged, Pattern: "*"}})

	bus.Publish(context.Background(), eventbus.Event{Kind: eventbus.KindTaskChanged, ResourceURI: "task://t1", At: time.Now()})

	select {
	case <-first:
		t.Fatal("the superseded consumer must not receive further events")
	case <-time.After(50 * time.Millisecond):
	}

	select {
	case ev := <-second:
		require.Equal(t, "task://t1", ev.ResourceURI)
	case <-time.After(time.Second):
		t.Fatal("expected the current consumer to receive the event")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := eventbus.New(nil)
	ch := make(chan eventbus.Event, 1)
	bus.Subscribe(ch, []eventbus.Subscription{{Kind: eventbus.KindTaskChanged, Pattern: "*"}})
	bus.Unsubscribe()

	bus.Publish(context.Background(), eventbus.Event{Kind: eventbus.KindTaskChanged, ResourceURI: "task://t1", At: time.Now()})

	select {
	case <-ch:
		t.Fatal("no event should be delivered after Unsubscribe")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPublishPrefixPatternMatch(t *testing.T) {
	bus := eventbus.New(nil)
	ch := make(chan eventbus.Event, 1)
	bus.Subscribe(ch, []eventbus.Subscription{{Kind: eventbus.KindFileMarkChanged, Pattern: "file://src/*"}})

	bus.Publish(context.Background(), eventbus.Event{Kind: eventbus.KindFileMarkChanged, ResourceURI: "file://src/main.go", At: time.Now()})

	select {
	case ev := <-ch:
		require.Equal(t, "file://src/main.go", ev.ResourceURI)
	case <-time.After(time.Second):
		t.Fatal("expected prefix-pattern delivery")
	}
}
