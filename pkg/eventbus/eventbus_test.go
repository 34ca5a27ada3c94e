package eventbus

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

type TestEvent struct {
	Message string
}

type AnotherEvent struct {
	Value int
}

func TestEventBus_Subscribe_And_Publish(t *testing.T) {
	bus := New(zap.NewNop())

	var mu sync.Mutex
	var received TestEvent
	bus.Subscribe(TestEvent{}, func(event interface{}) {
		mu.Lock()
		defer mu.Unlock()
		received = event.(TestEvent)
	})

	bus.Publish(TestEvent{Message: "hello"})
	bus.Drain()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "hello", received.Message)
}

func TestEventBus_PointerEventsReachValueSubscribers(t *testing.T) {
	bus := New(nil)

	var received TestEvent
	bus.Subscribe(&TestEvent{}, func(event interface{}) {
		received = event.(TestEvent)
	})

	bus.PublishSync(&TestEvent{Message: "ptr"})
	assert.Equal(t, "ptr", received.Message)

	var nilEvent *TestEvent
	bus.PublishSync(nilEvent)
	assert.Equal(t, "ptr", received.Message)
}

func TestEventBus_SubscribeFunc(t *testing.T) {
	bus := New(nil)

	var got int
	bus.SubscribeFunc(func(e AnotherEvent) { got = e.Value })

	bus.PublishSync(AnotherEvent{Value: 42})
	bus.PublishSync(TestEvent{Message: "ignored"})
	assert.Equal(t, 42, got)

	assert.Panics(t, func() { bus.SubscribeFunc("not a func") })
	assert.Panics(t, func() { bus.SubscribeFunc(func(a, b int) {}) })
	assert.Panics(t, func() { bus.SubscribeFunc(func(e *AnotherEvent) {}) })
}

func TestEventBus_MultipleSubscribers(t *testing.T) {
	bus := New(nil)

	var mu sync.Mutex
	count := 0
	handler := func(event interface{}) {
		mu.Lock()
		count++
		mu.Unlock()
	}
	for i := 0; i < 3; i++ {
		bus.Subscribe(TestEvent{}, handler)
	}

	bus.Publish(TestEvent{Message: "test"})
	bus.Drain()

	assert.Equal(t, 3, count)
}

func TestEventBus_HandlerPanicIsContained(t *testing.T) {
	bus := New(zap.NewNop())

	delivered := false
	bus.Subscribe(TestEvent{}, func(event interface{}) { panic("boom") })
	bus.Subscribe(TestEvent{}, func(event interface{}) { delivered = true })

	assert.NotPanics(t, func() { bus.PublishSync(TestEvent{}) })
	assert.True(t, delivered)
}

func TestEventBus_NoSubscribers(t *testing.T) {
	bus := New(nil)
	bus.Publish(TestEvent{Message: "no subscribers"})
	bus.Drain()
}

func TestEventBus_SubscriberCount(t *testing.T) {
	bus := New(nil)

	assert.False(t, bus.HasSubscribers(TestEvent{}))
	assert.Equal(t, 0, bus.SubscriberCount(TestEvent{}))

	bus.Subscribe(TestEvent{}, func(event interface{}) {})
	bus.Subscribe(TestEvent{}, func(event interface{}) {})

	assert.True(t, bus.HasSubscribers(TestEvent{}))
	assert.Equal(t, 2, bus.SubscriberCount(&TestEvent{}))
	assert.False(t, bus.HasSubscribers(AnotherEvent{}))
}
