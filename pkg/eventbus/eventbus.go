// Package eventbus is the in-process fan-out of run outcomes to optional sinks
// (message broker, operator webhook). Handlers are keyed by the event's value type.
package eventbus

import (
	"reflect"
	"sync"

	"go.uber.org/zap"
)

// Handler is a function that handles an event
type Handler func(event interface{})

// EventBus provides in-process pub/sub.
type EventBus struct {
	handlers map[reflect.Type][]Handler
	mu       sync.RWMutex
	inflight sync.WaitGroup
	logger   *zap.Logger
}

// New creates a new EventBus. A nil logger discards handler panics silently.
func New(logger *zap.Logger) *EventBus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventBus{
		handlers: make(map[reflect.Type][]Handler),
		logger:   logger,
	}
}

// valueType strips one level of pointer so T and *T share subscribers.
func valueType(v interface{}) reflect.Type {
	t := reflect.TypeOf(v)
	if t != nil && t.Kind() == reflect.Ptr {
		return t.Elem()
	}
	return t
}

// deref returns the value an event pointer points to; handlers always receive values.
func deref(event interface{}) interface{} {
	v := reflect.ValueOf(event)
	if v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return nil
		}
		return v.Elem().Interface()
	}
	return event
}

// Subscribe registers a handler for the type of sample.
func (e *EventBus) Subscribe(sample interface{}, handler Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()

	t := valueType(sample)
	e.handlers[t] = append(e.handlers[t], handler)
}

// SubscribeFunc registers a typed handler with the signature func(EventType).
func (e *EventBus) SubscribeFunc(handler interface{}) {
	fn := reflect.ValueOf(handler)
	ft := fn.Type()

	if ft.Kind() != reflect.Func {
		panic("handler must be a function")
	}
	if ft.NumIn() != 1 {
		panic("handler must have exactly one argument")
	}
	if ft.In(0).Kind() == reflect.Ptr {
		panic("handler argument must be a value type")
	}

	in := ft.In(0)
	e.Subscribe(reflect.Zero(in).Interface(), func(event interface{}) {
		v := reflect.ValueOf(event)
		if v.IsValid() && v.Type().AssignableTo(in) {
			fn.Call([]reflect.Value{v})
		}
	})
}

func (e *EventBus) subscribers(event interface{}) []Handler {
	e.mu.RLock()
	defer e.mu.RUnlock()

	hs := e.handlers[valueType(event)]
	out := make([]Handler, len(hs))
	copy(out, hs)
	return out
}

func (e *EventBus) call(h Handler, event interface{}) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("eventbus.handler_panic",
				zap.String("event_type", reflect.TypeOf(event).String()),
				zap.Any("panic", r))
		}
	}()
	h(event)
}

// Publish delivers the event to every subscriber on its own goroutine.
func (e *EventBus) Publish(event interface{}) {
	value := deref(event)
	if value == nil {
		return
	}
	for _, h := range e.subscribers(value) {
		e.inflight.Add(1)
		go func(h Handler) {
			defer e.inflight.Done()
			e.call(h, value)
		}(h)
	}
}

// PublishSync delivers the event to every subscriber before returning.
func (e *EventBus) PublishSync(event interface{}) {
	value := deref(event)
	if value == nil {
		return
	}
	for _, h := range e.subscribers(value) {
		e.call(h, value)
	}
}

// Drain blocks until every asynchronous delivery has returned.
func (e *EventBus) Drain() {
	e.inflight.Wait()
}

// HasSubscribers returns true if there are subscribers for the event type
func (e *EventBus) HasSubscribers(sample interface{}) bool {
	return e.SubscriberCount(sample) > 0
}

// SubscriberCount returns the number of subscribers for an event type
func (e *EventBus) SubscriberCount(sample interface{}) int {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return len(e.handlers[valueType(sample)])
}
