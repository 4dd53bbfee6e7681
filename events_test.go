package rabbitcore

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEventBus_DispatchesInRegistrationOrder(t *testing.T) {
	bus := newEventBus(NewNoopLogger())
	var order []int

	bus.Subscribe(EventConnected, func(Event) { order = append(order, 1) })
	bus.Subscribe(EventConnected, func(Event) { order = append(order, 2) })
	bus.Subscribe(EventConnected, func(Event) { order = append(order, 3) })

	bus.Emit(EventConnected, nil)

	assert.Equal(t, []int{1, 2, 3}, order)
}

func TestEventBus_OnlyMatchingTypeReceivesEvent(t *testing.T) {
	bus := newEventBus(NewNoopLogger())
	var gotConnected, gotClosed bool

	bus.Subscribe(EventConnected, func(Event) { gotConnected = true })
	bus.Subscribe(EventClosed, func(Event) { gotClosed = true })

	bus.Emit(EventConnected, nil)

	assert.True(t, gotConnected)
	assert.False(t, gotClosed)
}

func TestEventBus_PanicInOneHandlerDoesNotStopLater(t *testing.T) {
	bus := newEventBus(NewNoopLogger())
	ran := false

	bus.Subscribe(EventError, func(Event) { panic("boom") })
	bus.Subscribe(EventError, func(Event) { ran = true })

	assert.NotPanics(t, func() { bus.Emit(EventError, nil) })
	assert.True(t, ran)
}

func TestEventBus_CarriesPayload(t *testing.T) {
	bus := newEventBus(NewNoopLogger())
	var got any

	bus.Subscribe(EventMetrics, func(ev Event) { got = ev.Data })
	bus.Emit(EventMetrics, Metrics{MessagesSent: 42})

	m, ok := got.(Metrics)
	assert.True(t, ok)
	assert.Equal(t, int64(42), m.MessagesSent)
}
