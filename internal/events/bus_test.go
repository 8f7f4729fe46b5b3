package events

import (
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietBus() *Bus {
	return NewBus(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestPublishReachesAllSubscribers(t *testing.T) {
	bus := quietBus()
	first, cancelFirst := bus.Subscribe(1)
	defer cancelFirst()
	second, cancelSecond := bus.Subscribe(1)
	defer cancelSecond()

	evt := NewStateChanged("10.0.0.5", "Entry Lamp", true, SourceCommand)
	bus.Publish(evt)

	assert.Equal(t, evt, <-first)
	assert.Equal(t, evt, <-second)
}

func TestPublishDropsWhenBufferFull(t *testing.T) {
	bus := quietBus()
	ch, cancel := bus.Subscribe(1)
	defer cancel()

	bus.Publish(NewStateChanged("10.0.0.5", "a", true, SourceCommand))
	bus.Publish(NewStateChanged("10.0.0.5", "a", false, SourceCommand))

	got := <-ch
	assert.True(t, got.IsOn)
	assert.Len(t, ch, 0)
}

func TestCancelClosesChannelOnce(t *testing.T) {
	bus := quietBus()
	ch, cancel := bus.Subscribe(1)
	require.Equal(t, 1, bus.SubscriberCount())

	cancel()
	cancel()

	_, open := <-ch
	assert.False(t, open)
	assert.Equal(t, 0, bus.SubscriberCount())
}

func TestCloseEndsSubscriptions(t *testing.T) {
	bus := quietBus()
	ch, cancel := bus.Subscribe(1)
	bus.Close()
	cancel()

	_, open := <-ch
	assert.False(t, open)

	late, _ := bus.Subscribe(1)
	_, open = <-late
	assert.False(t, open)
}

func TestNewStateChangedFields(t *testing.T) {
	evt := NewStateChanged("10.0.0.5", "Entry Lamp", true, SourceRefresh)

	_, err := uuid.Parse(evt.ID)
	require.NoError(t, err)
	assert.Equal(t, TypeStateChanged, evt.Type)
	assert.Equal(t, SourceRefresh, evt.Source)
	assert.False(t, evt.Timestamp.IsZero())
}
