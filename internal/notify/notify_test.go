package notify

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sodav/monitor-core/internal/models"
)

func TestPublishDeliversToAllSubscribers(t *testing.T) {
	sink := NewSink(4, zap.NewNop())
	a := sink.Subscribe("a")
	b := sink.Subscribe("b")

	sink.Publish(&Event{Type: EventStationHealthChanged, StationID: uuid.New(), StationStatus: models.StationActive})

	require.Len(t, a, 1)
	require.Len(t, b, 1)
}

func TestPublishDropsOldestOnOverflow(t *testing.T) {
	sink := NewSink(2, zap.NewNop())
	events := sink.Subscribe("a")

	for i := 0; i < 5; i++ {
		sink.Publish(&Event{Type: EventErrorRaised, ErrorMessage: "x"})
	}

	assert.Equal(t, int64(3), sink.DroppedCount("a"))
	assert.Len(t, events, 2)
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	sink := NewSink(4, zap.NewNop())
	events := sink.Subscribe("a")
	sink.Unsubscribe("a")

	_, ok := <-events
	assert.False(t, ok)
}

func TestPublishDetectionFinalizedWiresDetectionPayload(t *testing.T) {
	sink := NewSink(4, zap.NewNop())
	events := sink.Subscribe("a")

	stationID := uuid.New()
	detection := &models.Detection{ID: uuid.New(), StationID: stationID}
	sink.PublishDetectionFinalized(context.Background(), stationID, detection)

	ev := <-events
	assert.Equal(t, EventDetectionFinalized, ev.Type)
	assert.Equal(t, detection, ev.Detection)
	assert.Equal(t, stationID, ev.StationID)
}

func TestResubscribeClosesPreviousChannel(t *testing.T) {
	sink := NewSink(4, zap.NewNop())
	first := sink.Subscribe("a")
	second := sink.Subscribe("a")

	_, ok := <-first
	assert.False(t, ok)

	sink.Publish(&Event{Type: EventErrorRaised})
	require.Len(t, second, 1)
}
