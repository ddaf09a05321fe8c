package notify

import (
	"context"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// wireEvent is the JSON shape pushed to dashboard clients. Unlike
// Event it omits the unpopulated payload fields for the event's type
// rather than sending three mostly-null structs per message.
type wireEvent struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	StationID string      `json:"station_id,omitempty"`
	Detection interface{} `json:"detection,omitempty"`
	Status    string      `json:"status,omitempty"`
	ErrorKind string      `json:"error_kind,omitempty"`
	Error     string      `json:"error,omitempty"`
}

func toWireEvent(e *Event) wireEvent {
	w := wireEvent{Type: e.Type, Timestamp: e.Timestamp}
	if e.StationID != uuid.Nil {
		w.StationID = e.StationID.String()
	}
	switch e.Type {
	case EventDetectionFinalized:
		w.Detection = e.Detection
	case EventStationHealthChanged:
		w.Status = string(e.StationStatus)
	case EventErrorRaised:
		w.ErrorKind = string(e.ErrorKind)
		w.Error = e.ErrorMessage
	}
	return w
}

// WebSocketForwarder drains a Sink subscription and pushes each event
// to one connected dashboard client over coder/websocket, following
// a websocket Client's conn/SendJSON/writeWait shape
// adapted from a typed Message broadcast to this package's Event envelope.
type WebSocketForwarder struct {
	conn   *websocket.Conn
	events <-chan *Event
	log    *zap.Logger
}

const writeWait = 10 * time.Second

func NewWebSocketForwarder(conn *websocket.Conn, events <-chan *Event, log *zap.Logger) *WebSocketForwarder {
	return &WebSocketForwarder{conn: conn, events: events, log: log}
}

// Run forwards events until ctx is cancelled or the subscription
// channel is closed (the Sink unsubscribed it). It does not close the
// underlying connection — the caller's accept loop owns that.
func (f *WebSocketForwarder) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-f.events:
			if !ok {
				return
			}
			writeCtx, cancel := context.WithTimeout(ctx, writeWait)
			err := wsjson.Write(writeCtx, f.conn, toWireEvent(event))
			cancel()
			if err != nil {
				f.log.Warn("dropping dashboard connection after write failure", zap.Error(err))
				return
			}
		}
	}
}
