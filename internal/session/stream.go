package session

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/coder/websocket"
)

// Stream subscribes to the session service's push event feed over WebSocket.
// Each Subscribe call opens one connection; the returned channel closes when
// the connection drops, and the consumer re-subscribes to reconnect.
type Stream struct {
	url string
}

// NewStream creates an event source for the given WebSocket URL.
func NewStream(url string) *Stream {
	return &Stream{url: url}
}

// Subscribe dials the event endpoint and returns a channel of parsed events.
func (s *Stream) Subscribe(ctx context.Context) (<-chan Event, error) {
	conn, _, err := websocket.Dial(ctx, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("event stream dial: %w", err)
	}

	ch := make(chan Event, 64)

	go func() {
		defer close(ch)
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				slog.Debug("event stream closed", "error", err)
				return
			}

			ev, ok := ParseEvent(data)
			if !ok {
				continue
			}

			select {
			case ch <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()

	return ch, nil
}
