package tui

import (
	"context"
	"fmt"

	"github.com/gorilla/websocket"

	"github.com/hochfrequenz/gastown-harness/internal/domain"
)

// Subscribe dials the harness websocket at url and streams its events.
// The channel closes when the connection drops or ctx is done.
func Subscribe(ctx context.Context, url string) (<-chan domain.Event, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	events := make(chan domain.Event, 16)
	go func() {
		<-ctx.Done()
		conn.Close()
	}()
	go func() {
		defer close(events)
		defer conn.Close()
		for {
			var ev domain.Event
			if err := conn.ReadJSON(&ev); err != nil {
				return
			}
			select {
			case events <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return events, nil
}
