package engine

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nostalgiatan/bey-sub000/pkg/events"
)

// eventsUpgrader accepts the admin/event-feed websocket of spec.md §11
// ("WebSocket admin/event feed"). Origin checking is left to callers that
// embed this handler behind their own auth layer.
var eventsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const eventsWriteTimeout = 5 * time.Second

// ServeEvents upgrades r to a websocket and streams every Engine event as
// JSON until the client disconnects or the request context is cancelled.
func (e *Engine) ServeEvents(w http.ResponseWriter, r *http.Request) error {
	conn, err := eventsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	sub := e.bus.Subscribe()
	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-sub:
			if !ok {
				return nil
			}
			_ = conn.SetWriteDeadline(time.Now().Add(eventsWriteTimeout))
			if err := conn.WriteJSON(ev); err != nil {
				return err
			}
		}
	}
}

// publishEvents publishes an engine-sourced event on the shared bus; Start
// and Stop use it for EngineStarted/EngineStopped, which ServeEvents then
// streams to websocket clients.
func (e *Engine) publishEvents(kind events.Kind, fields map[string]interface{}) {
	e.bus.Publish(events.New(kind, "engine", fields))
}
