package main

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const wsWriteTimeout = 5 * time.Second

// The default origin check only admits same-host pages, which is what a
// loopback listener wants.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

// streamWS sends every scan as a JSON text message. Client messages are
// read and discarded; the read loop only notices when the peer goes away.
func (a *api) streamWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already answered the request.
		a.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	sub := a.classifier.Subscribe(ctx)
	defer sub.Close()
	if a.metrics != nil {
		a.metrics.Subscribers.Inc()
		defer a.metrics.Subscribers.Dec()
	}

	for {
		select {
		case <-ctx.Done():
			return
		case res, ok := <-sub.C():
			if !ok {
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
					time.Now().Add(wsWriteTimeout))
				return
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(res); err != nil {
				a.logger.Debug("websocket write failed", "error", err)
				return
			}
		}
	}
}
