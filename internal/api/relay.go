package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jsherman999/tailorboard/internal/watchhub"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second
	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second
	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
	// Clients only send control frames.
	maxMessageSize = 512

	relayBuffer = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// SSE stream of relay messages.
func (a *API) handleSSE(w http.ResponseWriter, r *http.Request) {
	if a.hub == nil {
		http.Error(w, "relay disabled", http.StatusServiceUnavailable)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch := a.hub.Subscribe(relayBuffer)
	defer a.hub.Unsubscribe(ch)

	// send a comment to open stream
	_, _ = w.Write([]byte(": ok\n\n"))
	a.writeEvent(w, watchhub.StatusMessage(a.rt.Snapshot()))
	flusher.Flush()

	keepalive := time.NewTicker(pingPeriod)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-a.closing:
			return
		case <-keepalive.C:
			_, _ = w.Write([]byte(": ping\n\n"))
			flusher.Flush()
		case msg, ok := <-ch:
			if !ok {
				return
			}
			a.writeEvent(w, msg)
			flusher.Flush()
		}
	}
}

func (a *API) writeEvent(w http.ResponseWriter, msg watchhub.Message) {
	b, err := json.Marshal(msg)
	if err != nil {
		a.logger.Error().Err(err).Msg("marshal relay message")
		return
	}
	_, _ = w.Write([]byte("event: " + msg.Type + "\ndata: "))
	_, _ = w.Write(b)
	_, _ = w.Write([]byte("\n\n"))
}

// Websocket stream of relay messages, read by the CLI's feed client.
func (a *API) handleWS(w http.ResponseWriter, r *http.Request) {
	if a.hub == nil {
		http.Error(w, "relay disabled", http.StatusServiceUnavailable)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	ch := a.hub.Subscribe(relayBuffer)
	a.logger.Debug().Str("remote_addr", r.RemoteAddr).Int("clients", a.hub.Count()).Msg("relay client connected")

	done := make(chan struct{})
	go func() {
		defer close(done)
		a.wsReadPump(conn)
	}()
	a.wsWritePump(conn, ch, done)
	a.hub.Unsubscribe(ch)
	_ = conn.Close()
	<-done
	a.logger.Debug().Str("remote_addr", r.RemoteAddr).Msg("relay client disconnected")
}

func (a *API) wsReadPump(conn *websocket.Conn) {
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				a.logger.Warn().Err(err).Msg("websocket read error")
			}
			return
		}
	}
}

func (a *API) wsWritePump(conn *websocket.Conn, ch chan watchhub.Message, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(watchhub.StatusMessage(a.rt.Snapshot())); err != nil {
		return
	}
	for {
		select {
		case <-done:
			return
		case <-a.closing:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
			return
		case msg, ok := <-ch:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
