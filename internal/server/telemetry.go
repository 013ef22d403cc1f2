package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/neurogenx/neurogenx/internal/broadcast"
	"github.com/neurogenx/neurogenx/internal/model"
)

const (
	observerBuffer = 64
	sseKeepAlive   = 15 * time.Second

	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
)

// Same-origin only (the Upgrader default), so browsers on other sites
// cannot read run telemetry with the user's cookies.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

// HandleSubscribe handles GET /v1/subscribe, streaming telemetry envelopes
// as Server-Sent Events. The event name is the envelope type.
func (h *Handlers) HandleSubscribe(w http.ResponseWriter, r *http.Request) {
	if h.broadcaster == nil {
		writeError(w, r, http.StatusServiceUnavailable, model.ErrCodeUnavailable, "telemetry not configured")
		return
	}
	if _, ok := w.(http.Flusher); !ok {
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "streaming not supported")
		return
	}
	rc := http.NewResponseController(w)
	// The stream outlives the server's write timeout.
	_ = rc.SetWriteDeadline(time.Time{})

	obs := broadcast.NewChannelObserver(observerBuffer)
	h.broadcaster.Register(obs)
	defer h.broadcaster.Unregister(obs)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprint(w, ": connected\n\n")
	_ = rc.Flush()

	keepAlive := time.NewTicker(sseKeepAlive)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case msg, ok := <-obs.C():
			if !ok {
				// Pruned by the broadcaster for falling behind.
				return
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", envelopeType(msg), msg); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		}
	}
}

// HandleWebSocket handles GET /ws/telemetry. Each telemetry envelope is
// sent as one text frame. Client frames are read and discarded so that
// close and pong frames are processed.
func (h *Handlers) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if h.broadcaster == nil {
		writeError(w, r, http.StatusServiceUnavailable, model.ErrCodeUnavailable, "telemetry not configured")
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		h.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer func() { _ = conn.Close() }()

	obs := broadcast.NewChannelObserver(observerBuffer)
	h.broadcaster.Register(obs)
	defer h.broadcaster.Unregister(obs)

	conn.SetReadLimit(4096)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	clientGone := make(chan struct{})
	go func() {
		defer close(clientGone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-clientGone:
			return
		case <-r.Context().Done():
			return
		case msg, ok := <-obs.C():
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "observer fell behind"))
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}
}

// envelopeType reads the type tag of a serialized broadcast.Envelope.
func envelopeType(msg []byte) string {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(msg, &env); err != nil || env.Type == "" {
		return "message"
	}
	return env.Type
}
