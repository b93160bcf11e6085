package generation

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Stream handles WS /generations/{id}/stream. It sends the current
// snapshot, then every progress event, then the terminal job, and closes.
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	job, ok := h.ownedJob(w, r)
	if !ok {
		return
	}

	snapshot, events, cancel, ok := h.jobs.Subscribe(job.ID)
	if !ok {
		http.NotFound(w, r)
		return
	}
	defer cancel()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	closed := make(chan struct{})
	go readUntilClosed(conn, closed)

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	if err := writeEvent(conn, ProgressEvent{JobID: snapshot.ID, Status: snapshot.Status, Progress: snapshot.Progress, Result: snapshot.Result}); err != nil {
		return
	}
	if snapshot.Status.Terminal() {
		closeNormally(conn)
		return
	}

	for {
		select {
		case <-closed:
			return

		case ev, open := <-events:
			if !open {
				final, found := h.jobs.Get(job.ID)
				if found && final.Status.Terminal() {
					_ = writeEvent(conn, ProgressEvent{JobID: final.ID, Status: final.Status, Progress: final.Progress, Result: final.Result})
				}
				closeNormally(conn)
				return
			}
			if ev.Result != nil {
				// the terminal snapshot is sent once the channel closes
				continue
			}
			if err := writeEvent(conn, ev); err != nil {
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func writeEvent(conn *websocket.Conn, ev ProgressEvent) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(ev)
}

func closeNormally(conn *websocket.Conn) {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "job finished"))
}

// readUntilClosed drains client frames so pongs and close frames are processed.
func readUntilClosed(conn *websocket.Conn, closed chan<- struct{}) {
	defer close(closed)

	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Msg("WebSocket read error")
			}
			return
		}
	}
}
