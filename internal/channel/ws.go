package channel

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/user/wosafety/internal/stream"
	"github.com/user/wosafety/internal/types"
)

const writeTimeout = 10 * time.Second

// WSHandler exposes a Channel over WebSocket, one stream per connection.
type WSHandler struct {
	channel  stream.Channel
	upgrader websocket.Upgrader
}

func NewWSHandler(ch stream.Channel) *WSHandler {
	return &WSHandler{
		channel: ch,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// ServeKey upgrades the request and streams key's frames until the stream
// ends or the peer goes away.
func (wh *WSHandler) ServeKey(w http.ResponseWriter, r *http.Request, key string) {
	conn, err := wh.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "session_id", key, "error", err)
		return
	}

	var (
		closeOnce sync.Once
		done      = make(chan struct{})
	)
	shutdown := func() {
		closeOnce.Do(func() {
			close(done)
			conn.Close()
		})
	}

	write := func(f Frame) bool {
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteJSON(f); err != nil {
			slog.Debug("websocket write failed", "session_id", key, "error", err)
			shutdown()
			return false
		}
		return true
	}
	finish := func(f Frame) {
		if write(f) {
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeTimeout))
		}
		shutdown()
	}

	handle, err := wh.channel.Subscribe(key, stream.Handlers{
		Next: func(ev types.PushEvent) { write(nextFrame(ev)) },
		Error: func(err error) {
			finish(Frame{Type: FrameError, Error: err.Error()})
		},
		Complete: func() { finish(Frame{Type: FrameComplete}) },
	})
	if err != nil {
		finish(Frame{Type: FrameError, Error: err.Error()})
		return
	}

	// Drain reads so a peer close is noticed.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				shutdown()
				return
			}
		}
	}()

	<-done
	handle.Unsubscribe()
}
