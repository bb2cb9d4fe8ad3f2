package channel

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/user/wosafety/internal/stream"
)

// WSClient subscribes to a remote daemon's stream endpoint. It implements
// stream.Channel.
type WSClient struct {
	baseURL string
	header  http.Header
	dialer  websocket.Dialer
}

// NewWSClient targets a daemon at baseURL (http:// or ws:// scheme).
func NewWSClient(baseURL string) *WSClient {
	return &WSClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		header:  http.Header{},
		dialer:  websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}
}

func (c *WSClient) streamURL(key string) (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/api/sessions/" + url.PathEscape(key) + "/stream"
	return u.String(), nil
}

// Subscribe dials the stream endpoint for key and delivers its frames to h
// from a single read goroutine.
func (c *WSClient) Subscribe(key string, h stream.Handlers) (stream.Handle, error) {
	if key == "" {
		return nil, ErrEmptyKey
	}
	target, err := c.streamURL(key)
	if err != nil {
		return nil, err
	}
	conn, resp, err := c.dialer.Dial(target, c.header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", target, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", target, err)
	}

	rs := &remoteSubscription{conn: conn, closeCh: make(chan struct{})}
	go rs.readLoop(key, h)
	return rs, nil
}

type remoteSubscription struct {
	conn      *websocket.Conn
	closeCh   chan struct{}
	closeOnce sync.Once
}

func (rs *remoteSubscription) readLoop(key string, h stream.Handlers) {
	defer rs.Unsubscribe()
	for {
		var f Frame
		if err := rs.conn.ReadJSON(&f); err != nil {
			select {
			case <-rs.closeCh:
			default:
				slog.Debug("stream read failed", "session_id", key, "error", err)
				if h.Error != nil {
					h.Error(fmt.Errorf("read error: %w", err))
				}
			}
			return
		}
		select {
		case <-rs.closeCh:
			return
		default:
		}
		if f.dispatch(h) {
			return
		}
	}
}

func (rs *remoteSubscription) Unsubscribe() {
	rs.closeOnce.Do(func() {
		close(rs.closeCh)
		rs.conn.Close()
	})
}
