// Package channel provides the push channel that carries streamed safety
// check fragments: an in-process Hub, its WebSocket endpoint and a WebSocket
// client that satisfies stream.Channel.
package channel

import (
	"errors"

	"github.com/user/wosafety/internal/stream"
	"github.com/user/wosafety/internal/types"
)

// Frame types on the wire.
const (
	FrameNext     = "next"
	FrameError    = "error"
	FrameComplete = "complete"
)

// ErrEmptyKey is returned when subscribing without a session key.
var ErrEmptyKey = errors.New("empty session key")

// Frame is one message on a stream, as JSON over WebSocket.
type Frame struct {
	Type  string `json:"type"`
	Index *int   `json:"index,omitempty"`
	Chunk string `json:"chunk,omitempty"`
	Error string `json:"error,omitempty"`
}

// RemoteError is a stream error reported by the far side.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string { return e.Message }

func nextFrame(ev types.PushEvent) Frame {
	return Frame{Type: FrameNext, Index: ev.Index, Chunk: ev.Chunk}
}

func (f Frame) terminal() bool {
	return f.Type == FrameError || f.Type == FrameComplete
}

// dispatch delivers f to h. It reports whether f ended the stream.
func (f Frame) dispatch(h stream.Handlers) bool {
	switch f.Type {
	case FrameNext:
		if h.Next != nil {
			h.Next(types.PushEvent{Index: f.Index, Chunk: f.Chunk})
		}
	case FrameError:
		if h.Error != nil {
			h.Error(&RemoteError{Message: f.Error})
		}
		return true
	case FrameComplete:
		if h.Complete != nil {
			h.Complete()
		}
		return true
	}
	return false
}
