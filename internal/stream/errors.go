package stream

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidKey is returned when a subscription is opened with an empty key.
	ErrInvalidKey = errors.New("invalid channel key")
	// ErrAlreadyOpen is returned by Open while a subscription is in flight.
	ErrAlreadyOpen = errors.New("subscription already open")
)

// ChannelError reports a failure at the push-channel boundary, either while
// subscribing or mid-stream.
type ChannelError struct {
	Op  string // "subscribe" or "receive"
	Key string
	Err error
}

func (e *ChannelError) Error() string {
	return fmt.Sprintf("channel %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *ChannelError) Unwrap() error { return e.Err }
