package stream

import "github.com/user/wosafety/internal/types"

// Handlers receives the events of one subscription. Implementations of
// Channel must never invoke two handlers of the same subscription
// concurrently.
type Handlers struct {
	Next     func(types.PushEvent)
	Error    func(error)
	Complete func()
}

// Handle releases a channel subscription.
type Handle interface {
	Unsubscribe()
}

// Channel is a push-based subscription primitive keyed by session.
type Channel interface {
	Subscribe(key string, h Handlers) (Handle, error)
}
