package stream

import (
	"cmp"
	"math"
	"slices"
	"sync"

	"github.com/user/wosafety/internal/types"
)

// SequencedBuffer holds streamed fragments ordered by index, at most one
// fragment per index. The zero value is an empty buffer without placeholder.
type SequencedBuffer struct {
	mu        sync.RWMutex
	fragments []types.Fragment
}

// NewSequencedBuffer returns a buffer seeded with the placeholder fragment.
func NewSequencedBuffer() *SequencedBuffer {
	b := &SequencedBuffer{}
	b.Reset()
	return b
}

// Reset drops every fragment and seeds the placeholder.
func (b *SequencedBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fragments = []types.Fragment{{Index: types.PlaceholderIndex}}
}

// Insert upserts the event's chunk by index and returns the stored fragment.
// A missing (or below-placeholder) index is assigned max+1, or 0 when the
// buffer holds nothing but the placeholder. Once a fragment sits at
// math.MaxInt, unindexed chunks are appended to it.
func (b *SequencedBuffer) Insert(ev types.PushEvent) types.Fragment {
	b.mu.Lock()
	defer b.mu.Unlock()

	index := types.PlaceholderIndex
	chunk := ev.Chunk
	if ev.Index != nil && *ev.Index >= 0 {
		index = *ev.Index
	} else {
		var full bool
		index, full = b.nextIndexLocked()
		if full {
			// No index is left above the last fragment; the chunk joins it.
			chunk = b.contentLocked(index) + chunk
		}
	}
	frag := types.Fragment{Index: index, Content: chunk}

	replaced := false
	kept := b.fragments[:0]
	for _, f := range b.fragments {
		if f.Index == types.PlaceholderIndex {
			continue
		}
		if f.Index == index {
			if !replaced {
				kept = append(kept, frag)
				replaced = true
			}
			continue
		}
		kept = append(kept, f)
	}
	if !replaced {
		kept = append(kept, frag)
	}
	slices.SortStableFunc(kept, func(a, b types.Fragment) int {
		return cmp.Compare(a.Index, b.Index)
	})
	b.fragments = kept
	return frag
}

// nextIndexLocked returns max+1, or 0 for an empty buffer. full is set when
// the last fragment already sits at math.MaxInt; its index is returned.
func (b *SequencedBuffer) nextIndexLocked() (next int, full bool) {
	for _, f := range b.fragments {
		if f.Index == math.MaxInt {
			return math.MaxInt, true
		}
		if f.Index+1 > next {
			next = f.Index + 1
		}
	}
	return next, false
}

func (b *SequencedBuffer) contentLocked(index int) string {
	for _, f := range b.fragments {
		if f.Index == index {
			return f.Content
		}
	}
	return ""
}

// Snapshot returns a copy of the ordered sequence.
func (b *SequencedBuffer) Snapshot() []types.Fragment {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]types.Fragment, len(b.fragments))
	copy(out, b.fragments)
	return out
}

func (b *SequencedBuffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.fragments)
}

// HasContent reports whether any real fragment has been stored.
func (b *SequencedBuffer) HasContent() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, f := range b.fragments {
		if f.Index != types.PlaceholderIndex {
			return true
		}
	}
	return false
}
