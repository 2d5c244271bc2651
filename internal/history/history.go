package history

import (
	"reflect"
	"sync"
	"time"
)

const DefaultMaxDepth = 50

// Options configures a History. Zero values pick the defaults.
type Options[T any] struct {
	// MaxDepth caps the past stack; the oldest entry is evicted beyond it.
	MaxDepth int
	// Debounce is the quiet window after which a push starts a new undo step.
	// Pushes closer together than Debounce extend the current step.
	Debounce time.Duration
	// Equal decides whether a push is a no-op. Defaults to reflect.DeepEqual.
	Equal func(a, b T) bool
	Now   func() time.Time
}

// History is a bounded undo/redo stack over snapshots of T.
type History[T any] struct {
	mu      sync.Mutex
	past    []T
	present T
	future  []T

	opts     Options[T]
	lastPush time.Time
	inBurst  bool
}

func New[T any](initial T, opts Options[T]) *History[T] {
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = DefaultMaxDepth
	}
	if opts.Equal == nil {
		opts.Equal = func(a, b T) bool { return reflect.DeepEqual(a, b) }
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &History[T]{present: initial, opts: opts}
}

// Push makes state the present. It returns false when state equals the
// present and nothing changed. Within a debounce burst only the first push
// records an undo step; later ones replace the present in place.
func (h *History[T]) Push(state T) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.opts.Equal(state, h.present) {
		return false
	}
	now := h.opts.Now()
	coalesce := h.inBurst && h.opts.Debounce > 0 && now.Sub(h.lastPush) < h.opts.Debounce
	if !coalesce {
		h.past = append(h.past, h.present)
		if over := len(h.past) - h.opts.MaxDepth; over > 0 {
			h.past = append([]T(nil), h.past[over:]...)
		}
	}
	h.present = state
	h.future = nil
	h.lastPush = now
	h.inBurst = true
	return true
}

// Undo steps back. ok is false when there is nothing to undo.
func (h *History[T]) Undo() (state T, ok bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.past) == 0 {
		return state, false
	}
	last := len(h.past) - 1
	prev := h.past[last]
	h.past = h.past[:last]
	h.future = append([]T{h.present}, h.future...)
	h.present = prev
	h.inBurst = false
	return prev, true
}

// Redo re-applies the most recently undone state.
func (h *History[T]) Redo() (state T, ok bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.future) == 0 {
		return state, false
	}
	next := h.future[0]
	h.future = h.future[1:]
	h.past = append(h.past, h.present)
	h.present = next
	h.inBurst = false
	return next, true
}

// Present returns the newest state, including debounced pushes.
func (h *History[T]) Present() T {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.present
}

// Reset drops all history and sets the present.
func (h *History[T]) Reset(state T) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.past = nil
	h.future = nil
	h.present = state
	h.inBurst = false
}

func (h *History[T]) CanUndo() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.past) > 0
}

func (h *History[T]) CanRedo() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.future) > 0
}

// Depth returns the sizes of the past and future stacks.
func (h *History[T]) Depth() (past, future int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.past), len(h.future)
}
