package conversation

import "sync"

// History is the ordered, append-only record of a session's turns.
type History struct {
	mu    sync.RWMutex
	turns []Turn
}

// Append adds t at the end. A turn stamped earlier than the last one is
// moved up to the last turn's time so creation order and insertion order
// agree.
func (h *History) Append(t Turn) Turn {
	h.mu.Lock()
	defer h.mu.Unlock()
	if n := len(h.turns); n > 0 && t.CreatedAt.Before(h.turns[n-1].CreatedAt) {
		t.CreatedAt = h.turns[n-1].CreatedAt
	}
	h.turns = append(h.turns, t)
	return t
}

// Turns returns a copy of all turns in order.
func (h *History) Turns() []Turn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Turn, len(h.turns))
	copy(out, h.turns)
	return out
}

// Len returns the number of turns.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.turns)
}

// Clear removes every turn.
func (h *History) Clear() {
	h.mu.Lock()
	h.turns = nil
	h.mu.Unlock()
}
