package dispatch

// dedupeWindow remembers the most recent delivery keys in FIFO order.
// When capacity is reached the oldest key is forgotten, so a key can be
// seen again after enough traffic has passed. Callers hold the
// dispatcher mutex; the window itself is not safe for concurrent use.
type dedupeWindow struct {
	cap   int
	order []string
	set   map[string]struct{}
}

func newDedupeWindow(capacity int) *dedupeWindow {
	if capacity <= 0 {
		capacity = 2000
	}
	return &dedupeWindow{
		cap: capacity,
		set: make(map[string]struct{}, capacity),
	}
}

// Seen reports whether key was recorded before and records it if not.
func (w *dedupeWindow) Seen(key string) bool {
	if _, ok := w.set[key]; ok {
		return true
	}
	if len(w.order) >= w.cap {
		oldest := w.order[0]
		w.order = w.order[1:]
		delete(w.set, oldest)
	}
	w.order = append(w.order, key)
	w.set[key] = struct{}{}
	return false
}
