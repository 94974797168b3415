package session

// DefaultHistoryCap is the default number of entries kept per session.
const DefaultHistoryCap = 100

// History is a fixed-capacity ring of history entries. When full, appending
// overwrites the oldest entry. It is not safe for concurrent use; the Manager
// guards it with the table lock.
type History struct {
	buf  []HistoryEntry
	head int // next write position
	size int
}

// NewHistory creates a ring holding at most capacity entries.
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = DefaultHistoryCap
	}
	return &History{buf: make([]HistoryEntry, capacity)}
}

// Append adds e as the newest entry.
func (h *History) Append(e HistoryEntry) {
	h.buf[h.head] = e
	h.head = (h.head + 1) % len(h.buf)
	if h.size < len(h.buf) {
		h.size++
	}
}

// Len returns the number of retained entries.
func (h *History) Len() int {
	return h.size
}

// Capacity returns the maximum number of retained entries.
func (h *History) Capacity() int {
	return len(h.buf)
}

// Last returns up to n of the newest entries, oldest first.
// A negative n returns every retained entry.
func (h *History) Last(n int) []HistoryEntry {
	if n < 0 || n > h.size {
		n = h.size
	}
	out := make([]HistoryEntry, n)
	start := (h.head - n + len(h.buf)) % len(h.buf)
	for i := 0; i < n; i++ {
		out[i] = h.buf[(start+i)%len(h.buf)]
	}
	return out
}

// Entries returns every retained entry, oldest first.
func (h *History) Entries() []HistoryEntry {
	return h.Last(-1)
}
