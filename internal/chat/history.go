package chat

import (
	"time"

	"persona-chat/internal/domain"
)

// DuplicateWindow bounds how far apart an optimistic local echo and the
// store's echo of the same write may be and still be treated as one entry.
const DuplicateWindow = time.Second

// history is the in-memory conversation, oldest first. Not safe for
// concurrent use; Controller guards it.
type history struct {
	entries []domain.Message
}

func (h *history) append(m domain.Message) {
	h.entries = append(h.entries, m)
}

// merge appends m unless it duplicates an entry already present and reports
// whether it was appended.
func (h *history) merge(m domain.Message) bool {
	for _, e := range h.entries {
		if isDuplicate(e, m) {
			return false
		}
	}
	h.entries = append(h.entries, m)
	return true
}

func (h *history) snapshot() []domain.Message {
	out := make([]domain.Message, len(h.entries))
	copy(out, h.entries)
	return out
}

// isDuplicate reports whether a and b have the same role and content and
// timestamps less than DuplicateWindow apart.
func isDuplicate(a, b domain.Message) bool {
	if a.Role != b.Role || a.Content != b.Content {
		return false
	}
	d := a.Timestamp.Sub(b.Timestamp)
	if d < 0 {
		d = -d
	}
	return d < DuplicateWindow
}
