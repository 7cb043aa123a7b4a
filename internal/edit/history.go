package edit

import "github.com/maruel/ksid"

// history is a fixed capacity ring of records; the oldest is evicted on
// overflow.
type history struct {
	items []Record
	start int
	n     int
}

func newHistory(capacity int) *history {
	return &history{items: make([]Record, capacity)}
}

func (h *history) add(r Record) {
	if len(h.items) == 0 {
		return
	}
	if h.n < len(h.items) {
		h.items[(h.start+h.n)%len(h.items)] = r
		h.n++
		return
	}
	h.items[h.start] = r
	h.start = (h.start + 1) % len(h.items)
}

func (h *history) at(i int) Record {
	return h.items[(h.start+i)%len(h.items)]
}

func (h *history) find(id ksid.ID) (Record, bool) {
	for i := h.n - 1; i >= 0; i-- {
		if r := h.at(i); r.ID == id {
			return r, true
		}
	}
	return Record{}, false
}

// snapshot returns the records oldest first.
func (h *history) snapshot() []Record {
	out := make([]Record, h.n)
	for i := range h.n {
		out[i] = h.at(i)
	}
	return out
}
