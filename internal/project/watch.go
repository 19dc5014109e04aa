package project

import "sync"

type subscriber chan Snapshot

// hub fans snapshots out to subscribers without blocking mutators. Each
// subscriber holds at most one pending snapshot, always the latest: a newer
// snapshot replaces one that has not been received yet.
type hub struct {
	mu   sync.RWMutex
	subs map[subscriber]struct{}
}

func newHub() *hub { return &hub{subs: map[subscriber]struct{}{}} }

func (h *hub) subscribe() (<-chan Snapshot, func()) {
	ch := make(subscriber, 1)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, ch)
			close(ch)
			h.mu.Unlock()
		})
	}
	return ch, unsubscribe
}

func (h *hub) publish(snap Snapshot) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs {
		select {
		case ch <- snap:
			continue
		default:
		}
		// Replace the stale pending snapshot. Publishers are serialised by
		// the store lock, so the slot is free after the drain.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snap:
		default:
		}
	}
}
