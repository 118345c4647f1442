package storage

import "sync"

type subscriber struct {
	path string
	fn   func(Snapshot)

	mu      sync.Mutex
	pending *Snapshot
	wake    chan struct{}
	done    chan struct{}
	once    sync.Once
}

// offer replaces any undelivered snapshot with snap.
func (s *subscriber) offer(snap Snapshot) {
	s.mu.Lock()
	s.pending = &snap
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscriber) run() {
	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
			s.mu.Lock()
			snap := s.pending
			s.pending = nil
			s.mu.Unlock()
			if snap != nil {
				s.fn(*snap)
			}
		}
	}
}

func (s *subscriber) stop() {
	s.once.Do(func() { close(s.done) })
}

// hub fans document changes out to per-path subscribers.
type hub struct {
	mu   sync.Mutex
	subs map[string]map[*subscriber]struct{}
	wg   sync.WaitGroup
}

func newHub() *hub {
	return &hub{subs: make(map[string]map[*subscriber]struct{})}
}

func (h *hub) add(path string, fn func(Snapshot)) *subscriber {
	sub := &subscriber{
		path: path,
		fn:   fn,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}

	h.mu.Lock()
	if h.subs[path] == nil {
		h.subs[path] = make(map[*subscriber]struct{})
	}
	h.subs[path][sub] = struct{}{}
	h.mu.Unlock()

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		sub.run()
	}()
	return sub
}

func (h *hub) remove(sub *subscriber) {
	h.mu.Lock()
	if set := h.subs[sub.path]; set != nil {
		delete(set, sub)
		if len(set) == 0 {
			delete(h.subs, sub.path)
		}
	}
	h.mu.Unlock()
	sub.stop()
}

// publish notifies subscribers of snap.Path and, for deletions, of every
// path beneath it.
func (h *hub) publish(snap Snapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for sub := range h.subs[snap.Path] {
		sub.offer(snap)
	}
	if snap.Exists {
		return
	}
	prefix := snap.Path + "/"
	for path, set := range h.subs {
		if len(path) <= len(prefix) || path[:len(prefix)] != prefix {
			continue
		}
		for sub := range set {
			sub.offer(Snapshot{Path: path})
		}
	}
}

func (h *hub) close() {
	h.mu.Lock()
	var all []*subscriber
	for _, set := range h.subs {
		for sub := range set {
			all = append(all, sub)
		}
	}
	h.subs = make(map[string]map[*subscriber]struct{})
	h.mu.Unlock()

	for _, sub := range all {
		sub.stop()
	}
	h.wg.Wait()
}
