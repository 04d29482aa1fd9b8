package rate

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is a process-local Store.
type MemoryStore struct {
	mu       sync.Mutex
	attempts map[string][]time.Time
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{attempts: make(map[string][]time.Time)}
}

// Admit implements Store.
func (s *MemoryStore) Admit(_ context.Context, key string, now time.Time, window time.Duration, max int) (Window, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := now.Add(-window)
	list := s.attempts[key]
	// list is kept ascending; find the first attempt inside the window.
	i := sort.Search(len(list), func(i int) bool { return !list[i].Before(start) })
	list = list[i:]

	w := Window{Count: len(list)}
	if len(list) > 0 {
		w.Oldest = list[0]
	}
	if len(list) < max {
		pos := sort.Search(len(list), func(i int) bool { return list[i].After(now) })
		list = append(list, time.Time{})
		copy(list[pos+1:], list[pos:])
		list[pos] = now
		w.Admitted = true
	}

	if len(list) == 0 {
		delete(s.attempts, key)
	} else {
		s.attempts[key] = list
	}
	return w, nil
}

// Prune implements Store.
func (s *MemoryStore) Prune(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for k, list := range s.attempts {
		i := sort.Search(len(list), func(i int) bool { return !list[i].Before(before) })
		removed += int64(i)
		if i == len(list) {
			delete(s.attempts, k)
			continue
		}
		s.attempts[k] = list[i:]
	}
	return removed, nil
}

// Len returns the number of tracked keys.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.attempts)
}
