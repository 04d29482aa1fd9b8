package backend

import (
	"sync"

	"github.com/MrEthical07/goGuard/identity"
)

// Listeners is the subscription registry shared by credential stores. The
// zero value is ready to use.
type Listeners struct {
	mu   sync.Mutex
	fns  map[int]func(identity.AuthChange)
	next int
}

// Subscribe adds fn; calling the returned func more than once is harmless.
func (l *Listeners) Subscribe(fn func(identity.AuthChange)) func() {
	l.mu.Lock()
	if l.fns == nil {
		l.fns = make(map[int]func(identity.AuthChange))
	}
	id := l.next
	l.next++
	l.fns[id] = fn
	l.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.fns, id)
			l.mu.Unlock()
		})
	}
}

// Notify calls every listener synchronously without holding the lock.
func (l *Listeners) Notify(ch identity.AuthChange) {
	l.mu.Lock()
	fns := make([]func(identity.AuthChange), 0, len(l.fns))
	for _, fn := range l.fns {
		fns = append(fns, fn)
	}
	l.mu.Unlock()

	for _, fn := range fns {
		fn(ch)
	}
}
