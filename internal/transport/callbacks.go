package transport

import "sync"

// callbackList is a registry of event callbacks. Multiple registrations are
// allowed and all are invoked; each registration returns an unregister func
// so collaborators can detach on teardown instead of leaking handlers.
type callbackList[T any] struct {
	mu   sync.Mutex
	next int
	fns  map[int]func(T)
}

func (l *callbackList[T]) add(fn func(T)) func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fns == nil {
		l.fns = make(map[int]func(T))
	}
	id := l.next
	l.next++
	l.fns[id] = fn
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.fns, id)
	}
}

func (l *callbackList[T]) fire(v T) {
	l.mu.Lock()
	fns := make([]func(T), 0, len(l.fns))
	for _, fn := range l.fns {
		fns = append(fns, fn)
	}
	l.mu.Unlock()

	for _, fn := range fns {
		fn(v)
	}
}

func (l *callbackList[T]) clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.fns = nil
}
