package backend

import "sync"

// AuthListeners fans auth events out to registered callbacks. Both
// platform implementations embed one.
type AuthListeners struct {
	mu     sync.RWMutex
	nextID int
	fns    map[int]func(AuthEvent)
}

func (l *AuthListeners) OnAuthStateChange(fn func(AuthEvent)) func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fns == nil {
		l.fns = make(map[int]func(AuthEvent))
	}
	id := l.nextID
	l.nextID++
	l.fns[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.fns, id)
			l.mu.Unlock()
		})
	}
}

// Emit calls every listener synchronously. Listeners must not block.
func (l *AuthListeners) Emit(event AuthEvent) {
	l.mu.RLock()
	fns := make([]func(AuthEvent), 0, len(l.fns))
	for _, fn := range l.fns {
		fns = append(fns, fn)
	}
	l.mu.RUnlock()

	for _, fn := range fns {
		fn(event)
	}
}
