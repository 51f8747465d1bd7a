package bot

import "sync"

// lanes serializes work per user. Entries are reference counted and
// removed when the last holder leaves, so idle users cost nothing.
type lanes struct {
	mu sync.Mutex
	m  map[int64]*lane
}

type lane struct {
	mu   sync.Mutex
	refs int
}

func newLanes() *lanes {
	return &lanes{m: make(map[int64]*lane)}
}

// lock blocks until the user's lane is free and returns its release func.
func (l *lanes) lock(userID int64) func() {
	l.mu.Lock()
	ln, ok := l.m[userID]
	if !ok {
		ln = &lane{}
		l.m[userID] = ln
	}
	ln.refs++
	l.mu.Unlock()

	ln.mu.Lock()
	return func() {
		ln.mu.Unlock()

		l.mu.Lock()
		ln.refs--
		if ln.refs == 0 {
			delete(l.m, userID)
		}
		l.mu.Unlock()
	}
}

func (l *lanes) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.m)
}

// holders counts the callers holding or waiting on a user's lane.
func (l *lanes) holders(userID int64) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if ln, ok := l.m[userID]; ok {
		return ln.refs
	}
	return 0
}
