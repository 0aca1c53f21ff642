package devicelist

import (
	"sync"

	"keyward/internal/domain"
)

// userLocks hands out one mutex per user id. Entries are dropped once no
// goroutine holds or waits for them.
type userLocks struct {
	mu    sync.Mutex
	locks map[domain.UserID]*userLock
}

type userLock struct {
	mu   sync.Mutex
	refs int
}

func newUserLocks() *userLocks {
	return &userLocks{locks: make(map[domain.UserID]*userLock)}
}

// lock blocks until the caller holds user's lock and returns the release func.
func (l *userLocks) lock(user domain.UserID) func() {
	l.mu.Lock()
	ul, ok := l.locks[user]
	if !ok {
		ul = &userLock{}
		l.locks[user] = ul
	}
	ul.refs++
	l.mu.Unlock()

	ul.mu.Lock()
	return func() {
		ul.mu.Unlock()
		l.mu.Lock()
		ul.refs--
		if ul.refs == 0 {
			delete(l.locks, user)
		}
		l.mu.Unlock()
	}
}
