package flow

import "sync"

// senderLocks serializes processing per sender. Entries are reference counted
// and removed once no goroutine holds or waits for them.
type senderLocks struct {
	mu    sync.Mutex
	locks map[string]*senderLock
}

type senderLock struct {
	mu   sync.Mutex
	refs int
}

func newSenderLocks() *senderLocks {
	return &senderLocks{locks: make(map[string]*senderLock)}
}

// Lock blocks until the sender's lock is held and returns its release func.
func (l *senderLocks) Lock(sender string) func() {
	l.mu.Lock()
	sl, ok := l.locks[sender]
	if !ok {
		sl = &senderLock{}
		l.locks[sender] = sl
	}
	sl.refs++
	l.mu.Unlock()

	sl.mu.Lock()
	return func() {
		sl.mu.Unlock()
		l.mu.Lock()
		sl.refs--
		if sl.refs == 0 {
			delete(l.locks, sender)
		}
		l.mu.Unlock()
	}
}

// size reports how many senders currently have a lock entry.
func (l *senderLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
