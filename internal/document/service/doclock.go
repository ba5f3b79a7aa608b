package service

import "sync"

// docLocks hands out one mutex per document id and forgets it once no
// caller holds or waits for it.
type docLocks struct {
	mu    sync.Mutex
	locks map[string]*docLock
}

type docLock struct {
	mu   sync.Mutex
	refs int
}

func newDocLocks() *docLocks {
	return &docLocks{locks: make(map[string]*docLock)}
}

// lock blocks until the caller is the only writer of docID and returns the
// matching unlock.
func (l *docLocks) lock(docID string) func() {
	l.mu.Lock()
	dl, ok := l.locks[docID]
	if !ok {
		dl = &docLock{}
		l.locks[docID] = dl
	}
	dl.refs++
	l.mu.Unlock()

	dl.mu.Lock()
	return func() {
		dl.mu.Unlock()
		l.mu.Lock()
		dl.refs--
		if dl.refs == 0 {
			delete(l.locks, docID)
		}
		l.mu.Unlock()
	}
}

func (l *docLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
