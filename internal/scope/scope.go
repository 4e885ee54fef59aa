// Package scope serializes work on a single (conversation, user) pair.
//
// Sync and outbox drain both read-modify-write the same cached message
// list. Holding the scope lock across the whole sequence keeps one from
// clobbering the other's write.
package scope

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Key identifies a conversation as seen by one user.
type Key struct {
	Conversation string
	User         string
}

func (k Key) String() string {
	return k.Conversation + "/" + k.User
}

type entry struct {
	sem  *semaphore.Weighted
	refs int
}

// Locks is a set of per-scope mutexes. Entries are created on demand and
// dropped once nobody holds or waits for them.
type Locks struct {
	mu      sync.Mutex
	entries map[Key]*entry
}

// NewLocks returns an empty lock set.
func NewLocks() *Locks {
	return &Locks{entries: make(map[Key]*entry)}
}

// Lock blocks until the scope is free or ctx is done. The returned unlock
// func is safe to call more than once.
func (l *Locks) Lock(ctx context.Context, k Key) (func(), error) {
	l.mu.Lock()
	e, ok := l.entries[k]
	if !ok {
		e = &entry{sem: semaphore.NewWeighted(1)}
		l.entries[k] = e
	}
	e.refs++
	l.mu.Unlock()

	if err := e.sem.Acquire(ctx, 1); err != nil {
		l.release(k, e)
		return nil, err
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			e.sem.Release(1)
			l.release(k, e)
		})
	}, nil
}

func (l *Locks) release(k Key, e *entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.entries, k)
	}
}

// Len reports how many scopes currently have holders or waiters.
func (l *Locks) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
