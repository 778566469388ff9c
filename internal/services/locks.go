package services

import "sync"

// ChatLocker serializes writes per chat so message inserts and the
// chat's last_message_id bump happen as a unit. The pipeline and the
// AI bridge share one locker so human and assistant writes to the same
// chat never interleave. Entries are reference-counted and evicted when
// the last holder unlocks, keeping the map proportional to the number
// of chats being written right now.
type ChatLocker struct {
	mu    sync.Mutex
	locks map[int]*chatLock
}

type chatLock struct {
	sync.Mutex
	refs int
}

func NewChatLocker() *ChatLocker {
	return &ChatLocker{locks: make(map[int]*chatLock)}
}

// Lock acquires the chat's mutex, creating it on first use.
func (l *ChatLocker) Lock(chatID int) {
	l.mu.Lock()
	entry, ok := l.locks[chatID]
	if !ok {
		entry = &chatLock{}
		l.locks[chatID] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.Mutex.Lock()
}

// Unlock releases the chat's mutex and drops the entry once nobody else
// holds or waits on it.
func (l *ChatLocker) Unlock(chatID int) {
	l.mu.Lock()
	entry := l.locks[chatID]
	entry.refs--
	if entry.refs == 0 {
		delete(l.locks, chatID)
	}
	l.mu.Unlock()

	entry.Mutex.Unlock()
}
