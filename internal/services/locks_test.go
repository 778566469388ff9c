package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestChatLockerEvictsIdleEntries(t *testing.T) {
	l := NewChatLocker()

	l.Lock(7)
	l.Unlock(7)

	assert.Empty(t, l.locks)
}

func TestChatLockerSerializesSameChat(t *testing.T) {
	l := NewChatLocker()
	l.Lock(7)

	done := make(chan struct{})
	go func() {
		l.Lock(7)
		l.Unlock(7)
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("second holder entered before the first released")
	case <-time.After(20 * time.Millisecond):
	}

	l.Unlock(7)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("second holder never entered")
	}

	assert.Empty(t, l.locks)
}

func TestChatLockerDifferentChatsDoNotBlock(t *testing.T) {
	l := NewChatLocker()
	l.Lock(1)

	done := make(chan struct{})
	go func() {
		l.Lock(2)
		l.Unlock(2)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("unrelated chat blocked")
	}

	l.Unlock(1)
	assert.Empty(t, l.locks)
}
