package worker

import (
	"testing"
	"time"
)

func TestButcherMutexReentrant(t *testing.T) {
	m := NewButcherMutex()
	m.Lock(1)
	m.Lock(1) // same owner, should not block
	m.Unlock(1)
	if _, held := m.Holder(); !held {
		t.Fatal("Holder() reports unheld after first Unlock of a depth-2 lock")
	}
	m.Unlock(1)
	if _, held := m.Holder(); held {
		t.Fatal("Holder() reports held after balanced Unlock")
	}
}

func TestButcherMutexBlocksOtherOwner(t *testing.T) {
	m := NewButcherMutex()
	m.Lock(1)

	acquired := make(chan struct{})
	go func() {
		m.Lock(2)
		close(acquired)
		m.Unlock(2)
	}()

	select {
	case <-acquired:
		t.Fatal("owner 2 acquired the mutex while owner 1 held it")
	case <-time.After(20 * time.Millisecond):
	}

	m.Unlock(1)
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("owner 2 never acquired the mutex after owner 1 released it")
	}
}

func TestButcherMutexUnlockByNonOwnerPanics(t *testing.T) {
	m := NewButcherMutex()
	m.Lock(1)
	defer func() {
		if recover() == nil {
			t.Fatal("Unlock by non-owner did not panic")
		}
	}()
	m.Unlock(2)
}

func TestButcherMutexForceRelease(t *testing.T) {
	m := NewButcherMutex()
	m.Lock(1)
	m.Lock(1)
	m.ForceRelease()
	if _, held := m.Holder(); held {
		t.Fatal("Holder() reports held after ForceRelease")
	}
	m.Lock(2) // should not block
	m.Unlock(2)
}
