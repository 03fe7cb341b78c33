package presence

import (
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestKeyedMutexSerializesSameKey(t *testing.T) {
	km := NewKeyedMutex()
	key := uuid.New()

	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := km.Lock(key)
			defer unlock()
			counter++
		}()
	}
	wg.Wait()

	assert.Equal(t, 100, counter)
}

func TestKeyedMutexIndependentKeys(t *testing.T) {
	km := NewKeyedMutex()
	a, b := uuid.New(), uuid.New()

	unlockA := km.Lock(a)

	// a held does not block b
	done := make(chan struct{})
	go func() {
		unlockB := km.Lock(b)
		unlockB()
		close(done)
	}()
	<-done

	unlockA()
}

func TestKeyedMutexReapsIdleEntries(t *testing.T) {
	km := NewKeyedMutex()

	unlock := km.Lock(uuid.New())
	assert.Equal(t, 1, km.Len())
	unlock()
	assert.Equal(t, 0, km.Len())
}

func TestKeyedMutexReapsOnlyAtZeroRefs(t *testing.T) {
	km := NewKeyedMutex()
	key := uuid.New()

	unlock1 := km.Lock(key)

	released := make(chan func(), 1)
	go func() {
		released <- km.Lock(key)
	}()

	// the waiter holds a reference, so the entry survives the first unlock
	unlock1()
	unlock2 := <-released
	unlock2()
	assert.Equal(t, 0, km.Len())
}
