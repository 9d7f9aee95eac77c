package snapshot

import (
	"sync"
)

type subCh = chan string // carries new ETags

var (
	mu   sync.Mutex
	subs = make(map[subCh]struct{})
)

// Subscribe registers a listener and returns its channel and an unsubscribe func.
func Subscribe() (subCh, func()) {
	ch := make(subCh, 1)
	mu.Lock()
	subs[ch] = struct{}{}
	mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			mu.Lock()
			delete(subs, ch)
			close(ch)
			mu.Unlock()
		})
	}
	return ch, unsub
}

// Subscribers returns the number of registered listeners.
func Subscribers() int {
	mu.Lock()
	defer mu.Unlock()
	return len(subs)
}

// publishUpdate notifies all listeners without blocking. A pending ETag a
// listener has not read yet is replaced, so a slow listener skips
// intermediate ETags but its next read is the newest one.
func publishUpdate(etag string) {
	mu.Lock()
	defer mu.Unlock()
	for ch := range subs {
		select {
		case <-ch:
		default:
		}
		ch <- etag
	}
}
