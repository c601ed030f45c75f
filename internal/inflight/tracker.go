// Package inflight keeps at most one running request per key. Starting a new
// request for a key cancels the one already running for it.
package inflight

import (
	"context"
	"sync"
)

type Tracker struct {
	mu      sync.Mutex
	seq     uint64
	running map[string]*entry
}

type entry struct {
	id     uint64
	cancel context.CancelFunc
}

func New() *Tracker {
	return &Tracker{running: make(map[string]*entry)}
}

// Begin derives a request context for key and cancels the previous request
// registered under the same key. The returned done func must be called when
// the request finishes; it only clears the slot if no newer request replaced it.
func (t *Tracker) Begin(ctx context.Context, key string) (context.Context, func()) {
	reqCtx, cancel := context.WithCancel(ctx)

	t.mu.Lock()
	t.seq++
	id := t.seq
	if prev, ok := t.running[key]; ok {
		prev.cancel()
	}
	t.running[key] = &entry{id: id, cancel: cancel}
	t.mu.Unlock()

	done := func() {
		t.mu.Lock()
		if cur, ok := t.running[key]; ok && cur.id == id {
			delete(t.running, key)
		}
		t.mu.Unlock()
		cancel()
	}
	return reqCtx, done
}

// Superseded reports whether ctx was canceled by a newer Begin for the same
// key rather than by its parent.
func Superseded(parent, ctx context.Context) bool {
	return ctx.Err() != nil && parent.Err() == nil
}

func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.running)
}
