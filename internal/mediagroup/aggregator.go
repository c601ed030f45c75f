// Package mediagroup collects the photos of a Telegram album, which arrive as
// separate updates sharing a media_group_id, and hands them over as one batch
// once no new photo has arrived for a short while.
package mediagroup

import (
	"sync"
	"time"
)

const DefaultWait = 1200 * time.Millisecond

type Photo struct {
	ChatID       int64
	MediaGroupID string
	Caption      string
	FileID       string
}

type Album struct {
	ChatID  int64
	Caption string
	FileIDs []string
}

type Options struct {
	Wait    time.Duration
	OnReady func(Album)
}

type Aggregator struct {
	mu      sync.Mutex
	wait    time.Duration
	onReady func(Album)
	pending map[albumKey]*pendingAlbum
}

type albumKey struct {
	chatID int64
	group  string
}

type pendingAlbum struct {
	album Album
	timer *time.Timer
}

func New(opts Options) *Aggregator {
	wait := opts.Wait
	if wait <= 0 {
		wait = DefaultWait
	}

	return &Aggregator{
		wait:    wait,
		onReady: opts.OnReady,
		pending: make(map[albumKey]*pendingAlbum),
	}
}

// Add queues one album photo and restarts the album's quiet timer. It reports
// false for photos that are not part of an album.
func (a *Aggregator) Add(p Photo) bool {
	if p.MediaGroupID == "" || p.FileID == "" {
		return false
	}

	key := albumKey{chatID: p.ChatID, group: p.MediaGroupID}

	a.mu.Lock()
	defer a.mu.Unlock()

	pa, ok := a.pending[key]
	if !ok {
		pa = &pendingAlbum{album: Album{ChatID: p.ChatID}}
		a.pending[key] = pa
	}
	pa.album.FileIDs = append(pa.album.FileIDs, p.FileID)
	// Telegram puts the caption on one photo only, not always the first.
	if p.Caption != "" {
		pa.album.Caption = p.Caption
	}

	if pa.timer != nil {
		pa.timer.Stop()
	}
	pa.timer = time.AfterFunc(a.wait, func() { a.release(key) })
	return true
}

func (a *Aggregator) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pending)
}

func (a *Aggregator) release(key albumKey) {
	a.mu.Lock()
	pa, ok := a.pending[key]
	if ok {
		delete(a.pending, key)
	}
	onReady := a.onReady
	a.mu.Unlock()

	if ok && onReady != nil {
		onReady(pa.album)
	}
}
