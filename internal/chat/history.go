package chat

import (
	"sync"
	"time"
)

const (
	RoleUser = "user"
	RoleAI   = "ai"
)

type Message struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

type conversation struct {
	messages     []Message
	lastActivity time.Time
}

// History holds the visible transcript of each conversation. It is display
// state only; nothing in it is sent back to the model.
type History struct {
	mu          sync.Mutex
	convs       map[string]*conversation
	maxMessages int
}

// NewHistory caps each transcript at maxMessages; zero or less keeps
// everything.
func NewHistory(maxMessages int) *History {
	if maxMessages < 0 {
		maxMessages = 0
	}
	return &History{
		convs:       make(map[string]*conversation),
		maxMessages: maxMessages,
	}
}

func (h *History) Append(id string, msgs ...Message) {
	if len(msgs) == 0 {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	conv := h.getOrCreateLocked(id)
	conv.lastActivity = time.Now()
	conv.messages = append(conv.messages, msgs...)
	if h.maxMessages > 0 && len(conv.messages) > h.maxMessages {
		conv.messages = conv.messages[len(conv.messages)-h.maxMessages:]
	}
}

func (h *History) Snapshot(id string) []Message {
	h.mu.Lock()
	defer h.mu.Unlock()

	conv, ok := h.convs[id]
	if !ok {
		return nil
	}
	out := make([]Message, len(conv.messages))
	copy(out, conv.messages)
	return out
}

func (h *History) Clear(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.convs, id)
}

// Prune drops conversations idle for longer than maxIdle and returns how many
// were removed.
func (h *History) Prune(maxIdle time.Duration) int {
	cutoff := time.Now().Add(-maxIdle)

	h.mu.Lock()
	defer h.mu.Unlock()

	removed := 0
	for id, conv := range h.convs {
		if conv.lastActivity.Before(cutoff) {
			delete(h.convs, id)
			removed++
		}
	}
	return removed
}

func (h *History) getOrCreateLocked(id string) *conversation {
	if conv, ok := h.convs[id]; ok {
		return conv
	}
	conv := &conversation{lastActivity: time.Now()}
	h.convs[id] = conv
	return conv
}
