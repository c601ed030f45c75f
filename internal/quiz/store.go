package quiz

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("quiz: question not found")

type entry struct {
	question  Question
	createdAt time.Time
}

// Store keeps issued questions so answers can be checked without sending the
// correct option to the client.
type Store struct {
	mu  sync.Mutex
	m   map[string]entry
	ttl time.Duration
	now func() time.Time
}

func NewStore(ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Store{
		m:   make(map[string]entry),
		ttl: ttl,
		now: time.Now,
	}
}

func (s *Store) Put(q Question) string {
	id := uuid.NewString()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.pruneLocked()
	s.m[id] = entry{question: q, createdAt: s.now()}
	return id
}

func (s *Store) Get(id string) (Question, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.m[id]
	if !ok || s.now().Sub(e.createdAt) > s.ttl {
		return Question{}, ErrNotFound
	}
	return e.question, nil
}

func (s *Store) Answer(id, selected string) (Feedback, error) {
	q, err := s.Get(id)
	if err != nil {
		return Feedback{}, err
	}
	return Check(q, selected), nil
}

func (s *Store) pruneLocked() {
	now := s.now()
	for id, e := range s.m {
		if now.Sub(e.createdAt) > s.ttl {
			delete(s.m, id)
		}
	}
}
