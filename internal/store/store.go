package store

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a conversation id is unknown.
var ErrNotFound = errors.New("conversation not found")

// Role tags a turn's author.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one role-tagged message in a conversation transcript.
type Turn struct {
	Role    Role
	Content string
}

// Conversation is an append-only transcript identified by an opaque id.
type Conversation struct {
	ID        string
	Turns     []Turn
	UpdatedAt time.Time
}

// Summary is a read-only projection of a conversation for listings.
type Summary struct {
	ID           string
	MessageCount int
	LastMessage  string
	UpdatedAt    time.Time
}

// Store holds conversations in memory. Appends to different conversations are
// safe concurrently; appends to the same id are serialized by the store lock.
type Store struct {
	mu    sync.RWMutex
	convs map[string]*Conversation
	clock func() time.Time
}

// New constructs an empty store.
func New() *Store {
	return &Store{
		convs: make(map[string]*Conversation),
		clock: time.Now,
	}
}

// Create allocates a fresh conversation and returns its id.
func (s *Store) Create() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.NewString()
	s.convs[id] = &Conversation{ID: id, UpdatedAt: s.clock()}
	return id
}

// Append adds a turn to a known conversation and bumps its timestamp.
func (s *Store) Append(id string, turn Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.convs[id]
	if !ok {
		return ErrNotFound
	}

	conv.Turns = append(conv.Turns, turn)
	conv.UpdatedAt = s.clock()
	return nil
}

// Get returns a copy of the conversation with the given id.
func (s *Store) Get(id string) (Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok := s.convs[id]
	if !ok {
		return Conversation{}, ErrNotFound
	}

	out := Conversation{ID: conv.ID, UpdatedAt: conv.UpdatedAt}
	out.Turns = append(out.Turns, conv.Turns...)
	return out, nil
}

// Exists reports whether a conversation id is known.
func (s *Store) Exists(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.convs[id]
	return ok
}

// ListSummaries returns one summary per conversation, most recently active first.
func (s *Store) ListSummaries() []Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Summary, 0, len(s.convs))
	for _, conv := range s.convs {
		sum := Summary{
			ID:           conv.ID,
			MessageCount: len(conv.Turns),
			UpdatedAt:    conv.UpdatedAt,
		}
		if n := len(conv.Turns); n > 0 {
			sum.LastMessage = conv.Turns[n-1].Content
		}
		out = append(out, sum)
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}
