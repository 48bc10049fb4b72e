package store

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"logsight-backend/internal/dto"
)

var ErrThreadNotFound = errors.New("conversation thread not found")

// ConversationStore is the append-only turn log per analysis thread. The
// in-memory implementation is the default; any durable backing can be
// substituted behind this interface.
type ConversationStore interface {
	CreateThread(ctx context.Context) (string, error)
	EnsureThread(ctx context.Context, threadID string) error
	GetHistory(ctx context.Context, threadID string) ([]dto.ConversationTurn, error)
	AppendTurn(ctx context.Context, threadID string, turn dto.ConversationTurn) error
}

type inMemoryConversationStore struct {
	threads map[string][]dto.ConversationTurn
	mu      sync.RWMutex
}

func NewInMemoryConversationStore() ConversationStore {
	return &inMemoryConversationStore{
		threads: make(map[string][]dto.ConversationTurn),
	}
}

func (s *inMemoryConversationStore) CreateThread(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	newID := uuid.NewString()
	s.threads[newID] = make([]dto.ConversationTurn, 0)
	return newID, nil
}

func (s *inMemoryConversationStore) EnsureThread(ctx context.Context, threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.threads[threadID]; !ok {
		s.threads[threadID] = make([]dto.ConversationTurn, 0)
	}
	return nil
}

func (s *inMemoryConversationStore) GetHistory(ctx context.Context, threadID string) ([]dto.ConversationTurn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	turns, ok := s.threads[threadID]
	if !ok {
		return nil, ErrThreadNotFound
	}
	history := make([]dto.ConversationTurn, len(turns))
	copy(history, turns)
	return history, nil
}

func (s *inMemoryConversationStore) AppendTurn(ctx context.Context, threadID string, turn dto.ConversationTurn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	turns, ok := s.threads[threadID]
	if !ok {
		return ErrThreadNotFound
	}
	s.threads[threadID] = append(turns, turn)
	return nil
}
