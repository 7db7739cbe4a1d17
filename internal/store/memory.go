package store

import (
	"context"
	"sort"
	"sync"

	"raffle/internal/models"
)

// MemoryStore keeps profiles in process memory. Contents are lost on restart.
type MemoryStore struct {
	mu       sync.RWMutex
	profiles map[string]models.Profile
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		profiles: make(map[string]models.Profile),
	}
}

func (s *MemoryStore) Get(_ context.Context, key string) (*models.Profile, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	profile, ok := s.profiles[key]
	if !ok {
		return nil, false, nil
	}
	return &profile, true, nil
}

func (s *MemoryStore) Set(_ context.Context, key string, profile *models.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.profiles[key] = *profile
	return nil
}

func (s *MemoryStore) Keys(_ context.Context) ([]string, error) {
	s.mu.RLock()
	keys := make([]string, 0, len(s.profiles))
	for key := range s.profiles {
		keys = append(keys, key)
	}
	s.mu.RUnlock()

	sort.Strings(keys)
	return keys, nil
}

func (s *MemoryStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.profiles), nil
}

func (s *MemoryStore) PurgeAll(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := len(s.profiles)
	s.profiles = make(map[string]models.Profile)
	return removed, nil
}

func (s *MemoryStore) Describe() string {
	return "in-memory (cleared on restart)"
}

func (s *MemoryStore) Close() error {
	return nil
}
