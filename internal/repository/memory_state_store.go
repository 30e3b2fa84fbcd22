package repository

import (
	"sync"
	"time"
)

// MemoryStateStore はメモリ上のStateStore実装。
type MemoryStateStore struct {
	mu     sync.Mutex
	states map[string]time.Time
}

// NewMemoryStateStore はMemoryStateStoreを生成する。
func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{states: make(map[string]time.Time)}
}

// Add はstateを登録する。
func (s *MemoryStateStore) Add(state string, expiresAt time.Time) {
	s.mu.Lock()
	s.states[state] = expiresAt
	s.mu.Unlock()
}

// Consume はstateを検証して削除する。
// 期限切れのstateも削除するが、結果はfalseとなる。
func (s *MemoryStateStore) Consume(state string, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	expiresAt, ok := s.states[state]
	if !ok {
		return false
	}
	delete(s.states, state)
	return now.Before(expiresAt)
}

// PurgeExpired は期限切れのstateを削除する。
func (s *MemoryStateStore) PurgeExpired(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	purged := 0
	for state, expiresAt := range s.states {
		if !now.Before(expiresAt) {
			delete(s.states, state)
			purged++
		}
	}
	return purged
}

// Len は保持中のstate数を返す。テスト用。
func (s *MemoryStateStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.states)
}

// compile-time interface check
var _ StateStore = (*MemoryStateStore)(nil)
