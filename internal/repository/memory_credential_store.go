package repository

import (
	"sync"

	"github.com/hitoshi/stravaexport/internal/model"
)

// MemoryCredentialStore はメモリ上のCredentialStore実装。
type MemoryCredentialStore struct {
	mu      sync.RWMutex
	bundles map[string]*model.TokenBundle
}

// NewMemoryCredentialStore はMemoryCredentialStoreを生成する。
func NewMemoryCredentialStore() *MemoryCredentialStore {
	return &MemoryCredentialStore{bundles: make(map[string]*model.TokenBundle)}
}

// Get は指定アカウントのバンドルのコピーを返す。
func (s *MemoryCredentialStore) Get(accountID string) (*model.TokenBundle, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.bundles[accountID]
	if !ok {
		return nil, false
	}
	return b.Clone(), true
}

// Put はバンドルを置き換える。呼び出し側のポインタは保持しない。
func (s *MemoryCredentialStore) Put(accountID string, bundle *model.TokenBundle) {
	c := bundle.Clone()
	s.mu.Lock()
	s.bundles[accountID] = c
	s.mu.Unlock()
}

// Delete は指定アカウントのバンドルを削除する。
func (s *MemoryCredentialStore) Delete(accountID string) {
	s.mu.Lock()
	delete(s.bundles, accountID)
	s.mu.Unlock()
}

// compile-time interface check
var _ CredentialStore = (*MemoryCredentialStore)(nil)
