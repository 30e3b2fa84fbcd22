package repository

import (
	"container/list"
	"sync"

	"github.com/hitoshi/stravaexport/internal/model"
)

// DefaultActivityCacheCapacity はアカウントあたりのデフォルト容量。
const DefaultActivityCacheCapacity = 50

// accountEntries は1アカウント分のキャッシュ。
// orderは挿入順のアクティビティIDを保持し、先頭が最古。
type accountEntries struct {
	order *list.List
	items map[int64]*list.Element
}

type cacheEntry struct {
	activityID int64
	detail     *model.Activity
}

// MemoryActivityCache はメモリ上のActivityCache実装。
type MemoryActivityCache struct {
	mu       sync.Mutex
	capacity int
	accounts map[string]*accountEntries
}

// NewMemoryActivityCache はアカウントあたりcapacity件のMemoryActivityCacheを生成する。
// capacityが0以下の場合はDefaultActivityCacheCapacityを使用する。
func NewMemoryActivityCache(capacity int) *MemoryActivityCache {
	if capacity <= 0 {
		capacity = DefaultActivityCacheCapacity
	}
	return &MemoryActivityCache{
		capacity: capacity,
		accounts: make(map[string]*accountEntries),
	}
}

// Put は詳細を保存し、容量を超えた場合は最古のエントリを破棄する。
func (c *MemoryActivityCache) Put(accountID string, activityID int64, detail *model.Activity) {
	c.mu.Lock()
	defer c.mu.Unlock()

	acc, ok := c.accounts[accountID]
	if !ok {
		acc = &accountEntries{order: list.New(), items: make(map[int64]*list.Element)}
		c.accounts[accountID] = acc
	}

	if el, exists := acc.items[activityID]; exists {
		el.Value.(*cacheEntry).detail = detail
		return
	}

	acc.items[activityID] = acc.order.PushBack(&cacheEntry{activityID: activityID, detail: detail})
	for acc.order.Len() > c.capacity {
		oldest := acc.order.Front()
		acc.order.Remove(oldest)
		delete(acc.items, oldest.Value.(*cacheEntry).activityID)
	}
}

// Get は詳細を返す。
func (c *MemoryActivityCache) Get(accountID string, activityID int64) (*model.Activity, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	acc, ok := c.accounts[accountID]
	if !ok {
		return nil, false
	}
	el, ok := acc.items[activityID]
	if !ok {
		return nil, false
	}
	return el.Value.(*cacheEntry).detail, true
}

// Delete は詳細を削除する。
func (c *MemoryActivityCache) Delete(accountID string, activityID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	acc, ok := c.accounts[accountID]
	if !ok {
		return
	}
	if el, exists := acc.items[activityID]; exists {
		acc.order.Remove(el)
		delete(acc.items, activityID)
	}
	if acc.order.Len() == 0 {
		delete(c.accounts, accountID)
	}
}

// Len はアカウントのエントリ数を返す。
func (c *MemoryActivityCache) Len(accountID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if acc, ok := c.accounts[accountID]; ok {
		return acc.order.Len()
	}
	return 0
}

// DropAccount はアカウントのエントリをすべて破棄する。
func (c *MemoryActivityCache) DropAccount(accountID string) {
	c.mu.Lock()
	delete(c.accounts, accountID)
	c.mu.Unlock()
}

// compile-time interface check
var _ ActivityCache = (*MemoryActivityCache)(nil)
