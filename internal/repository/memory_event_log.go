package repository

import (
	"sync"

	"github.com/hitoshi/stravaexport/internal/model"
)

// DefaultEventLogCapacity はイベントログのデフォルト容量。
const DefaultEventLogCapacity = 100

// RingEventLog は固定容量のリングバッファによるEventLog実装。
type RingEventLog struct {
	mu   sync.Mutex
	buf  []model.LoggedEvent
	head int // 最も古い要素の位置
	size int
}

// NewRingEventLog は指定容量のRingEventLogを生成する。
// capacityが0以下の場合はDefaultEventLogCapacityを使用する。
func NewRingEventLog(capacity int) *RingEventLog {
	if capacity <= 0 {
		capacity = DefaultEventLogCapacity
	}
	return &RingEventLog{buf: make([]model.LoggedEvent, capacity)}
}

// Append はイベントを追加する。満杯の場合は最古のイベントを上書きする。
func (l *RingEventLog) Append(event model.LoggedEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.size < len(l.buf) {
		l.buf[(l.head+l.size)%len(l.buf)] = event
		l.size++
		return
	}
	l.buf[l.head] = event
	l.head = (l.head + 1) % len(l.buf)
}

// Snapshot は保持中のイベントを古い順にコピーして返す。
func (l *RingEventLog) Snapshot() []model.LoggedEvent {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]model.LoggedEvent, 0, l.size)
	for i := 0; i < l.size; i++ {
		out = append(out, l.buf[(l.head+i)%len(l.buf)])
	}
	return out
}

// compile-time interface check
var _ EventLog = (*RingEventLog)(nil)
