// Package pipeline 汇聚所有采集源的事件，由单个分发协程按到达顺序交给 Sink。
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/Hara602/hostSentry/internal/model"
)

var (
	// ErrClosed 队列已关闭且为空
	ErrClosed = errors.New("pipeline: queue closed")
	// ErrInvalidKind 事件类型为 KindNone 或越界
	ErrInvalidKind = errors.New("pipeline: invalid event kind")
)

// Filter 准入过滤，返回 false 的事件被丢弃
type Filter func(model.ActivityEvent) bool

// Stats 队列和分发计数
type Stats struct {
	Enqueued  uint64
	Filtered  uint64
	Delivered uint64
	Failed    uint64
}

// Queue 无界的多生产者单消费者阻塞队列
type Queue struct {
	mu      sync.Mutex
	items   []model.ActivityEvent
	closed  bool
	ready   chan struct{}
	done    chan struct{}
	filters []Filter

	enqueued atomic.Uint64
	filtered atomic.Uint64
}

func NewQueue(filters ...Filter) *Queue {
	return &Queue{
		ready:   make(chan struct{}, 1),
		done:    make(chan struct{}),
		filters: filters,
	}
}

// Put 追加事件，永不阻塞
func (q *Queue) Put(ev model.ActivityEvent) error {
	if !ev.Kind.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidKind, ev.Kind)
	}
	for _, f := range q.filters {
		if !f(ev) {
			q.filtered.Add(1)
			return nil
		}
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	q.items = append(q.items, ev)
	q.mu.Unlock()
	q.enqueued.Add(1)

	select {
	case q.ready <- struct{}{}:
	default:
	}
	return nil
}

// Take 阻塞直到有事件、队列关闭且取空，或 ctx 取消
func (q *Queue) Take(ctx context.Context) (model.ActivityEvent, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			ev := q.items[0]
			q.items[0] = model.ActivityEvent{}
			q.items = q.items[1:]
			q.mu.Unlock()
			return ev, nil
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return model.ActivityEvent{}, ErrClosed
		}

		select {
		case <-ctx.Done():
			return model.ActivityEvent{}, ctx.Err()
		case <-q.ready:
		case <-q.done:
		}
	}
}

// Close 停止接收新事件，已入队的仍可以被 Take 取出
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.done)
	}
}

// Drain 取出并清空剩余事件
func (q *Queue) Drain() []model.ActivityEvent {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.items
	q.items = nil
	return out
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
