package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/Hara602/hostSentry/internal/model"
	"go.uber.org/zap"
)

// Dispatcher 唯一的消费者：取出事件交给 Sink，失败只记录不回灌
type Dispatcher struct {
	queue   *Queue
	sink    Sink
	timeout time.Duration
	log     *zap.Logger

	delivered atomic.Uint64
	failed    atomic.Uint64
}

func NewDispatcher(queue *Queue, sink Sink, timeout time.Duration, log *zap.Logger) *Dispatcher {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{queue: queue, sink: sink, timeout: timeout, log: log}
}

// Run 直到队列关闭并取空或 ctx 取消
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		ev, err := d.queue.Take(ctx)
		if err != nil {
			if errors.Is(err, ErrClosed) || ctx.Err() != nil {
				return nil
			}
			return err
		}
		d.deliver(ctx, ev)
	}
}

func (d *Dispatcher) deliver(ctx context.Context, ev model.ActivityEvent) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("sink panic: %v", r)
			}
		}()
		return d.sink.Deliver(ctx, ev)
	}()
	if err != nil {
		n := d.failed.Add(1)
		if n == 1 || n%100 == 0 {
			d.log.Warn("❌ Sink delivery failed", zap.String("kind", ev.Kind.String()), zap.Uint64("failures", n), zap.Error(err))
		}
		return
	}
	d.delivered.Add(1)
}

// Stats 计数快照
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Enqueued:  d.queue.enqueued.Load(),
		Filtered:  d.queue.filtered.Load(),
		Delivered: d.delivered.Load(),
		Failed:    d.failed.Load(),
	}
}
