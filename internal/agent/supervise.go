package agent

import (
	"context"
	"time"

	"github.com/Hara602/hostSentry/internal/errs"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"
	"go.uber.org/zap"
)

const maxRestartDelay = time.Minute

// Task 一个长期运行的采集任务，返回 nil 表示正常结束
type Task func(ctx context.Context) error

// supervise 在 wg 中运行任务；panic 或出错后退避重启，ctx 取消时退出
func (a *Agent) supervise(ctx context.Context, wg *conc.WaitGroup, name string, task Task) {
	log := a.log.With(zap.String("task", name))
	wg.Go(func() {
		delay := a.restartDelay
		for {
			var (
				err     error
				catcher panics.Catcher
			)
			catcher.Try(func() { err = task(ctx) })

			if r := catcher.Recovered(); r != nil {
				log.Error("💥 Task panicked", zap.Any("panic", r.Value), zap.ByteString("stack", r.Stack))
			} else if err == nil {
				return
			} else if errs.Is(err, errs.Permission) || errs.Is(err, errs.Unsupported) {
				log.Error("🚫 Task disabled", zap.Error(err))
				return
			} else {
				log.Warn("Task failed", zap.Error(err), zap.Duration("restart_in", delay))
			}

			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			delay = min(delay*2, maxRestartDelay)
		}
	})
}
