package mailbox

import (
	"context"
	"time"

	"github.com/Hara602/hostSentry/internal/errs"
	"github.com/Hara602/hostSentry/internal/model"
	"github.com/Hara602/hostSentry/internal/session"
	"go.uber.org/zap"
)

// Consumer 按固定间隔轮询一个类别的邮箱
type Consumer struct {
	Category string
	// DirTemplate 可以包含 [USERNAME]
	DirTemplate string
	Sessions    session.Directory
	Options     Options
	Interval    time.Duration
	Emit        func(model.ActivityEvent)
	Log         *zap.Logger

	ch       *Channel
	disabled bool
	failures int
}

// Run 阻塞直到 ctx 取消或通道因权限问题被禁用
func (c *Consumer) Run(ctx context.Context) error {
	if c.Log == nil {
		c.Log = zap.NewNop()
	}
	interval := c.Interval
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	defer c.close()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			c.Tick(ctx)
			if c.disabled {
				return nil
			}
		}
	}
}

// Tick 执行一次消费
func (c *Consumer) Tick(ctx context.Context) {
	if c.Log == nil {
		c.Log = zap.NewNop()
	}
	if c.disabled {
		return
	}
	dir, ok := c.resolveDir()
	if !ok {
		// 没有活动会话，按用户划分的通道暂停
		c.close()
		return
	}
	if c.ch != nil && c.ch.Dir() != dir {
		c.close()
	}
	if c.ch == nil {
		opts := c.Options
		opts.Create = false
		opts.Logger = c.Log
		ch, err := Open(dir, c.Category, opts)
		if err != nil {
			c.handle(err)
			return
		}
		c.ch = ch
	}

	ev, got, err := c.ch.TryConsume(ctx)
	if err != nil {
		c.handle(err)
		return
	}
	c.failures = 0
	if got && c.Emit != nil {
		c.Emit(ev)
	}
}

func (c *Consumer) resolveDir() (string, bool) {
	if !session.UserScoped(c.DirTemplate) {
		return c.DirTemplate, true
	}
	if c.Sessions == nil {
		return "", false
	}
	user, ok := c.Sessions.ActiveUser()
	if !ok {
		return "", false
	}
	return session.ExpandUser(c.DirTemplate, user), true
}

func (c *Consumer) handle(err error) {
	switch errs.CodeOf(err) {
	case errs.Permission, errs.Unsupported:
		c.Log.Error("🚫 Mailbox channel disabled", zap.String("category", c.Category), zap.Error(err))
		c.disabled = true
		c.close()
	case errs.DataFormat:
		c.Log.Warn("Mailbox payload skipped", zap.String("category", c.Category), zap.Error(err))
	default:
		c.failures++
		// 生产者还没启动时每个周期都会失败，只在第一次和之后每 120 次记录
		if c.failures == 1 || c.failures%120 == 0 {
			c.Log.Debug("Mailbox not ready", zap.String("category", c.Category),
				zap.Int("failures", c.failures), zap.Error(err))
		}
	}
}

// Disabled 通道是否因权限错误被禁用
func (c *Consumer) Disabled() bool { return c.disabled }

func (c *Consumer) close() {
	if c.ch == nil {
		return
	}
	if err := c.ch.Close(); err != nil {
		c.Log.Warn("Mailbox close failed", zap.String("category", c.Category), zap.Error(err))
	}
	c.ch = nil
}
