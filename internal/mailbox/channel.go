// Package mailbox 实现跨进程、跨权限的单槽邮箱通道。
//
// 每个类别 (Keyboard, Window, Clipboard, CopyFiles, Edge) 对应一把命名锁和一块共享内存，
// 里面最多保存一条未投递的事件。生产者会覆盖尚未被消费的消息。
package mailbox

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/Hara602/hostSentry/internal/errs"
	"github.com/Hara602/hostSentry/internal/model"
	"github.com/dustin/go-humanize"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// ErrClosed 通道已关闭
var ErrClosed = errors.New("mailbox: channel closed")

// CopyIndexUpdater 接收剪贴板中的文件列表，由复制检测使用
type CopyIndexUpdater interface {
	Replace(files []model.FileDescriptor)
}

// Options 通道参数
type Options struct {
	RegionSize   int
	LockTimeout  time.Duration
	RecoverAfter int
	// Create 生产者一侧创建通道文件；消费者只打开已存在的
	Create bool
	Index  CopyIndexUpdater
	Logger *zap.Logger
}

func (o Options) withDefaults() Options {
	if o.RegionSize <= 0 {
		o.RegionSize = 64 * 1024
	}
	if o.LockTimeout <= 0 {
		o.LockTimeout = 2 * time.Second
	}
	if o.RecoverAfter <= 0 {
		o.RecoverAfter = 10
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

type regionPaths struct {
	lock, data string
}

func pathsFor(dir, category string) regionPaths {
	return regionPaths{
		lock: filepath.Join(dir, "Suncat"+category+"HookMapMutex.lock"),
		data: filepath.Join(dir, "Suncat"+category+"HookMap"),
	}
}

// Channel 一个类别的邮箱
type Channel struct {
	category string
	dir      string
	paths    regionPaths
	opts     Options
	log      *zap.Logger

	mu           sync.Mutex
	r            *region
	closed       bool
	last         Fingerprint
	hasLast      bool
	lockFailures int
}

// Open 打开类别为 category 的通道
func Open(dir, category string, opts Options) (*Channel, error) {
	opts = opts.withDefaults()
	c := &Channel{
		category: category,
		dir:      dir,
		paths:    pathsFor(dir, category),
		opts:     opts,
		log:      opts.Logger.With(zap.String("category", category)),
	}
	r, err := openRegion(c.paths, opts.RegionSize, opts.Create)
	if err != nil {
		return nil, fmt.Errorf("open channel %s: %w", category, err)
	}
	c.r = r
	c.log.Debug("📮 Mailbox channel opened",
		zap.String("dir", dir),
		zap.String("size", humanize.IBytes(uint64(len(r.data)))))
	return c, nil
}

func (c *Channel) Category() string { return c.category }

func (c *Channel) Dir() string { return c.dir }

// Publish 写入一条事件，覆盖尚未消费的旧消息
func (c *Channel) Publish(ctx context.Context, ev model.ActivityEvent) error {
	if !ev.Kind.Valid() {
		return errs.New(errs.DataFormat, "publish", fmt.Errorf("invalid event kind %d", ev.Kind))
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	return c.withLock(ctx, "publish", func(buf []byte) error {
		frame, err := encodeFrame(ev, len(buf))
		if err != nil {
			return err
		}
		copy(buf, frame)
		clear(buf[len(frame):])
		return nil
	})
}

// TryConsume 取出待处理的事件。
// 共享区为空或内容与上次相同时返回 false；ClipboardFiles 只更新复制索引，不返回。
// 解析失败时共享区保持原样，返回 DataFormat 错误。
func (c *Channel) TryConsume(ctx context.Context) (model.ActivityEvent, bool, error) {
	var (
		out model.ActivityEvent
		got bool
	)
	err := c.withLock(ctx, "consume", func(buf []byte) error {
		if allZero(buf) {
			return nil
		}
		fp := fingerprint(buf)
		if c.hasLast && fp == c.last {
			return nil
		}
		// 损坏的内容也记录指纹，避免每个周期重复解析同一份数据
		c.last, c.hasLast = fp, true

		env, err := decodeFrame(buf)
		if err != nil {
			return err
		}
		if env.Event.Kind == model.ClipboardFiles {
			if c.opts.Index != nil {
				c.opts.Index.Replace(env.Event.Files)
			}
			return nil
		}
		out, got = env.Event, true
		clear(buf)
		return nil
	})
	return out, got, err
}

func (c *Channel) withLock(ctx context.Context, op string, fn func(buf []byte) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return errs.New(errs.Transient, op, ErrClosed)
	}
	if c.r == nil || c.r.replaced() {
		if err := c.reopenLocked(false); err != nil {
			return fmt.Errorf("%s %s: %w", op, c.category, err)
		}
	}

	if err := c.r.lock(ctx, c.opts.LockTimeout); err != nil {
		if errors.Is(err, ErrLockTimeout) {
			c.lockFailures++
			if c.lockFailures >= c.opts.RecoverAfter {
				c.log.Warn("⚠️ Mailbox lock looks abandoned, recreating channel",
					zap.Int("failures", c.lockFailures))
				c.lockFailures = 0
				if rerr := c.reopenLocked(true); rerr != nil {
					err = multierr.Append(err, rerr)
				}
			}
		}
		return fmt.Errorf("%s %s: %w", op, c.category, err)
	}
	c.lockFailures = 0
	defer func() {
		if err := c.r.unlock(); err != nil {
			c.log.Warn("Mailbox unlock failed", zap.Error(err))
		}
	}()
	return fn(c.r.data)
}

// reopenLocked 重新打开通道文件；discardLock 时先删掉可能被挂起进程占住的锁文件
func (c *Channel) reopenLocked(discardLock bool) error {
	if c.r != nil {
		if discardLock {
			_ = c.r.discardLock()
		}
		_ = c.r.close()
		c.r = nil
	}
	r, err := openRegion(c.paths, c.opts.RegionSize, c.opts.Create || discardLock)
	if err != nil {
		return err
	}
	c.r = r
	c.log.Info("♻️ Mailbox channel reopened")
	return nil
}

// Close 释放映射和文件句柄
func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if c.r == nil {
		return nil
	}
	err := c.r.close()
	c.r = nil
	return err
}
