package mailbox

import (
	"context"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/Hara602/hostSentry/internal/errs"
	"github.com/Hara602/hostSentry/internal/model"
	"go.uber.org/zap"
)

// Capture 采集一次当前值，没有新内容时返回 false
type Capture func(ctx context.Context) (model.ActivityEvent, bool, error)

// Producer 采集端：轮询 Capture 并把变化写入邮箱
type Producer struct {
	ch       *Channel
	capture  Capture
	interval time.Duration
	log      *zap.Logger

	last    model.ActivityEvent
	hasLast bool
}

func NewProducer(ch *Channel, capture Capture, interval time.Duration, log *zap.Logger) *Producer {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Producer{ch: ch, capture: capture, interval: interval, log: log}
}

// Offer 与上一次发送的内容比较，空白或重复的事件不写入
func (p *Producer) Offer(ctx context.Context, ev model.ActivityEvent) (bool, error) {
	if strings.TrimSpace(ev.Primary) == "" && len(ev.Files) == 0 && ev.Kind != model.HeartBeat {
		return false, nil
	}
	if p.hasLast && sameContent(p.last, ev) {
		return false, nil
	}
	if err := p.ch.Publish(ctx, ev); err != nil {
		return false, err
	}
	p.last, p.hasLast = ev, true
	return true, nil
}

func sameContent(a, b model.ActivityEvent) bool {
	return a.Kind == b.Kind &&
		a.Primary == b.Primary &&
		a.Secondary == b.Secondary &&
		a.Tertiary == b.Tertiary &&
		slices.Equal(a.Files, b.Files)
}

// Run 阻塞直到 ctx 取消
func (p *Producer) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			ev, ok, err := p.capture(ctx)
			if err != nil {
				p.log.Debug("Capture failed", zap.String("category", p.ch.Category()), zap.Error(err))
				continue
			}
			if !ok {
				continue
			}
			if _, err := p.Offer(ctx, ev); err != nil {
				if errs.Is(err, errs.Permission) {
					p.log.Error("🚫 Mailbox not writable, producer stopped", zap.Error(err))
					return err
				}
				p.log.Warn("Publish failed", zap.String("category", p.ch.Category()), zap.Error(err))
			}
		}
	}
}

var explorerPath = regexp.MustCompile(`^([A-Za-z]:\\|\\\\|/)`)

// WindowEvent 前台窗口切换：标题是目录路径时视为文件管理器浏览
func WindowEvent(title, executable, description string) model.ActivityEvent {
	if explorerPath.MatchString(title) {
		return model.NewEvent(model.ExplorerNavigated, title)
	}
	return model.NewEvent(model.WindowSwitched, title, executable, description)
}
