// Package scanner 增量扫描只追加的外部存储 (浏览器历史、最近文件列表)。
//
// 每个存储有一个游标：所属用户、已发出的最大时间戳 (高水位) 和存储文件的指纹。
// 第一次接触只建立高水位不发事件；之后只发出严格晚于高水位的行，按从旧到新的顺序。
package scanner

import (
	"context"
	"time"

	"github.com/Hara602/hostSentry/internal/errs"
	"github.com/Hara602/hostSentry/internal/model"
	"github.com/Hara602/hostSentry/internal/session"
	"go.uber.org/zap"
)

// Row 存储中的一行，Event 已经按存储的语义构造好
type Row struct {
	Key   string
	Time  time.Time
	Event model.ActivityEvent
}

// Store 一个只追加的外部存储
type Store interface {
	ID() string
	// Fingerprint 存储文件的摘要，没变化时跳过本周期
	Fingerprint(ctx context.Context, user string) (Fingerprint, error)
	// Rows 从新到旧遍历，visit 返回 false 时停止
	Rows(ctx context.Context, user string, visit func(Row) bool) error
}

// Cursor 扫描进度，只由所属的 Scanner 修改
type Cursor struct {
	Owner          string
	HighWater      time.Time
	Known          bool
	Fingerprint    Fingerprint
	HasFingerprint bool
}

type Scanner struct {
	store    Store
	sessions session.Directory
	emit     func(model.ActivityEvent)
	log      *zap.Logger

	// Delay 发出事件前等待，让最近文件的 FileOpened 排在对应的 FileCreated 之后
	Delay time.Duration

	cursor   Cursor
	failures int
}

func New(store Store, sessions session.Directory, emit func(model.ActivityEvent), log *zap.Logger) *Scanner {
	if log == nil {
		log = zap.NewNop()
	}
	return &Scanner{
		store:    store,
		sessions: sessions,
		emit:     emit,
		log:      log.With(zap.String("store", store.ID())),
	}
}

func (s *Scanner) ID() string { return s.store.ID() }

// Cursor 当前游标的副本
func (s *Scanner) Cursor() Cursor { return s.cursor }

// Tick 执行一个扫描周期，返回发出的事件数。出错时游标保持不变。
func (s *Scanner) Tick(ctx context.Context) (int, error) {
	user, ok := s.sessions.ActiveUser()
	if !ok {
		s.cursor = Cursor{}
		return 0, nil
	}
	switch {
	case s.cursor.Owner == "":
		s.cursor.Owner = user
	case s.cursor.Owner != user:
		// 历史记录按用户隔离，换人后重新建立高水位
		s.log.Info("Session user changed, resetting cursor", zap.String("from", s.cursor.Owner), zap.String("to", user))
		s.cursor = Cursor{Owner: user}
		return 0, nil
	}

	fp, err := s.store.Fingerprint(ctx, user)
	if err != nil {
		return 0, err
	}
	if s.cursor.HasFingerprint && fp == s.cursor.Fingerprint {
		return 0, nil
	}

	known, hw := s.cursor.Known, s.cursor.HighWater
	type rowID struct {
		key string
		t   int64
	}
	seen := make(map[rowID]bool)
	var fresh []Row
	err = s.store.Rows(ctx, user, func(r Row) bool {
		if known && !r.Time.After(hw) {
			// 高水位上的锚点行，不重复发出
			return false
		}
		id := rowID{r.Key, r.Time.UnixNano()}
		if !seen[id] {
			seen[id] = true
			fresh = append(fresh, r)
		}
		// 第一次接触只需要最新的一行
		return known
	})
	if err != nil {
		return 0, err
	}

	newest := hw
	for _, r := range fresh {
		if r.Time.After(newest) {
			newest = r.Time
		}
	}

	if !known {
		if len(fresh) == 0 {
			newest = time.Time{}
		}
		s.cursor.HighWater, s.cursor.Known = newest, true
		s.cursor.Fingerprint, s.cursor.HasFingerprint = fp, true
		s.log.Debug("Cursor bootstrapped", zap.Time("high_water", newest))
		return 0, nil
	}

	if len(fresh) > 0 && s.Delay > 0 {
		select {
		case <-ctx.Done():
			return 0, errs.New(errs.Transient, "scan delay", ctx.Err())
		case <-time.After(s.Delay):
		}
	}
	if s.emit != nil {
		for i := len(fresh) - 1; i >= 0; i-- {
			s.emit(fresh[i].Event)
		}
	}
	s.cursor.HighWater = newest
	s.cursor.Fingerprint, s.cursor.HasFingerprint = fp, true
	return len(fresh), nil
}

// Run 按固定间隔扫描，直到 ctx 取消。单个存储永久损坏不影响其他扫描器。
func (s *Scanner) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		s.runTick(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (s *Scanner) runTick(ctx context.Context) {
	n, err := s.Tick(ctx)
	if err == nil {
		if s.failures > 0 {
			s.log.Info("Scanner recovered", zap.Int("failures", s.failures))
		}
		s.failures = 0
		if n > 0 {
			s.log.Debug("Scanned", zap.Int("events", n))
		}
		return
	}
	if ctx.Err() != nil {
		return
	}
	s.failures++
	if errs.Is(err, errs.Transient) {
		s.log.Debug("Scan skipped", zap.Error(err), zap.Int("failures", s.failures))
		return
	}
	if s.failures == 1 || s.failures%60 == 0 {
		s.log.Warn("Scan failed", zap.Error(err), zap.Int("failures", s.failures))
	}
}
