package pipeline

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/Hara602/hostSentry/internal/model"
	"github.com/dustin/go-humanize"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Sink 下游接收方。Deliver 必须遵守 ctx 的超时。
type Sink interface {
	Deliver(ctx context.Context, ev model.ActivityEvent) error
}

// TimeLayout 文本输出的时间格式
const TimeLayout = "2006-01-02 15:04:05"

// Format 输出一行文本: [时间] 类型: 字段1 -> 字段2 -> 字段3
func Format(ev model.ActivityEvent) string {
	return fmt.Sprintf("[%s] %s: %s -> %s -> %s",
		ev.Timestamp.Local().Format(TimeLayout), ev.Kind, ev.Primary, ev.Secondary, ev.Tertiary)
}

// LogSink 把事件写进 zap 日志
type LogSink struct {
	log *zap.Logger
}

func NewLogSink(log *zap.Logger) *LogSink {
	return &LogSink{log: log}
}

func (s *LogSink) Deliver(_ context.Context, ev model.ActivityEvent) error {
	fields := []zap.Field{
		zap.Time("at", ev.Timestamp),
		zap.String("primary", ev.Primary),
		zap.String("secondary", ev.Secondary),
		zap.String("tertiary", ev.Tertiary),
	}
	if len(ev.Files) > 0 {
		fields = append(fields, zap.Int("files", len(ev.Files)))
	}
	if len(ev.Attrs) > 0 {
		fields = append(fields, zap.Any("attrs", ev.Attrs))
	}
	if ev.Attrs["risk"] == "HIGH" {
		s.log.Warn("🚨 "+ev.Kind.String(), fields...)
		return nil
	}
	s.log.Info("📝 "+ev.Kind.String(), fields...)
	return nil
}

// FileSink 追加写文本文件
type FileSink struct {
	mu   sync.Mutex
	path string
	f    *os.File
}

func OpenFileSink(path string, log *zap.Logger) (*FileSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create sink dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
	if err != nil {
		return nil, fmt.Errorf("open sink file: %w", err)
	}
	if fi, err := f.Stat(); err == nil && log != nil {
		log.Info("Sink file opened", zap.String("path", path), zap.String("size", humanize.Bytes(uint64(fi.Size()))))
	}
	return &FileSink{path: path, f: f}, nil
}

func (s *FileSink) Path() string { return s.path }

func (s *FileSink) Deliver(ctx context.Context, ev model.ActivityEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return os.ErrClosed
	}
	_, err := io.WriteString(s.f, Format(ev)+"\n")
	return err
}

func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f = nil
	return err
}

// MultiSink 依次投递到每个 Sink，一个失败不影响其他
type MultiSink []Sink

func (m MultiSink) Deliver(ctx context.Context, ev model.ActivityEvent) error {
	var err error
	for _, s := range m {
		err = multierr.Append(err, s.Deliver(ctx, ev))
	}
	return err
}

func (m MultiSink) Close() error {
	var err error
	for _, s := range m {
		if c, ok := s.(io.Closer); ok {
			err = multierr.Append(err, c.Close())
		}
	}
	return err
}

// SelfFilter 丢弃提到本程序输出文件的事件，避免写日志文件又产生文件事件
func SelfFilter(paths ...string) Filter {
	var names []string
	for _, p := range paths {
		if p == "" {
			continue
		}
		names = append(names, strings.ToLower(filepath.Base(p)))
	}
	return func(ev model.ActivityEvent) bool {
		for _, field := range ev.Fields() {
			lower := strings.ToLower(field)
			for _, n := range names {
				if strings.Contains(lower, n) {
					return false
				}
			}
		}
		return true
	}
}
