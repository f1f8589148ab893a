package monitor

import (
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/Hara602/hostSentry/internal/errs"
	"github.com/Hara602/hostSentry/internal/model"
	"github.com/Hara602/hostSentry/internal/pathutil"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// fsnotifyMonitor 逐目录添加监控，新建的子目录自动加入
type fsnotifyMonitor struct {
	watcher *fsnotify.Watcher
	log     *zap.Logger
	events  chan model.FileNotification
	stop    chan struct{}
	once    sync.Once

	mu    sync.Mutex
	roots map[string]bool
	dirs  map[string]bool
}

func newFsnotify(log *zap.Logger) (FileMonitor, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errs.Wrap("fsnotify init", err)
	}
	return &fsnotifyMonitor{
		watcher: w,
		log:     log,
		events:  make(chan model.FileNotification, 1024),
		stop:    make(chan struct{}),
		roots:   make(map[string]bool),
		dirs:    make(map[string]bool),
	}, nil
}

func (m *fsnotifyMonitor) Start() { go m.watchLoop() }

func (m *fsnotifyMonitor) watchLoop() {
	for {
		select {
		case <-m.stop:
			return
		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			m.handle(event)
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			m.log.Debug("fsnotify error", zap.Error(err))
		}
	}
}

func (m *fsnotifyMonitor) handle(event fsnotify.Event) {
	n := model.FileNotification{Path: event.Name, Time: time.Now()}
	switch {
	case event.Has(fsnotify.Create):
		n.Op = model.OpCreate
		if fi, err := os.Lstat(event.Name); err == nil && fi.IsDir() {
			n.IsDir = true
			m.watchTree(event.Name)
		}
	case event.Has(fsnotify.Write):
		n.Op = model.OpChange
	case event.Has(fsnotify.Remove):
		n.Op = model.OpDelete
		n.IsDir = m.forget(event.Name)
	case event.Has(fsnotify.Rename):
		// 新路径会以 Create 的形式到达，由批处理器配对
		n.Op = model.OpMovedFrom
		n.IsDir = m.forget(event.Name)
	default:
		return
	}
	select {
	case m.events <- n:
	case <-m.stop:
	}
}

// watchTree 递归添加目录，单个目录失败不影响其他目录
func (m *fsnotifyMonitor) watchTree(root string) error {
	var first error
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				first = err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if err := m.watcher.Add(path); err != nil {
			if path == root {
				first = err
			}
			return nil
		}
		m.mu.Lock()
		m.dirs[path] = true
		m.mu.Unlock()
		return nil
	})
	return first
}

// forget 删除或移走的路径如果是监控中的目录，连同子目录一起移除，返回它是否是目录
func (m *fsnotifyMonitor) forget(path string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	isDir := m.dirs[path]
	for dir := range m.dirs {
		if pathutil.Under(dir, path) {
			delete(m.dirs, dir)
		}
	}
	return isDir
}

func (m *fsnotifyMonitor) AddWatch(root string) error {
	root = filepath.Clean(root)
	if err := m.watchTree(root); err != nil {
		return errs.Wrap("watch "+root, err)
	}
	m.mu.Lock()
	m.roots[root] = true
	count := len(m.dirs)
	m.mu.Unlock()
	m.log.Info("👀 Watching", zap.String("root", root), zap.Int("dirs", count))
	return nil
}

func (m *fsnotifyMonitor) RemoveWatch(root string) {
	root = filepath.Clean(root)
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.roots[root] {
		return
	}
	delete(m.roots, root)
	for dir := range m.dirs {
		if pathutil.Under(dir, root) {
			_ = m.watcher.Remove(dir)
			delete(m.dirs, dir)
		}
	}
	m.log.Info("Stopped watching", zap.String("root", root))
}

func (m *fsnotifyMonitor) Stop() {
	m.once.Do(func() {
		close(m.stop)
		_ = m.watcher.Close()
	})
}

func (m *fsnotifyMonitor) Events() <-chan model.FileNotification { return m.events }
