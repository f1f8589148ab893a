// Package monitor 提供文件系统通知源。
// fanotify 后端需要 root，可以按文件系统整体标记；fsnotify 后端逐目录递归监控。
package monitor

import (
	"fmt"

	"github.com/Hara602/hostSentry/internal/model"
	"go.uber.org/zap"
)

type FileMonitor interface {
	Start()
	Stop()
	AddWatch(root string) error // 动态添加监控
	RemoveWatch(root string)
	Events() <-chan model.FileNotification
}

const (
	BackendFanotify = "fanotify"
	BackendFsnotify = "fsnotify"
)

func New(backend string, log *zap.Logger) (FileMonitor, error) {
	if log == nil {
		log = zap.NewNop()
	}
	switch backend {
	case BackendFanotify:
		return newFanotify(log)
	case BackendFsnotify:
		return newFsnotify(log)
	}
	return nil, fmt.Errorf("unknown monitor backend %q", backend)
}
