// Package watcher 把内核的块设备热插拔通知转换成卷状态机的推送输入。
package watcher

import (
	"context"

	"github.com/Hara602/hostSentry/internal/model"
	"github.com/Hara602/hostSentry/internal/volume"
	"go.uber.org/zap"
)

// DeviceWatcher 定义接口
type DeviceWatcher interface {
	Start(ctx context.Context) (<-chan model.DeviceChange, error)
	Stop()
}

func New(letters *volume.LetterAllocator, log *zap.Logger) DeviceWatcher {
	if log == nil {
		log = zap.NewNop()
	}
	return newWatcher(letters, log)
}
