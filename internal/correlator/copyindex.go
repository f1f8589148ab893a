package correlator

import (
	"sync/atomic"

	"github.com/Hara602/hostSentry/internal/model"
)

// CopyIndex 剪贴板上最近一次出现的文件列表。
// 写入方整体替换，读取方拿到的是不可变快照。
type CopyIndex struct {
	entries atomic.Pointer[[]model.FileDescriptor]
}

func NewCopyIndex() *CopyIndex { return &CopyIndex{} }

// Replace 整体替换索引内容
func (c *CopyIndex) Replace(files []model.FileDescriptor) {
	snapshot := append([]model.FileDescriptor(nil), files...)
	c.entries.Store(&snapshot)
}

// Snapshot 当前索引，调用方不得修改
func (c *CopyIndex) Snapshot() []model.FileDescriptor {
	p := c.entries.Load()
	if p == nil {
		return nil
	}
	return *p
}

func (c *CopyIndex) Len() int { return len(c.Snapshot()) }
