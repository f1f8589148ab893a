//go:build linux

package sysutil

import (
	"context"
	"time"

	"github.com/shirou/gopsutil/v3/disk"
)

// Mount 挂载表中的一项
type Mount struct {
	Device     string
	MountPoint string
	FsType     string
}

// Mounts 读取当前挂载表 (只含物理设备及网络/内存文件系统)
func Mounts(ctx context.Context) ([]Mount, error) {
	parts, err := disk.PartitionsWithContext(ctx, true)
	if err != nil {
		return nil, err
	}
	out := make([]Mount, 0, len(parts))
	for _, p := range parts {
		out = append(out, Mount{Device: p.Device, MountPoint: p.Mountpoint, FsType: p.Fstype})
	}
	return out, nil
}

// WaitForMount 轮询挂载表等待设备挂载
func WaitForMount(ctx context.Context, devPath string, timeout time.Duration) string {
	// udev 事件触发时，文件系统可能还没挂载好
	deadline := time.Now().Add(timeout)
	for {
		mounts, err := Mounts(ctx)
		if err == nil {
			for _, m := range mounts {
				if m.Device == devPath {
					return m.MountPoint
				}
			}
		}
		if time.Now().After(deadline) {
			return ""
		}
		select {
		case <-ctx.Done():
			return ""
		case <-time.After(100 * time.Millisecond):
		}
	}
}
