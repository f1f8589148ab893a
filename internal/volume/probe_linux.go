//go:build linux

package volume

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Hara602/hostSentry/internal/analysis"
	"github.com/Hara602/hostSentry/internal/model"
	"github.com/Hara602/hostSentry/internal/pathutil"
	"github.com/Hara602/hostSentry/internal/sysutil"
)

var networkFs = map[string]bool{
	"nfs": true, "nfs4": true, "cifs": true, "smb3": true, "smbfs": true,
	"fuse.sshfs": true, "sshfs": true, "9p": true, "ceph": true, "glusterfs": true,
	"fuse.rclone": true, "davfs": true,
}

// LinuxProbe 用挂载表模拟盘符
type LinuxProbe struct {
	Letters *LetterAllocator
	// SysClassBlock 默认 /sys/class/block，测试时替换
	SysClassBlock string
	Mounts        func(ctx context.Context) ([]sysutil.Mount, error)
	Stat          func(path string) error
}

func NewLinuxProbe(letters *LetterAllocator) *LinuxProbe {
	return &LinuxProbe{
		Letters:       letters,
		SysClassBlock: "/sys/class/block",
		Mounts:        sysutil.Mounts,
		Stat: func(path string) error {
			_, err := os.Stat(path)
			return err
		},
	}
}

func (p *LinuxProbe) Drives(ctx context.Context) (map[byte]DriveInfo, error) {
	listedAt := time.Now()
	mounts, err := p.Mounts(ctx)
	if err != nil {
		return nil, err
	}
	points := make([]string, 0, len(mounts))
	for _, m := range mounts {
		points = append(points, m.MountPoint)
	}
	p.Letters.Retain(points, listedAt)

	out := make(map[byte]DriveInfo)
	for _, m := range mounts {
		letter, ok := p.Letters.Assign(m.MountPoint, m.Device)
		if !ok {
			continue
		}
		if _, dup := out[letter]; dup {
			continue
		}
		out[letter] = DriveInfo{
			Type:   p.classify(m),
			Ready:  p.Stat(m.MountPoint) == nil,
			Root:   m.MountPoint,
			Device: m.Device,
		}
	}
	// 固定映射到普通目录 (非挂载点) 的盘符按所在文件系统分类
	for letter, root := range p.Letters.Static() {
		if _, ok := out[letter]; ok {
			continue
		}
		host, ok := containingMount(mounts, root)
		if !ok {
			continue
		}
		out[letter] = DriveInfo{
			Type:   p.classify(host),
			Ready:  p.Stat(root) == nil,
			Root:   root,
			Device: host.Device,
		}
	}
	return out, nil
}

func containingMount(mounts []sysutil.Mount, path string) (sysutil.Mount, bool) {
	var best sysutil.Mount
	found := false
	for _, m := range mounts {
		if pathutil.Under(path, m.MountPoint) && (!found || len(m.MountPoint) > len(best.MountPoint)) {
			best, found = m, true
		}
	}
	return best, found
}

func (p *LinuxProbe) classify(m sysutil.Mount) model.DriveType {
	fs := strings.ToLower(m.FsType)
	switch {
	case networkFs[fs]:
		return model.DriveNetwork
	case fs == "tmpfs" || fs == "ramfs":
		return model.DriveRAM
	case fs == "iso9660" || fs == "udf":
		return model.DriveOptical
	}
	if !strings.HasPrefix(m.Device, "/dev/") {
		return model.DriveUnknown
	}
	if p.removable(filepath.Base(m.Device)) {
		return model.DriveRemovable
	}
	return model.DriveFixed
}

// removable 检查 sysfs 的 removable 标志，或设备挂在 USB 存储上
func (p *LinuxProbe) removable(dev string) bool {
	sysPath, err := filepath.EvalSymlinks(filepath.Join(p.SysClassBlock, dev))
	if err != nil {
		return false
	}
	// 分区本身没有 removable 属性，看所在的整盘
	for _, dir := range []string{sysPath, filepath.Dir(sysPath)} {
		if analysis.ReadAttr(filepath.Join(dir, "removable")) == "1" {
			return true
		}
	}
	usbRoot, ok := analysis.FindUSBRoot(sysPath)
	if !ok {
		return false
	}
	return analysis.InspectUSB(usbRoot).HasStorage
}
