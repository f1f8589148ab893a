package volume

import (
	"strings"
	"sync"
	"time"

	"github.com/Hara602/hostSentry/internal/model"
	"github.com/Hara602/hostSentry/internal/pathutil"
)

// LetterAllocator 把 Linux 挂载点映射到盘符。
// 固定映射来自配置；可移动挂载根目录下的挂载点从 D 开始取最小的空闲盘符，
// 挂载点消失后盘符回收。
type LetterAllocator struct {
	mu       sync.Mutex
	static   map[byte]string
	roots    []string
	dynamic  map[string]assignment
	byDevice map[string]byte
}

type assignment struct {
	letter byte
	at     time.Time
}

func NewLetterAllocator(static map[string]string, removableRoots []string) *LetterAllocator {
	a := &LetterAllocator{
		static:   make(map[byte]string),
		roots:    append([]string(nil), removableRoots...),
		dynamic:  make(map[string]assignment),
		byDevice: make(map[string]byte),
	}
	for k, root := range static {
		if len(k) != 1 || model.DriveIndex(k[0]) < 0 {
			continue
		}
		a.static[byte(strings.ToUpper(k)[0])] = pathutil.Clean(root)
	}
	return a
}

// Assign 返回挂载点对应的盘符，必要时分配新盘符
func (a *LetterAllocator) Assign(mountPoint, device string) (byte, bool) {
	mountPoint = pathutil.Clean(mountPoint)
	a.mu.Lock()
	defer a.mu.Unlock()

	for letter, root := range a.static {
		if root == mountPoint {
			a.remember(device, letter)
			return letter, true
		}
	}
	if as, ok := a.dynamic[mountPoint]; ok {
		a.remember(device, as.letter)
		return as.letter, true
	}
	if !a.removable(mountPoint) {
		return 0, false
	}
	for idx := model.DriveIndex('D'); idx < 26; idx++ {
		letter := model.DriveLetter(idx)
		if a.taken(letter) {
			continue
		}
		a.dynamic[mountPoint] = assignment{letter: letter, at: time.Now()}
		a.remember(device, letter)
		return letter, true
	}
	return 0, false
}

func (a *LetterAllocator) remember(device string, letter byte) {
	if device != "" {
		a.byDevice[device] = letter
	}
}

func (a *LetterAllocator) removable(mountPoint string) bool {
	for _, root := range a.roots {
		if mountPoint != pathutil.Clean(root) && pathutil.Under(mountPoint, root) {
			return true
		}
	}
	return false
}

func (a *LetterAllocator) taken(letter byte) bool {
	if _, ok := a.static[letter]; ok {
		return true
	}
	for _, as := range a.dynamic {
		if as.letter == letter {
			return true
		}
	}
	return false
}

// Release 回收挂载点的动态盘符，固定映射不受影响
func (a *LetterAllocator) Release(mountPoint string) {
	mountPoint = pathutil.Clean(mountPoint)
	a.mu.Lock()
	defer a.mu.Unlock()
	a.release(mountPoint)
}

func (a *LetterAllocator) release(mountPoint string) {
	as, ok := a.dynamic[mountPoint]
	if !ok {
		return
	}
	delete(a.dynamic, mountPoint)
	for dev, l := range a.byDevice {
		if l == as.letter {
			delete(a.byDevice, dev)
		}
	}
}

// Retain 回收不在 mounted 中的动态盘符。
// listedAt 是读取挂载表的时间，之后才分配的盘符保留到下一轮。
func (a *LetterAllocator) Retain(mounted []string, listedAt time.Time) {
	keep := make(map[string]bool, len(mounted))
	for _, m := range mounted {
		keep[pathutil.Clean(m)] = true
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	for mp, as := range a.dynamic {
		if !keep[mp] && !as.at.After(listedAt) {
			a.release(mp)
		}
	}
}

// LetterForDevice 设备最近一次挂载时分到的盘符
func (a *LetterAllocator) LetterForDevice(device string) (byte, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	l, ok := a.byDevice[device]
	return l, ok
}

// Static 固定映射的副本
func (a *LetterAllocator) Static() map[byte]string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[byte]string, len(a.static))
	for k, v := range a.static {
		out[k] = v
	}
	return out
}
