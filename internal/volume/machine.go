// Package volume 维护每个盘符的插拔状态。
// 推送路径 (udev) 和 1 秒轮询路径共用同一把锁，重复通知会被状态机吸收。
package volume

import (
	"context"
	"math/bits"
	"sync"
	"time"

	"github.com/Hara602/hostSentry/internal/model"
	"github.com/Hara602/hostSentry/internal/pathutil"
	"go.uber.org/zap"
)

// DriveInfo 探测到的卷信息
type DriveInfo struct {
	Type   model.DriveType
	Ready  bool
	Root   string
	Device string
}

// Probe 查询盘符当前的类型和就绪状态
type Probe interface {
	Drives(ctx context.Context) (map[byte]DriveInfo, error)
}

// Hook 状态变化后的回调，在锁外调用
type Hook func(letter byte, state model.VolumeState)

// Machine 卷状态机
type Machine struct {
	mu     sync.Mutex
	states [26]model.VolumeState
	probe  Probe
	emit   func(model.ActivityEvent)
	log    *zap.Logger

	OnInserted Hook
	OnRemoved  Hook
}

func NewMachine(probe Probe, emit func(model.ActivityEvent), log *zap.Logger) *Machine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Machine{probe: probe, emit: emit, log: log}
}

// FirstDrive 位掩码中最低位对应的盘符
func FirstDrive(mask uint32) (byte, bool) {
	if mask&(1<<26-1) == 0 {
		return 0, false
	}
	return model.DriveLetter(bits.TrailingZeros32(mask)), true
}

type transition struct {
	letter   byte
	state    model.VolumeState
	inserted bool
}

// HandleDeviceChange 推送路径
func (m *Machine) HandleDeviceChange(ctx context.Context, change model.DeviceChange) {
	letter, ok := FirstDrive(change.Mask)
	if !ok {
		return
	}
	if !change.Arrival {
		m.mu.Lock()
		t, changed := m.removeLocked(letter)
		m.mu.Unlock()
		if changed {
			m.notify(t)
		}
		return
	}

	drives, err := m.probe.Drives(ctx)
	if err != nil {
		m.log.Warn("Drive probe failed", zap.Error(err))
		return
	}
	info, present := drives[letter]
	if !present {
		return
	}
	m.mu.Lock()
	t, changed := m.arriveLocked(letter, info)
	m.mu.Unlock()
	if changed {
		m.notify(t)
	}
}

// Poll 轮询路径：枚举所有盘符并与状态表对账
func (m *Machine) Poll(ctx context.Context) error {
	drives, err := m.probe.Drives(ctx)
	if err != nil {
		return err
	}

	var changes []transition
	m.mu.Lock()
	for idx := range m.states {
		letter := model.DriveLetter(idx)
		st := m.states[idx]
		info, present := drives[letter]
		switch {
		case present && info.Type.Supported() && info.Ready:
			if t, ok := m.arriveLocked(letter, info); ok {
				changes = append(changes, t)
			}
		case present && !info.Ready && (info.Type.Supported() || st.DriveType.Supported()):
			if t, ok := m.removeLocked(letter); ok {
				changes = append(changes, t)
			}
		case !present:
			if t, ok := m.removeLocked(letter); ok {
				changes = append(changes, t)
			}
		}
	}
	m.mu.Unlock()

	for _, t := range changes {
		m.notify(t)
	}
	return nil
}

func (m *Machine) arriveLocked(letter byte, info DriveInfo) (transition, bool) {
	idx := model.DriveIndex(letter)
	st := &m.states[idx]
	if !info.Type.Supported() || !info.Ready || st.EventType == model.VolumeStateInserted {
		return transition{}, false
	}
	st.DriveType = info.Type
	st.EventType = model.VolumeStateInserted
	st.Root = info.Root
	if m.emit != nil {
		m.emit(model.NewEvent(model.VolumeInserted, string(letter)+":", info.Type.String(), info.Root))
	}
	return transition{letter: letter, state: *st, inserted: true}, true
}

func (m *Machine) removeLocked(letter byte) (transition, bool) {
	idx := model.DriveIndex(letter)
	st := &m.states[idx]
	if !st.DriveType.Supported() || st.EventType != model.VolumeStateInserted {
		return transition{}, false
	}
	prev := *st
	st.DriveType = model.DriveUnknown
	st.EventType = model.VolumeStateRemoved
	if m.emit != nil {
		m.emit(model.NewEvent(model.VolumeRemoved, string(letter)+":", prev.DriveType.String(), prev.Root))
	}
	return transition{letter: letter, state: prev}, true
}

func (m *Machine) notify(t transition) {
	if t.inserted {
		m.log.Info("💾 Volume inserted", zap.String("drive", string(t.letter)),
			zap.Stringer("type", t.state.DriveType), zap.String("root", t.state.Root))
		if m.OnInserted != nil {
			m.OnInserted(t.letter, t.state)
		}
		return
	}
	m.log.Info("❌ Volume removed", zap.String("drive", string(t.letter)), zap.String("root", t.state.Root))
	if m.OnRemoved != nil {
		m.OnRemoved(t.letter, t.state)
	}
}

// State 返回某个盘符的状态副本
func (m *Machine) State(letter byte) model.VolumeState {
	idx := model.DriveIndex(letter)
	if idx < 0 {
		return model.VolumeState{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.states[idx]
}

// TagOf 路径所在卷的类型名，用于事件的第三字段
func (m *Machine) TagOf(path string) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	if letter, ok := pathutil.VolumeLetter(path); ok {
		return m.states[model.DriveIndex(letter)].DriveType.String()
	}
	best, bestLen := model.DriveUnknown, -1
	for _, st := range m.states {
		if st.EventType != model.VolumeStateInserted || st.Root == "" {
			continue
		}
		if pathutil.Under(path, st.Root) && len(st.Root) > bestLen {
			best, bestLen = st.DriveType, len(st.Root)
		}
	}
	return best.String()
}

// RunPoll 轮询循环
func (m *Machine) RunPoll(ctx context.Context, interval time.Duration) error {
	if err := m.Poll(ctx); err != nil {
		m.log.Warn("Volume poll failed", zap.Error(err))
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := m.Poll(ctx); err != nil {
				m.log.Debug("Volume poll failed", zap.Error(err))
			}
		}
	}
}

// RunPush 消费推送路径上的设备变更
func (m *Machine) RunPush(ctx context.Context, changes <-chan model.DeviceChange) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ch, ok := <-changes:
			if !ok {
				return nil
			}
			m.HandleDeviceChange(ctx, ch)
		}
	}
}
