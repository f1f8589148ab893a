package watcher

import (
	"context"
	"testing"
	"time"

	"github.com/Hara602/hostSentry/internal/model"
	"github.com/Hara602/hostSentry/internal/volume"
	"github.com/pilebones/go-udev/netlink"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestWatcher(t *testing.T, mounts map[string]string) *linuxWatcher {
	t.Helper()
	letters := volume.NewLetterAllocator(map[string]string{"C": "/"}, []string{"/media"})
	w := newWatcher(letters, zap.NewNop()).(*linuxWatcher)
	w.sysRoot = t.TempDir()
	w.waitForMount = func(_ context.Context, dev string, _ time.Duration) string {
		return mounts[dev]
	}
	return w
}

func partitionEvent(action, dev string) netlink.UEvent {
	return netlink.UEvent{
		Action: netlink.KObjAction(action),
		Env: map[string]string{
			"SUBSYSTEM": "block",
			"DEVTYPE":   "partition",
			"DEVNAME":   dev,
			"DEVPATH":   "/devices/usb1/1-1/host0/block/" + dev,
		},
	}
}

func next(t *testing.T, ch <-chan model.DeviceChange) model.DeviceChange {
	t.Helper()
	select {
	case c := <-ch:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("no device change")
	}
	return model.DeviceChange{}
}

func TestPartitionAddAndRemove(t *testing.T) {
	ctx := context.Background()
	w := newTestWatcher(t, map[string]string{"/dev/sdb1": "/media/alice/USB"})

	w.handleUdevEvent(ctx, partitionEvent("add", "sdb1"))
	c := next(t, w.events)
	assert.True(t, c.Arrival)
	assert.Equal(t, uint32(1)<<model.DriveIndex('D'), c.Mask)

	w.handleUdevEvent(ctx, partitionEvent("remove", "sdb1"))
	c = next(t, w.events)
	assert.False(t, c.Arrival)
	assert.Equal(t, uint32(1)<<model.DriveIndex('D'), c.Mask)
}

func TestIgnoredUevents(t *testing.T) {
	ctx := context.Background()
	w := newTestWatcher(t, map[string]string{"/dev/sdc1": "/srv/data"})

	// 未挂载在可移动根目录下，没有盘符
	w.handleAdd(ctx, partitionEvent("add", "sdc1"))
	// 从未分配过盘符的设备
	w.handleUdevEvent(ctx, partitionEvent("remove", "sdz1"))

	disk := partitionEvent("add", "sdb")
	disk.Env["DEVTYPE"] = "disk"
	w.handleUdevEvent(ctx, disk)

	require.Never(t, func() bool { return len(w.events) > 0 }, 200*time.Millisecond, 20*time.Millisecond)
}

func TestStopIsIdempotent(t *testing.T) {
	w := newTestWatcher(t, nil)
	w.Stop()
	w.Stop()
}
