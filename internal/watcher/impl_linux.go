package watcher

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/Hara602/hostSentry/internal/analysis"
	"github.com/Hara602/hostSentry/internal/errs"
	"github.com/Hara602/hostSentry/internal/model"
	"github.com/Hara602/hostSentry/internal/sysutil"
	"github.com/Hara602/hostSentry/internal/volume"
	"github.com/pilebones/go-udev/netlink"
	"go.uber.org/zap"
)

type linuxWatcher struct {
	letters *volume.LetterAllocator
	log     *zap.Logger
	events  chan model.DeviceChange
	stop    chan struct{}
	once    sync.Once

	sysRoot      string
	mountTimeout time.Duration
	waitForMount func(ctx context.Context, devPath string, timeout time.Duration) string
}

func newWatcher(letters *volume.LetterAllocator, log *zap.Logger) DeviceWatcher {
	return &linuxWatcher{
		letters:      letters,
		log:          log,
		events:       make(chan model.DeviceChange, 10),
		stop:         make(chan struct{}),
		sysRoot:      "/sys",
		mountTimeout: 10 * time.Second,
		waitForMount: sysutil.WaitForMount,
	}
}

func (w *linuxWatcher) Start(ctx context.Context) (<-chan model.DeviceChange, error) {
	// 监听 UDEV 事件,连接 NETLINK_KOBJECT_UEVENT
	conn := new(netlink.UEventConn)
	if err := conn.Connect(netlink.UdevEvent); err != nil {
		return nil, errs.Wrap("udev connect", err)
	}
	queue := make(chan netlink.UEvent)
	errChan := make(chan error)
	quit := conn.Monitor(queue, errChan, nil)

	go func() {
		defer conn.Close()
		for {
			select {
			case <-ctx.Done():
				close(quit)
				return
			case <-w.stop:
				close(quit)
				return
			case err := <-errChan:
				// 底层网络错误不致命，继续监听
				w.log.Debug("udev monitor error", zap.Error(err))
			case uevent := <-queue:
				w.handleUdevEvent(ctx, uevent)
			}
		}
	}()
	return w.events, nil
}

func (w *linuxWatcher) Stop() {
	w.once.Do(func() { close(w.stop) })
}

func (w *linuxWatcher) handleUdevEvent(ctx context.Context, uevent netlink.UEvent) {
	if uevent.Env["SUBSYSTEM"] != "block" || uevent.Env["DEVTYPE"] != "partition" {
		return
	}
	switch uevent.Action {
	case "add":
		go w.handleAdd(ctx, uevent)
	case "remove":
		w.handleRemove(ctx, uevent)
	}
}

func devName(uevent netlink.UEvent) string {
	name := uevent.Env["DEVNAME"]
	if !strings.HasPrefix(name, "/dev") {
		name = "/dev/" + name
	}
	return name
}

func (w *linuxWatcher) handleAdd(ctx context.Context, uevent netlink.UEvent) {
	dev := devName(uevent)
	sysPath := w.sysRoot + uevent.Env["DEVPATH"]

	// 向上回溯找到 USB 物理设备根目录
	if usbRoot, ok := analysis.FindUSBRoot(sysPath); ok {
		d := analysis.InspectUSB(usbRoot)
		w.log.Info("device information",
			zap.String("dev", dev),
			zap.String("vid", d.VendorID),
			zap.String("pid", d.ProductID),
			zap.String("serial", d.Serial),
			zap.String("product", d.Product),
			zap.String("kind", d.Kind()))
		if d.BadUSBSuspect() {
			w.log.Warn("🚨 POTENTIAL BADUSB DETECTED", zap.String("serial", d.Serial), zap.String("dev", dev))
		}
	}

	mountPoint := w.waitForMount(ctx, dev, w.mountTimeout)
	if mountPoint == "" {
		w.log.Warn("Device detected but mount point not found (timeout)", zap.String("dev", dev))
		return
	}
	letter, ok := w.letters.Assign(mountPoint, dev)
	if !ok {
		w.log.Debug("Mount has no drive letter", zap.String("mount", mountPoint))
		return
	}
	w.send(ctx, letter, true)
}

func (w *linuxWatcher) handleRemove(ctx context.Context, uevent netlink.UEvent) {
	letter, ok := w.letters.LetterForDevice(devName(uevent))
	if !ok {
		return
	}
	w.send(ctx, letter, false)
}

func (w *linuxWatcher) send(ctx context.Context, letter byte, arrival bool) {
	idx := model.DriveIndex(letter)
	if idx < 0 {
		return
	}
	select {
	case w.events <- model.DeviceChange{Mask: 1 << idx, Arrival: arrival}:
	case <-ctx.Done():
	case <-w.stop:
	}
}
