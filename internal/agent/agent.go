// Package agent 组装所有采集源、关联器和分发器，并管理它们的生命周期
package agent

import (
	"context"
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/Hara602/hostSentry/internal/analysis"
	"github.com/Hara602/hostSentry/internal/config"
	"github.com/Hara602/hostSentry/internal/correlator"
	"github.com/Hara602/hostSentry/internal/general"
	"github.com/Hara602/hostSentry/internal/mailbox"
	"github.com/Hara602/hostSentry/internal/model"
	"github.com/Hara602/hostSentry/internal/monitor"
	"github.com/Hara602/hostSentry/internal/pipeline"
	"github.com/Hara602/hostSentry/internal/scanner"
	"github.com/Hara602/hostSentry/internal/session"
	"github.com/Hara602/hostSentry/internal/volume"
	"github.com/Hara602/hostSentry/internal/watcher"
	"github.com/dustin/go-humanize"
	"github.com/sourcegraph/conc"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Options 可替换的外部依赖，为空时按配置创建
type Options struct {
	Sessions session.Directory
	Probe    volume.Probe
	Monitor  monitor.FileMonitor
	Devices  watcher.DeviceWatcher
	Sink     pipeline.Sink
	Log      *zap.Logger
}

type Agent struct {
	cfg      *config.Config
	log      *zap.Logger
	sessions session.Directory

	queue      *pipeline.Queue
	dispatcher *pipeline.Dispatcher
	sink       pipeline.Sink

	letters    *volume.LetterAllocator
	volumes    *volume.Machine
	devices    watcher.DeviceWatcher
	files      monitor.FileMonitor
	correlator *correlator.Correlator
	consumers  []*mailbox.Consumer
	scanners   []*scanner.Scanner

	watchTypes   []model.DriveType
	restartDelay time.Duration
}

func New(ctx context.Context, cfg *config.Config, opts Options) (*Agent, error) {
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}
	a := &Agent{
		cfg:          cfg,
		log:          log,
		sessions:     opts.Sessions,
		sink:         opts.Sink,
		devices:      opts.Devices,
		files:        opts.Monitor,
		watchTypes:   cfg.WatchDriveTypes(),
		restartDelay: time.Second,
	}
	if a.sessions == nil {
		a.sessions = NewSessions(cfg.Session)
	}
	if a.sink == nil {
		sink, err := BuildSink(ctx, cfg.Sinks, a.sessions, log)
		if err != nil {
			return nil, err
		}
		a.sink = sink
	}

	a.queue = pipeline.NewQueue(pipeline.SelfFilter(cfg.Sinks.File, cfg.Sinks.SQLite))
	a.dispatcher = pipeline.NewDispatcher(a.queue, a.sink, cfg.Sinks.DeliverTimeout, log.Named("dispatch"))

	a.letters = volume.NewLetterAllocator(cfg.Volumes.Letters, cfg.Volumes.RemovableRoots)
	probe := opts.Probe
	if probe == nil {
		probe = volume.NewLinuxProbe(a.letters)
	}
	a.volumes = volume.NewMachine(probe, a.emit, log.Named("volume"))
	a.volumes.OnInserted = a.watchVolume
	a.volumes.OnRemoved = a.unwatchVolume
	if a.devices == nil && cfg.Volumes.Push {
		a.devices = watcher.New(a.letters, log.Named("udev"))
	}

	if a.files == nil {
		files, err := newFileMonitor(cfg.Monitor.Backend, log.Named("monitor"))
		if err != nil {
			return nil, multierr.Append(err, a.closeSink())
		}
		a.files = files
	}

	rules := correlator.NewIgnoreRules(cfg.Rules, a.sessions)
	var inspector *analysis.TypeInspector
	if cfg.Monitor.Inspect {
		inspector = analysis.NewTypeInspector()
	}
	a.correlator = correlator.New(correlator.Options{
		Rules:        rules,
		Associations: correlator.NewAssociations(cfg.Rules.ExtraAssociations),
		Tags:         a.volumes,
		Inspector:    inspector,
		Log:          log.Named("correlator"),
	})

	for _, category := range cfg.Mailbox.Categories {
		a.consumers = append(a.consumers, &mailbox.Consumer{
			Category:    category,
			DirTemplate: cfg.Mailbox.Dir,
			Sessions:    a.sessions,
			Options: mailbox.Options{
				RegionSize:   cfg.Mailbox.RegionSize,
				LockTimeout:  cfg.Mailbox.LockTimeout,
				RecoverAfter: cfg.Mailbox.RecoverAfter,
				Index:        a.correlator.Index(),
			},
			Interval: cfg.Mailbox.PollInterval,
			Emit:     a.emit,
			Log:      log.Named("mailbox"),
		})
	}

	stores, err := buildStores(cfg.Scanners, a.volumes, rules)
	if err != nil {
		return nil, multierr.Append(err, a.closeSink())
	}
	for _, store := range stores {
		s := scanner.New(store, a.sessions, a.emit, log.Named("scanner"))
		if _, ok := store.(*scanner.RecentFiles); ok {
			s.Delay = cfg.Scanners.Recent.Delay
		}
		a.scanners = append(a.scanners, s)
	}
	return a, nil
}

// newFileMonitor fanotify 不可用 (非 root 或内核不支持) 时退回 fsnotify
func newFileMonitor(backend string, log *zap.Logger) (monitor.FileMonitor, error) {
	m, err := monitor.New(backend, log)
	if err == nil || backend != monitor.BackendFanotify {
		return m, err
	}
	log.Warn("⚠️ fanotify unavailable, falling back to fsnotify", zap.Error(err))
	return monitor.New(monitor.BackendFsnotify, log)
}

// Correlator 供测试和命令行查看复制索引
func (a *Agent) Correlator() *correlator.Correlator { return a.correlator }

func (a *Agent) emit(ev model.ActivityEvent) {
	if err := a.queue.Put(ev); err != nil {
		a.log.Debug("Event rejected", zap.String("kind", ev.Kind.String()), zap.Error(err))
	}
}

func (a *Agent) watchVolume(letter byte, st model.VolumeState) {
	if st.Root == "" || !slices.Contains(a.watchTypes, st.DriveType) {
		return
	}
	if err := a.files.AddWatch(st.Root); err != nil {
		a.log.Error("Failed to watch volume", zap.String("drive", string(letter)), zap.String("root", st.Root), zap.Error(err))
	}
}

func (a *Agent) unwatchVolume(_ byte, st model.VolumeState) {
	if st.Root != "" && slices.Contains(a.watchTypes, st.DriveType) {
		a.files.RemoveWatch(st.Root)
	}
}

func (a *Agent) onBatch(batch []model.FileNotification) {
	if ce := a.log.Check(zap.DebugLevel, "File batch"); ce != nil {
		ops := make([]string, 0, len(batch))
		for _, n := range batch {
			ops = append(ops, correlator.Describe(n))
		}
		ce.Write(zap.Strings("notifications", ops))
	}
	for _, ev := range a.correlator.ClassifyBatch(batch) {
		a.emit(ev)
	}
}

// Run 启动所有任务，阻塞到 ctx 取消后完成关闭流程
func (a *Agent) Run(ctx context.Context) error {
	a.log.Info("🛡️ hostSentry agent starting",
		zap.Int("mailboxes", len(a.consumers)),
		zap.Int("scanners", len(a.scanners)),
		zap.String("region", humanize.Bytes(uint64(a.cfg.Mailbox.RegionSize))))

	// 分发器比采集源活得久，关闭时要先把队列取完
	dispatchCtx, stopDispatch := context.WithCancel(context.WithoutCancel(ctx))
	defer stopDispatch()
	dispatched := make(chan struct{})
	go func() {
		defer close(dispatched)
		if err := a.dispatcher.Run(dispatchCtx); err != nil {
			a.log.Error("Dispatcher stopped", zap.Error(err))
		}
	}()

	a.files.Start()
	for _, root := range a.cfg.Monitor.Paths {
		if err := a.files.AddWatch(root); err != nil {
			a.log.Warn("Cannot watch path", zap.String("root", root), zap.Error(err))
		}
	}

	wg := conc.NewWaitGroup()
	a.supervise(ctx, wg, "volume-poll", func(ctx context.Context) error {
		return a.volumes.RunPoll(ctx, a.cfg.Volumes.PollInterval)
	})
	if a.devices != nil {
		changes, err := a.devices.Start(ctx)
		if err != nil {
			a.log.Warn("Device push source unavailable, polling only", zap.Error(err))
		} else {
			a.supervise(ctx, wg, "volume-push", func(ctx context.Context) error {
				return a.volumes.RunPush(ctx, changes)
			})
		}
	}
	batcher := monitor.Batcher{Window: a.cfg.Monitor.BatchWindow, MaxAge: a.cfg.Monitor.MaxBatchAge}
	a.supervise(ctx, wg, "fs-batch", func(ctx context.Context) error {
		return batcher.Run(ctx, a.files.Events(), a.onBatch)
	})
	for _, c := range a.consumers {
		a.supervise(ctx, wg, "mailbox:"+c.Category, c.Run)
	}
	for _, s := range a.scanners {
		a.supervise(ctx, wg, s.ID(), func(ctx context.Context) error {
			return s.Run(ctx, a.cfg.Scanners.Interval)
		})
	}
	if iv := a.cfg.General.HeartbeatInterval; iv > 0 {
		hb := &general.Heartbeat{Interval: iv, Emit: a.emit}
		a.supervise(ctx, wg, "heartbeat", hb.Run)
	}
	if a.cfg.General.PublicIPURL != "" && a.cfg.General.PublicIPInterval > 0 {
		ip := &general.PublicIP{
			URL:      a.cfg.General.PublicIPURL,
			Interval: a.cfg.General.PublicIPInterval,
			Retry:    a.cfg.General.PublicIPRetry,
			Timeout:  a.cfg.General.PublicIPTimeout,
			Emit:     a.emit,
			Log:      a.log.Named("publicip"),
		}
		a.supervise(ctx, wg, "public-ip", ip.Run)
	}

	<-ctx.Done()
	a.log.Info("Shutting down...")
	wg.Wait()
	if a.devices != nil {
		a.devices.Stop()
	}
	a.files.Stop()

	err := a.shutdown(stopDispatch, dispatched)
	// 排空期间 sqlite 落盘还要查询会话，最后再断开
	if c, ok := a.sessions.(interface{ Close() }); ok {
		c.Close()
	}
	return err
}

func (a *Agent) shutdown(stopDispatch context.CancelFunc, dispatched <-chan struct{}) error {
	a.queue.Close()
	if !a.cfg.Shutdown.Drain {
		if dropped := a.queue.Drain(); len(dropped) > 0 {
			a.log.Warn("Discarded queued events", zap.Int("count", len(dropped)))
		}
	}

	var err error
	timeout := a.cfg.Shutdown.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	select {
	case <-dispatched:
	case <-time.After(timeout):
		stopDispatch()
		<-dispatched
		err = fmt.Errorf("drain timed out after %s with %d events left", timeout, a.queue.Len())
	}

	st := a.dispatcher.Stats()
	a.log.Info("Dispatcher stats",
		zap.Uint64("enqueued", st.Enqueued),
		zap.Uint64("filtered", st.Filtered),
		zap.Uint64("delivered", st.Delivered),
		zap.Uint64("failed", st.Failed))
	return multierr.Append(err, a.closeSink())
}

func (a *Agent) closeSink() error {
	if c, ok := a.sink.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
