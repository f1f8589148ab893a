//go:build linux

package monitor

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Hara602/hostSentry/internal/errs"
	"github.com/Hara602/hostSentry/internal/model"
	"github.com/Hara602/hostSentry/internal/pathutil"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

const fanotifyMask = uint64(unix.FAN_CLOSE_WRITE |
	unix.FAN_CREATE |
	unix.FAN_DELETE |
	unix.FAN_MOVED_TO |
	unix.FAN_MOVED_FROM |
	unix.FAN_ONDIR |
	unix.FAN_EVENT_ON_CHILD)

type fanotifyMonitor struct {
	fd     int
	log    *zap.Logger
	events chan model.FileNotification
	stop   chan struct{}
	once   sync.Once

	mu sync.Mutex
	// 监控根目录 -> 所在文件系统
	roots map[string]unix.Fsid
	// 文件系统 -> 用于 open_by_handle_at 的目录 fd
	mounts map[unix.Fsid]int
}

func newFanotify(log *zap.Logger) (FileMonitor, error) {
	flags := uint(unix.FAN_CLASS_NOTIF |
		unix.FAN_REPORT_DFID_NAME |
		unix.FAN_CLOEXEC |
		unix.FAN_NONBLOCK |
		unix.FAN_UNLIMITED_QUEUE |
		unix.FAN_UNLIMITED_MARKS)
	fd, err := unix.FanotifyInit(flags, uint(unix.O_RDONLY|unix.O_LARGEFILE))
	if err != nil {
		return nil, errs.Wrap("fanotify init", err)
	}
	return &fanotifyMonitor{
		fd:     fd,
		log:    log,
		events: make(chan model.FileNotification, 1024),
		stop:   make(chan struct{}),
		roots:  make(map[string]unix.Fsid),
		mounts: make(map[unix.Fsid]int),
	}, nil
}

func (f *fanotifyMonitor) Start() {
	go func() {
		var buf [4096]byte
		pfd := []unix.PollFd{{Fd: int32(f.fd), Events: unix.POLLIN}}
		for {
			select {
			case <-f.stop:
				return
			default:
			}
			// 带超时的 poll，保证 Stop 之后能退出
			n, err := unix.Poll(pfd, 200)
			if err != nil || n == 0 {
				continue
			}
			n, err = unix.Read(f.fd, buf[:])
			if err != nil || n <= 0 {
				continue
			}
			raws, err := parseEvents(buf[:n])
			if err != nil {
				f.log.Warn("fanotify buffer malformed", zap.Error(err))
			}
			for _, raw := range raws {
				if raw.fd >= 0 {
					_ = unix.Close(int(raw.fd))
				}
				f.dispatch(raw)
			}
		}
	}()
}

func (f *fanotifyMonitor) AddWatch(root string) error {
	root = filepath.Clean(root)

	// FAN_MARK_FILESYSTEM: 监控整个文件系统，这样能递归监控所有子目录
	err := unix.FanotifyMark(f.fd, unix.FAN_MARK_ADD|unix.FAN_MARK_FILESYSTEM, fanotifyMask, unix.AT_FDCWD, root)
	if err != nil {
		// 退化为普通目录监控 (不递归)
		f.log.Warn("⚠️ FAN_MARK_FILESYSTEM failed, trying directory only mode", zap.String("root", root), zap.Error(err))
		if err = unix.FanotifyMark(f.fd, unix.FAN_MARK_ADD, fanotifyMask, unix.AT_FDCWD, root); err != nil {
			return errs.Wrap("fanotify mark "+root, err)
		}
	}

	dirfd, err := unix.Open(root, unix.O_RDONLY|unix.O_DIRECTORY|unix.O_CLOEXEC, 0)
	if err != nil {
		return errs.Wrap("open "+root, err)
	}
	var st unix.Statfs_t
	if err := unix.Fstatfs(dirfd, &st); err != nil {
		_ = unix.Close(dirfd)
		return errs.Wrap("statfs "+root, err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.mounts[st.Fsid]; ok {
		_ = unix.Close(dirfd)
	} else {
		f.mounts[st.Fsid] = dirfd
	}
	f.roots[root] = st.Fsid
	f.log.Info("👀 Watching", zap.String("root", root))
	return nil
}

func (f *fanotifyMonitor) RemoveWatch(root string) {
	root = filepath.Clean(root)
	f.mu.Lock()
	defer f.mu.Unlock()

	fsid, ok := f.roots[root]
	if !ok {
		return
	}
	delete(f.roots, root)
	for _, other := range f.roots {
		if other == fsid {
			return
		}
	}
	_ = unix.FanotifyMark(f.fd, unix.FAN_MARK_REMOVE|unix.FAN_MARK_FILESYSTEM, fanotifyMask, unix.AT_FDCWD, root)
	if dirfd, ok := f.mounts[fsid]; ok {
		_ = unix.Close(dirfd)
		delete(f.mounts, fsid)
	}
	f.log.Info("Stopped watching", zap.String("root", root))
}

func (f *fanotifyMonitor) Stop() {
	f.once.Do(func() {
		close(f.stop)
		f.mu.Lock()
		defer f.mu.Unlock()
		var err error
		for fsid, dirfd := range f.mounts {
			err = multierr.Append(err, unix.Close(dirfd))
			delete(f.mounts, fsid)
		}
		err = multierr.Append(err, unix.Close(f.fd))
		if err != nil {
			f.log.Debug("fanotify close", zap.Error(err))
		}
	})
}

func (f *fanotifyMonitor) Events() <-chan model.FileNotification { return f.events }

func (f *fanotifyMonitor) dispatch(raw rawEvent) {
	now := time.Now()
	proc := getProcName(int(raw.pid))
	for _, rec := range raw.records {
		if rec.name == "" || rec.name == "." {
			continue
		}
		dir, err := f.resolveDir(rec)
		if err != nil {
			f.log.Debug("Cannot resolve directory handle", zap.String("name", rec.name), zap.Error(err))
			continue
		}
		path := filepath.Join(dir, rec.name)
		if !f.watched(path) {
			continue
		}
		for _, op := range opsOf(raw.mask) {
			n := model.FileNotification{
				Op:      op,
				Path:    path,
				IsDir:   raw.mask&unix.FAN_ONDIR != 0,
				PID:     raw.pid,
				Process: proc,
				Time:    now,
			}
			select {
			case f.events <- n:
			case <-f.stop:
				return
			}
		}
	}
}

func (f *fanotifyMonitor) watched(path string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for root := range f.roots {
		if pathutil.Under(path, root) {
			return true
		}
	}
	return false
}

// resolveDir 通过文件句柄打开父目录，再从 /proc/self/fd 读出路径
func (f *fanotifyMonitor) resolveDir(rec fidRecord) (string, error) {
	f.mu.Lock()
	mountFd, ok := f.mounts[rec.fsid]
	f.mu.Unlock()
	if !ok {
		return "", errors.New("unknown filesystem id")
	}
	handle := unix.NewFileHandle(rec.handleType, rec.handle)
	fd, err := unix.OpenByHandleAt(mountFd, handle, unix.O_PATH)
	if err != nil {
		return "", err
	}
	defer unix.Close(fd)
	dir, err := os.Readlink("/proc/self/fd/" + strconv.Itoa(fd))
	if err != nil {
		return "", err
	}
	return strings.TrimSuffix(dir, " (deleted)"), nil
}

// opsOf 一个 fanotify 事件可能合并了多个操作，按发生顺序展开
func opsOf(mask uint64) []model.FileOp {
	var ops []model.FileOp
	if mask&unix.FAN_CREATE != 0 {
		ops = append(ops, model.OpCreate)
	}
	if mask&unix.FAN_MOVED_FROM != 0 {
		ops = append(ops, model.OpMovedFrom)
	}
	if mask&unix.FAN_MOVED_TO != 0 {
		ops = append(ops, model.OpMovedTo)
	}
	if mask&unix.FAN_CLOSE_WRITE != 0 {
		ops = append(ops, model.OpChange)
	}
	if mask&unix.FAN_DELETE != 0 {
		ops = append(ops, model.OpDelete)
	}
	return ops
}

type fidRecord struct {
	fsid       unix.Fsid
	handleType int32
	handle     []byte
	name       string
}

type rawEvent struct {
	mask    uint64
	pid     int32
	fd      int32
	records []fidRecord
}

// parseEvents 解析一次 read 得到的缓冲区
// 结构：[FanotifyEventMetadata] + [FanotifyEventInfoFid1] + [FanotifyEventInfoFid2] ... 重复
func parseEvents(buf []byte) ([]rawEvent, error) {
	var out []rawEvent
	off := 0
	for off+model.FanotifyEventMetadataSize <= len(buf) {
		var meta unix.FanotifyEventMetadata
		if err := binary.Read(bytes.NewReader(buf[off:off+model.FanotifyEventMetadataSize]), binary.LittleEndian, &meta); err != nil {
			return out, errs.New(errs.DataFormat, "fanotify metadata", err)
		}
		end := off + int(meta.Event_len)
		if int(meta.Event_len) < model.FanotifyEventMetadataSize || end > len(buf) ||
			int(meta.Metadata_len) < model.FanotifyEventMetadataSize || int(meta.Metadata_len) > int(meta.Event_len) {
			return out, errs.New(errs.DataFormat, "fanotify metadata",
				fmt.Errorf("bad lengths event=%d metadata=%d", meta.Event_len, meta.Metadata_len))
		}
		if meta.Vers != unix.FANOTIFY_METADATA_VERSION {
			return out, errs.New(errs.DataFormat, "fanotify metadata", fmt.Errorf("version %d", meta.Vers))
		}
		out = append(out, rawEvent{
			mask:    meta.Mask,
			pid:     meta.Pid,
			fd:      meta.Fd,
			records: parseInfo(buf[off+int(meta.Metadata_len) : end]),
		})
		off = end
	}
	return out, nil
}

// parseInfo 读取 DFID_NAME 记录：
// [Header] + [FSID] + [file_handle 头] + [f_handle] + [以 NUL 结尾的目录项名称]
func parseInfo(info []byte) []fidRecord {
	var out []fidRecord
	for len(info) >= 4 {
		var fid model.FanotifyEventInfoFid
		hdrLen := int(binary.LittleEndian.Uint16(info[2:4]))
		if hdrLen < 4 || hdrLen > len(info) {
			break
		}
		rec := info[:hdrLen]
		info = info[hdrLen:]
		if rec[0] != unix.FAN_EVENT_INFO_TYPE_DFID_NAME || len(rec) < model.FanotifyFidFixedSize {
			continue
		}
		if err := binary.Read(bytes.NewReader(rec[:12]), binary.LittleEndian, &fid); err != nil {
			continue
		}
		var fh model.FileHandle
		if err := binary.Read(bytes.NewReader(rec[12:model.FanotifyFidFixedSize]), binary.LittleEndian, &fh); err != nil {
			continue
		}
		handleEnd := model.FanotifyFidFixedSize + int(fh.HandleBytes)
		if handleEnd > len(rec) {
			continue
		}
		nameBuf := rec[handleEnd:]
		if idx := bytes.IndexByte(nameBuf, 0); idx != -1 {
			nameBuf = nameBuf[:idx]
		}
		out = append(out, fidRecord{
			fsid:       fid.Fsid,
			handleType: fh.HandleType,
			handle:     append([]byte(nil), rec[model.FanotifyFidFixedSize:handleEnd]...),
			name:       string(nameBuf),
		})
	}
	return out
}

func getProcName(pid int) string {
	if pid <= 0 {
		return "unknown"
	}
	b, err := os.ReadFile(filepath.Join("/proc", strconv.Itoa(pid), "comm"))
	if err != nil {
		// 进程的文件不存在，说明进程已经退出了
		if os.IsNotExist(err) {
			return "process exited too fast"
		}
		return "unknown"
	}
	return strings.TrimSpace(string(b))
}
