//go:build linux

package mailbox

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Hara602/hostSentry/internal/errs"
	"go.uber.org/multierr"
	"golang.org/x/sys/unix"
)

// ErrLockTimeout 在限定时间内没有拿到命名锁
var ErrLockTimeout = errors.New("mailbox: lock wait timed out")

const lockRetryInterval = 10 * time.Millisecond

// region 一把 flock 命名锁 + 一块 MAP_SHARED 映射的共享内存
type region struct {
	lockPath string
	dataPath string
	lockFile *os.File
	dataFile *os.File
	data     []byte
}

// openRegion 打开 (或在 create 时创建) 通道文件并映射到内存
func openRegion(paths regionPaths, size int, create bool) (*region, error) {
	flags := os.O_RDWR
	if create {
		flags |= os.O_CREATE
		if err := os.MkdirAll(filepath.Dir(paths.data), 0o1777); err != nil {
			return nil, errs.Wrap("mkdir", err)
		}
	}

	r := &region{lockPath: paths.lock, dataPath: paths.data}
	opened := false
	defer func() {
		if !opened {
			_ = r.close()
		}
	}()

	var err error
	if r.lockFile, err = openShared(paths.lock, flags, create); err != nil {
		return nil, err
	}
	if r.dataFile, err = openShared(paths.data, flags, create); err != nil {
		return nil, err
	}

	fi, err := r.dataFile.Stat()
	if err != nil {
		return nil, errs.Wrap("stat region", err)
	}
	mapSize := int(fi.Size())
	if mapSize == 0 {
		if !create {
			// 生产者还没来得及初始化
			return nil, errs.New(errs.Transient, "open region", fmt.Errorf("%s is empty", paths.data))
		}
		if err := r.dataFile.Truncate(int64(size)); err != nil {
			return nil, errs.Wrap("truncate region", err)
		}
		mapSize = size
	}

	r.data, err = unix.Mmap(int(r.dataFile.Fd()), 0, mapSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, errs.Wrap("mmap region", err)
	}
	opened = true
	return r, nil
}

func openShared(path string, flags int, create bool) (*os.File, error) {
	f, err := os.OpenFile(path, flags, 0o666)
	if err != nil {
		return nil, errs.Wrap("open "+filepath.Base(path), err)
	}
	if create {
		// 生产者在用户会话里，消费者是 root；umask 会吃掉 0666
		_ = f.Chmod(0o666)
	}
	return f, nil
}

// lock 有界等待的排他锁
func (r *region) lock(ctx context.Context, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	fd := int(r.lockFile.Fd())
	for {
		err := unix.Flock(fd, unix.LOCK_EX|unix.LOCK_NB)
		if err == nil {
			return nil
		}
		if !errors.Is(err, unix.EWOULDBLOCK) && !errors.Is(err, unix.EINTR) {
			return errs.Wrap("flock", err)
		}
		if time.Now().After(deadline) {
			return errs.New(errs.Transient, "flock", ErrLockTimeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(lockRetryInterval):
		}
	}
}

func (r *region) unlock() error {
	return unix.Flock(int(r.lockFile.Fd()), unix.LOCK_UN)
}

// replaced 通道文件被别的进程删除或重建
func (r *region) replaced() bool {
	return changedOnDisk(r.lockFile, r.lockPath) || changedOnDisk(r.dataFile, r.dataPath)
}

func changedOnDisk(f *os.File, path string) bool {
	held, err := f.Stat()
	if err != nil {
		return true
	}
	current, err := os.Stat(path)
	if err != nil {
		return true
	}
	return !os.SameFile(held, current)
}

// discardLock 删除锁文件，之后新打开的一方会拿到新的 inode
func (r *region) discardLock() error {
	return os.Remove(r.lockPath)
}

func (r *region) close() error {
	var err error
	if r.data != nil {
		err = multierr.Append(err, unix.Munmap(r.data))
		r.data = nil
	}
	if r.dataFile != nil {
		err = multierr.Append(err, r.dataFile.Close())
		r.dataFile = nil
	}
	if r.lockFile != nil {
		err = multierr.Append(err, r.lockFile.Close())
		r.lockFile = nil
	}
	return err
}
