package monitor

import (
	"context"
	"time"

	"github.com/Hara602/hostSentry/internal/model"
	"github.com/Hara602/hostSentry/internal/pathutil"
)

// Batcher 把零散的通知按静默窗口合并成批次。
// 窗口内没有新通知就提交；批次存在超过 MaxAge 时强制提交。
type Batcher struct {
	Window time.Duration
	MaxAge time.Duration
}

func (b Batcher) Run(ctx context.Context, in <-chan model.FileNotification, flush func([]model.FileNotification)) error {
	var (
		pending []model.FileNotification
		started time.Time
	)
	timer := time.NewTimer(b.Window)
	timer.Stop()
	defer timer.Stop()

	submit := func() {
		if len(pending) == 0 {
			return
		}
		batch := Normalize(pending)
		pending = nil
		if len(batch) > 0 {
			flush(batch)
		}
	}

	for {
		select {
		case <-ctx.Done():
			submit()
			return nil
		case n, ok := <-in:
			if !ok {
				submit()
				return nil
			}
			if len(pending) == 0 {
				started = time.Now()
			}
			pending = append(pending, n)
			if b.MaxAge > 0 && time.Since(started) >= b.MaxAge {
				timer.Stop()
				submit()
				continue
			}
			timer.Reset(b.Window)
		case <-timer.C:
			submit()
		}
	}
}

// Normalize 整理一个批次：
// 配对 MovedFrom 和随后的 MovedTo (或同目录下的 Create) 成为 Rename，
// 去掉重复通知，以及同一路径 Create 之后的 Change。
func Normalize(batch []model.FileNotification) []model.FileNotification {
	used := make([]bool, len(batch))
	paired := make([]model.FileNotification, 0, len(batch))
	for i, n := range batch {
		if used[i] {
			continue
		}
		if n.Op == model.OpMovedFrom {
			if j := findMoveTarget(batch, used, i); j >= 0 {
				used[j] = true
				to := batch[j]
				n = model.FileNotification{
					Op:      model.OpRename,
					OldPath: n.Path,
					Path:    to.Path,
					IsDir:   n.IsDir || to.IsDir,
					PID:     to.PID,
					Process: to.Process,
					Time:    to.Time,
				}
			}
		}
		used[i] = true
		paired = append(paired, n)
	}

	type key struct {
		op      model.FileOp
		path    string
		oldPath string
	}
	seen := make(map[key]bool, len(paired))
	created := make(map[string]bool)
	out := paired[:0]
	for _, n := range paired {
		k := key{n.Op, n.Path, n.OldPath}
		if seen[k] {
			continue
		}
		if n.Op == model.OpChange && created[n.Path] {
			continue
		}
		seen[k] = true
		if n.Op == model.OpCreate || n.Op == model.OpMovedTo {
			created[n.Path] = true
		}
		out = append(out, n)
	}
	return out
}

// findMoveTarget 为 MovedFrom 找配对的 MovedTo：同名的优先 (移动)，其次同目录的 (改名)，
// 都没有时取最早的一个。fsnotify 只报告 Rename(旧路径) + Create(新路径)，这种只在同一目录内配对。
func findMoveTarget(batch []model.FileNotification, used []bool, from int) int {
	src := batch[from].Path
	base, dir := pathutil.Base(src), pathutil.Dir(src)
	find := func(match func(model.FileNotification) bool) int {
		for j := from + 1; j < len(batch); j++ {
			if !used[j] && match(batch[j]) {
				return j
			}
		}
		return -1
	}
	movedTo := func(n model.FileNotification) bool { return n.Op == model.OpMovedTo }

	if j := find(func(n model.FileNotification) bool { return movedTo(n) && pathutil.Base(n.Path) == base }); j >= 0 {
		return j
	}
	if j := find(func(n model.FileNotification) bool { return movedTo(n) && pathutil.Dir(n.Path) == dir }); j >= 0 {
		return j
	}
	if j := find(movedTo); j >= 0 {
		return j
	}
	return find(func(n model.FileNotification) bool {
		return n.Op == model.OpCreate && pathutil.Dir(n.Path) == dir
	})
}
