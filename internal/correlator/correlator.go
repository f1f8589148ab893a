// Package correlator 把文件系统原始通知归类成活动事件：
// 识别复制、区分重命名和编辑器的另存为、丢弃噪声。
package correlator

import (
	"os"
	"strings"

	"github.com/Hara602/hostSentry/internal/analysis"
	"github.com/Hara602/hostSentry/internal/model"
	"github.com/Hara602/hostSentry/internal/pathutil"
	"go.uber.org/zap"
)

// DriveTagger 返回路径所在卷的类型名
type DriveTagger interface {
	TagOf(path string) string
}

type Options struct {
	Index        *CopyIndex
	Rules        *IgnoreRules
	Associations *Associations
	Tags         DriveTagger
	// Inspector 不为空时检查可移动介质上的新文件是否伪装
	Inspector *analysis.TypeInspector
	// IsFile 默认检查路径存在且是普通文件
	IsFile func(path string) bool
	Log    *zap.Logger
}

type Correlator struct {
	index     *CopyIndex
	rules     *IgnoreRules
	assoc     *Associations
	tags      DriveTagger
	inspector *analysis.TypeInspector
	isFile    func(string) bool
	log       *zap.Logger
}

func New(opts Options) *Correlator {
	c := &Correlator{
		index:     opts.Index,
		rules:     opts.Rules,
		assoc:     opts.Associations,
		tags:      opts.Tags,
		inspector: opts.Inspector,
		isFile:    opts.IsFile,
		log:       opts.Log,
	}
	if c.index == nil {
		c.index = NewCopyIndex()
	}
	if c.assoc == nil {
		c.assoc = NewAssociations(nil)
	}
	if c.isFile == nil {
		c.isFile = regularFile
	}
	if c.log == nil {
		c.log = zap.NewNop()
	}
	return c
}

func regularFile(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.Mode().IsRegular()
}

func (c *Correlator) Index() *CopyIndex { return c.index }

// ClassifyBatch 按顺序归类一批通知，被丢弃的通知不产生事件
func (c *Correlator) ClassifyBatch(batch []model.FileNotification) []model.ActivityEvent {
	out := make([]model.ActivityEvent, 0, len(batch))
	for _, n := range batch {
		if ev, ok := c.Classify(n, batch); ok {
			out = append(out, ev)
		}
	}
	return out
}

// Classify 归类单个通知；batch 是它所在的整批通知，用于重命名和删除的判断
func (c *Correlator) Classify(n model.FileNotification, batch []model.FileNotification) (model.ActivityEvent, bool) {
	if n.IsDir {
		return model.ActivityEvent{}, false
	}
	if c.ignored(n.Path) {
		return model.ActivityEvent{}, false
	}
	var ev model.ActivityEvent
	switch n.Op {
	case model.OpCreate, model.OpMovedTo:
		ev = c.createOrChange(n, model.FileCreated)
	case model.OpChange:
		ev = c.createOrChange(n, model.FileChanged)
	case model.OpRename:
		ev = c.rename(n, batch)
	case model.OpDelete, model.OpMovedFrom:
		ev = c.delete(n, batch)
	}
	if ev.Kind == model.KindNone {
		return model.ActivityEvent{}, false
	}
	if !n.Time.IsZero() {
		ev = ev.WithTime(n.Time)
	}
	return c.enrich(ev), true
}

func (c *Correlator) ignored(paths ...string) bool {
	return c.rules != nil && c.rules.Ignored(paths...)
}

func (c *Correlator) tag(path string) string {
	if c.tags == nil {
		return model.DriveUnknown.String()
	}
	return c.tags.TagOf(path)
}

func (c *Correlator) createOrChange(n model.FileNotification, kind model.Kind) model.ActivityEvent {
	if !c.isFile(n.Path) {
		return model.ActivityEvent{}
	}
	if src, ok := FindCopySource(c.index.Snapshot(), n.Path); ok {
		return model.NewEvent(model.FileCopied, src, n.Path, c.tag(src)+","+c.tag(n.Path))
	}
	return model.NewEvent(kind, n.Path, "", c.tag(n.Path))
}

// renamesTouching 批次内涉及该路径 (作为旧名或新名) 的重命名次数
func renamesTouching(batch []model.FileNotification, paths ...string) int {
	count := 0
	for _, b := range batch {
		if b.Op != model.OpRename {
			continue
		}
		for _, p := range paths {
			if p != "" && (b.Path == p || b.OldPath == p) {
				count++
				break
			}
		}
	}
	return count
}

func (c *Correlator) rename(n model.FileNotification, batch []model.FileNotification) model.ActivityEvent {
	if !c.isFile(n.Path) {
		return model.ActivityEvent{}
	}
	oldExt, newExt := pathutil.Ext(n.OldPath), pathutil.Ext(n.Path)
	oldAssoc, newAssoc := c.assoc.Associated(oldExt), c.assoc.Associated(newExt)

	switch {
	case oldAssoc && newAssoc && oldExt == newExt && renamesTouching(batch, n.OldPath, n.Path) == 1:
		// 旧路径也会出现在事件里，同样要过规则
		if c.ignored(n.OldPath) {
			return model.ActivityEvent{}
		}
		return model.NewEvent(model.FileRenamed, n.OldPath, n.Path, c.tag(n.Path))
	case !oldAssoc && newAssoc:
		// 编辑器先写临时文件再改名覆盖，实际是一次保存
		return model.NewEvent(model.FileChanged, n.Path, "", c.tag(n.Path))
	}
	return model.ActivityEvent{}
}

func (c *Correlator) delete(n model.FileNotification, batch []model.FileNotification) model.ActivityEvent {
	// 同批次里有涉及该路径的重命名，是临时文件交换
	if renamesTouching(batch, n.Path) > 0 {
		return model.ActivityEvent{}
	}
	return model.NewEvent(model.FileDeleted, n.Path, "", c.tag(n.Path))
}

// enrich 可移动介质上新出现的文件做伪装检测
func (c *Correlator) enrich(ev model.ActivityEvent) model.ActivityEvent {
	if c.inspector == nil {
		return ev
	}
	path := ev.Primary
	switch ev.Kind {
	case model.FileCopied:
		path = ev.Secondary
	case model.FileCreated, model.FileChanged:
	default:
		return ev
	}
	if c.tag(path) != model.DriveRemovable.String() {
		return ev
	}
	res, err := c.inspector.Inspect(path)
	if err != nil {
		c.log.Debug("File inspection failed", zap.String("path", path), zap.Error(err))
		return ev
	}
	ev = ev.WithAttr("risk", string(res.Risk))
	if res.IsMasquerade {
		ev = ev.WithAttr("real_ext", res.RealExt)
	}
	if res.Risk == analysis.RiskHigh {
		c.log.Warn("🚨 Masqueraded executable on removable media",
			zap.String("path", path),
			zap.String("declared", res.DeclaredExt),
			zap.String("real", res.RealExt))
	}
	return ev
}

// Describe 用于调试日志
func Describe(n model.FileNotification) string {
	var b strings.Builder
	b.WriteString(n.Op.String())
	b.WriteByte(' ')
	if n.OldPath != "" {
		b.WriteString(n.OldPath)
		b.WriteString(" -> ")
	}
	b.WriteString(n.Path)
	return b.String()
}
