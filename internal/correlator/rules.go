package correlator

import (
	"strings"

	"github.com/Hara602/hostSentry/internal/config"
	"github.com/Hara602/hostSentry/internal/pathutil"
	"github.com/Hara602/hostSentry/internal/session"
)

// IgnoreRules 噪声过滤规则，只做字符串判断
type IgnoreRules struct {
	cfg      config.RulesConfig
	sessions session.Directory
	exts     map[string]bool
	execs    map[string]bool
	names    map[string]bool
	appData  map[string]bool
}

func NewIgnoreRules(cfg config.RulesConfig, sessions session.Directory) *IgnoreRules {
	r := &IgnoreRules{
		cfg:      cfg,
		sessions: sessions,
		exts:     lowerSet(cfg.IgnoredExts),
		execs:    lowerSet(cfg.ExecutableExts),
		names:    lowerSet(cfg.IgnoredNames),
		appData:  lowerSet(cfg.AppDataDirs),
	}
	return r
}

func lowerSet(items []string) map[string]bool {
	m := make(map[string]bool, len(items))
	for _, it := range items {
		m[strings.ToLower(it)] = true
	}
	return m
}

// Ignored 任一路径命中规则即丢弃。调用方只传通知本身的路径，
// 复制事件重建出来的来源路径不参与判断。
func (r *IgnoreRules) Ignored(paths ...string) bool {
	user := ""
	if r.sessions != nil {
		user, _ = r.sessions.ActiveUser()
	}
	for _, p := range paths {
		if r.IgnoredPath(p, user) {
			return true
		}
	}
	return false
}

// IgnoredPath 对单个路径做判断；user 为空表示没有活动会话，不做用户隔离
func (r *IgnoreRules) IgnoredPath(path, user string) bool {
	if path == "" {
		return true
	}
	base := pathutil.Base(path)
	lowerBase := strings.ToLower(base)
	ext := pathutil.Ext(path)

	switch {
	case r.names[lowerBase]:
		return true
	case strings.HasPrefix(base, "."):
		return true
	case strings.HasPrefix(base, "~"), strings.HasSuffix(base, "~"):
		return true
	case ext != "" && r.exts[ext]:
		return true
	}

	for _, prefix := range r.cfg.SystemPrefixes {
		if pathutil.Under(path, prefix) {
			return true
		}
	}
	for _, frag := range r.cfg.IgnoredFragments {
		if frag != "" && pathutil.Contains(path, frag) {
			return true
		}
	}
	for _, prefix := range r.cfg.ProgramPrefixes {
		if pathutil.Under(path, prefix) && !r.execs[ext] {
			return true
		}
	}
	return r.ignoredProfilePath(path, user)
}

// ignoredProfilePath 用户目录下的规则：任何用户的应用数据目录，以及其他用户的整个目录
func (r *IgnoreRules) ignoredProfilePath(path, user string) bool {
	if r.cfg.UsersRoot == "" {
		return false
	}
	rest, ok := pathutil.TrimDir(path, r.cfg.UsersRoot)
	if !ok || rest == "" {
		return false
	}
	owner := pathutil.FirstComponent(rest)
	fold := pathutil.IsWindows(path)
	if user != "" && !pathutil.NameEqual(owner, user, fold) {
		return true
	}
	first := pathutil.FirstComponent(strings.TrimLeft(rest[len(owner):], `/\`))
	return first != "" && r.appData[strings.ToLower(first)]
}
