package correlator

import (
	"regexp"
	"sort"

	"github.com/Hara602/hostSentry/internal/model"
	"github.com/Hara602/hostSentry/internal/pathutil"
)

// FindCopySource 在剪贴板索引中查找新文件的来源路径。
// 名字长的条目优先，避免 "a.txt" 抢先匹配 "ab.txt"。
func FindCopySource(entries []model.FileDescriptor, newPath string) (string, bool) {
	if len(entries) == 0 || newPath == "" {
		return "", false
	}
	ordered := append([]model.FileDescriptor(nil), entries...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return len(pathutil.Base(ordered[i].Path)) > len(pathutil.Base(ordered[j].Path))
	})

	for _, e := range ordered {
		if e.Path == "" {
			continue
		}
		if e.IsDirectory {
			if src, ok := matchDirectory(e.Path, newPath); ok {
				return src, true
			}
			continue
		}
		if matchFile(e.Path, newPath) {
			return e.Path, true
		}
	}
	return "", false
}

// copySuffix 文件管理器给重名副本加的后缀："report - Copy"、"report (2)"、
// "report (copy)"、"report (another copy)"、"report_copy"、"report copy 2"
var copySuffix = regexp.MustCompile(`(?i)^( - copy( \(\d+\))?| \(\d+\)| \((copy|another copy|\d+(st|nd|rd|th) copy)\)|_copy(_?\d+)?| copy( \d+)?)$`)

// matchFile 同名，或扩展名相同且新文件名是原文件名加上副本后缀
func matchFile(entry, newPath string) bool {
	fold := pathutil.IsWindows(entry) || pathutil.IsWindows(newPath)
	if pathutil.NameEqual(pathutil.Base(entry), pathutil.Base(newPath), fold) {
		return true
	}
	if pathutil.Ext(entry) != pathutil.Ext(newPath) {
		return false
	}
	stem, newStem := pathutil.Stem(entry), pathutil.Stem(newPath)
	if stem == "" || len(newStem) <= len(stem) {
		return false
	}
	if !pathutil.NameEqual(newStem[:len(stem)], stem, fold) {
		return false
	}
	return copySuffix.MatchString(newStem[len(stem):])
}

// matchDirectory 从新文件所在目录逐级向上，找到与索引目录同名的一级，
// 用它之后的相对路径拼出来源
func matchDirectory(entry, newPath string) (string, bool) {
	fold := pathutil.IsWindows(entry) || pathutil.IsWindows(newPath)
	name := pathutil.Base(entry)
	if name == "" {
		return "", false
	}
	for dir := pathutil.Dir(newPath); dir != ""; dir = pathutil.Dir(dir) {
		if !pathutil.NameEqual(pathutil.Base(dir), name, fold) {
			continue
		}
		rest, ok := pathutil.TrimDir(newPath, dir)
		if !ok || rest == "" {
			return "", false
		}
		return pathutil.Join(entry, rest), true
	}
	return "", false
}
