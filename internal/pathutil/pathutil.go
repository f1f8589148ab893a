// Package pathutil 提供纯字符串的路径运算，同时理解 Windows 风格
// (C:\Users\alice, 大小写不敏感) 与 POSIX 风格 (/home/alice) 的路径。
// 不访问文件系统，因此可以在任意平台上处理来自另一平台的路径。
package pathutil

import "strings"

// IsWindows 带盘符前缀或包含反斜杠的路径按 Windows 风格处理
func IsWindows(p string) bool {
	if len(p) >= 2 && p[1] == ':' && isLetter(p[0]) {
		return true
	}
	return strings.HasPrefix(p, `\\`) || (strings.ContainsRune(p, '\\') && !strings.HasPrefix(p, "/"))
}

func isLetter(c byte) bool { return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') }

// Separator 返回路径使用的分隔符
func Separator(p string) byte {
	if IsWindows(p) {
		return '\\'
	}
	return '/'
}

func isSep(c byte, win bool) bool {
	return c == '/' || (win && c == '\\')
}

// Clean 去掉末尾多余的分隔符 (根路径除外)
func Clean(p string) string {
	win := IsWindows(p)
	for len(p) > 1 && isSep(p[len(p)-1], win) {
		if win && len(p) == 3 && p[1] == ':' {
			break
		}
		p = p[:len(p)-1]
	}
	return p
}

// Base 最后一级名称
func Base(p string) string {
	p = Clean(p)
	win := IsWindows(p)
	for i := len(p) - 1; i >= 0; i-- {
		if isSep(p[i], win) {
			return p[i+1:]
		}
	}
	if win && len(p) >= 2 && p[1] == ':' {
		return p[2:]
	}
	return p
}

// Dir 父目录；已经是根时返回空串
func Dir(p string) string {
	p = Clean(p)
	win := IsWindows(p)
	for i := len(p) - 1; i >= 0; i-- {
		if isSep(p[i], win) {
			if i == 0 {
				if len(p) == 1 {
					return ""
				}
				return p[:1]
			}
			if win && i == 2 && p[1] == ':' {
				if len(p) == 3 {
					return ""
				}
				return p[:3]
			}
			return p[:i]
		}
	}
	return ""
}

// Ext 小写的扩展名 (含点)，没有则为空
func Ext(p string) string {
	base := Base(p)
	i := strings.LastIndexByte(base, '.')
	if i <= 0 {
		return ""
	}
	return strings.ToLower(base[i:])
}

// Stem 去掉扩展名后的文件名
func Stem(p string) string {
	base := Base(p)
	i := strings.LastIndexByte(base, '.')
	if i <= 0 {
		return base
	}
	return base[:i]
}

// Join 用 base 的风格拼接路径
func Join(base string, elems ...string) string {
	sep := string(Separator(base))
	out := Clean(base)
	for _, e := range elems {
		e = strings.Trim(e, `/\`)
		if e == "" {
			continue
		}
		if sep == "/" {
			e = strings.ReplaceAll(e, `\`, "/")
		} else {
			e = strings.ReplaceAll(e, "/", `\`)
		}
		if strings.HasSuffix(out, sep) {
			out += e
		} else {
			out += sep + e
		}
	}
	return out
}

// EqualFold Windows 风格路径按大小写不敏感比较
func EqualFold(a, b string) bool {
	a, b = Clean(a), Clean(b)
	if IsWindows(a) || IsWindows(b) {
		return strings.EqualFold(a, b)
	}
	return a == b
}

// NameEqual 比较两个名称，fold 为真时忽略大小写
func NameEqual(a, b string, fold bool) bool {
	if fold {
		return strings.EqualFold(a, b)
	}
	return a == b
}

// TrimDir 若 p 位于 dir 之下 (或等于 dir)，返回相对部分
func TrimDir(p, dir string) (string, bool) {
	p, dir = Clean(p), Clean(dir)
	if dir == "" {
		return "", false
	}
	win := IsWindows(p) || IsWindows(dir)
	if len(p) < len(dir) {
		return "", false
	}
	if !NameEqual(p[:len(dir)], dir, win) {
		return "", false
	}
	rest := p[len(dir):]
	if rest == "" {
		return "", true
	}
	if isSep(dir[len(dir)-1], win) {
		return rest, true
	}
	if !isSep(rest[0], win) {
		return "", false
	}
	return rest[1:], true
}

// Under 判断 p 是否在 dir 之下 (含相等)
func Under(p, dir string) bool {
	_, ok := TrimDir(p, dir)
	return ok
}

// Contains 子串判断，Windows 风格路径忽略大小写
func Contains(p, fragment string) bool {
	if IsWindows(p) {
		return strings.Contains(strings.ToLower(p), strings.ToLower(fragment))
	}
	return strings.Contains(p, fragment)
}

// FirstComponent 返回相对路径的第一段
func FirstComponent(rel string) string {
	if i := strings.IndexAny(rel, `/\`); i >= 0 {
		return rel[:i]
	}
	return rel
}

// VolumeLetter 解析 "X:" 前缀
func VolumeLetter(p string) (byte, bool) {
	if len(p) >= 2 && p[1] == ':' && isLetter(p[0]) {
		c := p[0]
		if c >= 'a' {
			c -= 'a' - 'A'
		}
		return c, true
	}
	return 0, false
}
