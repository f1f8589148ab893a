// Package session 解析当前交互式会话的用户
package session

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/coreos/go-systemd/v22/login1"
)

// Directory 返回当前活动的交互式会话用户
type Directory interface {
	ActiveUser() (string, bool)
}

// Static 固定用户，用于配置或测试
type Static struct {
	mu   sync.RWMutex
	user string
}

func NewStatic(user string) *Static { return &Static{user: user} }

func (s *Static) ActiveUser() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user, s.user != ""
}

// Set 切换用户，空串表示无人登录
func (s *Static) Set(user string) {
	s.mu.Lock()
	s.user = user
	s.mu.Unlock()
}

// Logind 通过 D-Bus 向 systemd-logind 查询会话。
// 总线不可用时退回读取 Dir 下的会话状态文件 (logind 的内部格式，只作兜底)。
type Logind struct {
	Dir string

	// query 默认走 D-Bus，测试时替换
	query func() ([]logindSession, error)

	mu   sync.Mutex
	conn *login1.Conn
}

func NewLogind(dir string) *Logind {
	if dir == "" {
		dir = "/run/systemd/sessions"
	}
	l := &Logind{Dir: dir}
	l.query = l.busSessions
	return l
}

type logindSession struct {
	id, user, class, state, seat string
	active, remote              bool
}

func (l *Logind) ActiveUser() (string, bool) {
	var (
		sessions []logindSession
		err      error
	)
	if l.query != nil {
		sessions, err = l.query()
	}
	if l.query == nil || err != nil {
		sessions = l.fileSessions()
	}
	return pickActive(sessions)
}

// busSessions ListSessions 加上每个会话的属性；连接出错后下次重连
func (l *Logind) busSessions() ([]logindSession, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == nil {
		conn, err := login1.New()
		if err != nil {
			return nil, err
		}
		l.conn = conn
	}
	list, err := l.conn.ListSessions()
	if err != nil {
		l.conn.Close()
		l.conn = nil
		return nil, err
	}
	out := make([]logindSession, 0, len(list))
	for _, s := range list {
		props, err := l.conn.GetSessionPropertiesContext(context.Background(), s.Path)
		if err != nil {
			// 会话在两次调用之间结束
			continue
		}
		ls := logindSession{id: s.ID, user: s.User, seat: s.Seat}
		ls.active, _ = props["Active"].Value().(bool)
		ls.remote, _ = props["Remote"].Value().(bool)
		ls.class, _ = props["Class"].Value().(string)
		ls.state, _ = props["State"].Value().(string)
		out = append(out, ls)
	}
	return out, nil
}

// Close 断开 D-Bus 连接
func (l *Logind) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn != nil {
		l.conn.Close()
		l.conn = nil
	}
}

func (l *Logind) fileSessions() []logindSession {
	entries, err := os.ReadDir(l.Dir)
	if err != nil {
		return nil
	}
	var out []logindSession
	for _, e := range entries {
		// 会话文件旁边有 *.ref 管道
		if e.IsDir() || strings.Contains(e.Name(), ".") {
			continue
		}
		s, ok := parseSessionFile(filepath.Join(l.Dir, e.Name()))
		if !ok {
			continue
		}
		s.id = e.Name()
		out = append(out, s)
	}
	return out
}

func pickActive(sessions []logindSession) (string, bool) {
	var candidates []logindSession
	for _, s := range sessions {
		if !s.active || s.user == "" {
			continue
		}
		if s.class != "" && s.class != "user" {
			continue
		}
		if s.state != "" && s.state != "active" {
			continue
		}
		candidates = append(candidates, s)
	}
	if len(candidates) == 0 {
		return "", false
	}
	// 控制台 (带 seat、非远程) 的会话优先
	sort.SliceStable(candidates, func(i, j int) bool {
		return rank(candidates[i]) < rank(candidates[j])
	})
	return candidates[0].user, true
}

func rank(s logindSession) int {
	r := 0
	if s.seat == "" {
		r += 2
	}
	if s.remote {
		r++
	}
	return r
}

func parseSessionFile(path string) (logindSession, bool) {
	f, err := os.Open(path)
	if err != nil {
		return logindSession{}, false
	}
	defer f.Close()

	var s logindSession
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		key, value, ok := strings.Cut(sc.Text(), "=")
		if !ok {
			continue
		}
		switch key {
		case "USER":
			s.user = value
		case "ACTIVE":
			s.active = value == "1"
		case "CLASS":
			s.class = value
		case "STATE":
			s.state = value
		case "SEAT":
			s.seat = value
		case "REMOTE":
			s.remote = value == "1"
		}
	}
	return s, sc.Err() == nil
}

// ExpandUser 替换路径模板中的 [USERNAME]
func ExpandUser(template, user string) string {
	return strings.ReplaceAll(template, "[USERNAME]", user)
}

// UserScoped 模板是否依赖会话用户
func UserScoped(template string) bool {
	return strings.Contains(template, "[USERNAME]")
}
