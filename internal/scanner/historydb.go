package scanner

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/Hara602/hostSentry/internal/errs"
	"github.com/Hara602/hostSentry/internal/model"
	"github.com/Hara602/hostSentry/internal/session"
	"gopkg.in/ini.v1"
	_ "modernc.org/sqlite"
)

const (
	SchemaFirefox     = "firefox"
	SchemaChromium    = "chromium"
	SchemaSafariDB    = "safari-db"
	SchemaSafariPlist = "safari-plist"
)

// 各家浏览器的纪元偏移
const (
	chromiumEpochOffset = 11644473600 // 1601-01-01 到 1970-01-01 的秒数
	appleEpochOffset    = 978307200   // 1970-01-01 到 2001-01-01 的秒数
)

type historySchema struct {
	query string
	// visit_time 是浮点秒 (Safari) 还是整数微秒
	seconds bool
	toTime  func(raw int64, secs float64) time.Time
}

var historySchemas = map[string]historySchema{
	SchemaFirefox: {
		query: `SELECT v.id, p.url, COALESCE(p.title, ''), v.visit_date
			FROM moz_historyvisits v JOIN moz_places p ON p.id = v.place_id
			ORDER BY v.visit_date DESC, v.id DESC`,
		toTime: func(raw int64, _ float64) time.Time { return time.UnixMicro(raw) },
	},
	SchemaChromium: {
		query: `SELECT v.id, u.url, COALESCE(u.title, ''), v.visit_time
			FROM visits v JOIN urls u ON u.id = v.url
			ORDER BY v.visit_time DESC, v.id DESC`,
		toTime: func(raw int64, _ float64) time.Time {
			return time.UnixMicro(raw - chromiumEpochOffset*1_000_000)
		},
	},
	SchemaSafariDB: {
		query: `SELECT v.id, i.url, COALESCE(v.title, ''), v.visit_time
			FROM history_visits v JOIN history_items i ON i.id = v.history_item
			ORDER BY v.visit_time DESC, v.id DESC`,
		seconds: true,
		toTime: func(_ int64, secs float64) time.Time {
			return time.Unix(appleEpochOffset, 0).Add(time.Duration(secs * float64(time.Second)))
		},
	},
}

// HistoryDB 浏览器的 sqlite 历史库。读取前复制一份私有副本，避免和浏览器争锁。
type HistoryDB struct {
	Name     string
	Schema   string
	Path     string // 可以包含 [USERNAME]；firefox 系可以是配置根目录
	CacheDir string
}

func NewHistoryDB(name, schema, path, cacheDir string) (*HistoryDB, error) {
	if _, ok := historySchemas[schema]; !ok {
		return nil, fmt.Errorf("unknown history schema %q", schema)
	}
	return &HistoryDB{Name: name, Schema: schema, Path: path, CacheDir: cacheDir}, nil
}

func (h *HistoryDB) ID() string { return "history:" + h.Name }

// source 解析当前用户的历史库文件
func (h *HistoryDB) source(user string) (string, error) {
	path := session.ExpandUser(h.Path, user)
	fi, err := os.Stat(path)
	if err != nil {
		return "", errs.Wrap("stat history", err)
	}
	if !fi.IsDir() {
		return path, nil
	}
	if h.Schema != SchemaFirefox {
		return "", errs.New(errs.DataFormat, "history path", fmt.Errorf("%s is a directory", path))
	}
	profile, err := FirefoxProfile(path)
	if err != nil {
		return "", err
	}
	return filepath.Join(profile, "places.sqlite"), nil
}

func (h *HistoryDB) Fingerprint(_ context.Context, user string) (Fingerprint, error) {
	db, err := h.source(user)
	if err != nil {
		return Fingerprint{}, err
	}
	return FingerprintFiles(db, db+"-wal")
}

func (h *HistoryDB) Rows(ctx context.Context, user string, visit func(Row) bool) error {
	src, err := h.source(user)
	if err != nil {
		return err
	}
	local, err := h.snapshot(src)
	if err != nil {
		return err
	}

	db, err := sql.Open("sqlite", local)
	if err != nil {
		return errs.Wrap("open history copy", err)
	}
	defer db.Close()

	schema := historySchemas[h.Schema]
	rows, err := db.QueryContext(ctx, schema.query)
	if err != nil {
		return errs.New(errs.DataFormat, "query "+h.Name, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id    int64
			url   string
			title string
			raw   int64
			secs  float64
		)
		if schema.seconds {
			err = rows.Scan(&id, &url, &title, &secs)
		} else {
			err = rows.Scan(&id, &url, &title, &raw)
		}
		if err != nil {
			return errs.New(errs.DataFormat, "scan "+h.Name, err)
		}
		if !strings.HasPrefix(url, "http") {
			continue
		}
		t := schema.toTime(raw, secs)
		row := Row{
			Key:   "visit:" + strconv.FormatInt(id, 10),
			Time:  t,
			Event: model.NewEvent(model.UrlVisited, url, title, h.Name).WithTime(t),
		}
		if !visit(row) {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return errs.New(errs.DataFormat, "read "+h.Name, err)
	}
	return nil
}

// snapshot 把库文件和 -wal 复制到缓存目录
func (h *HistoryDB) snapshot(src string) (string, error) {
	dir := filepath.Join(h.CacheDir, "History", h.Name)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", errs.Wrap("cache dir", err)
	}
	dst := filepath.Join(dir, filepath.Base(src))
	if err := copyFile(src, dst); err != nil {
		return "", err
	}
	// 旧副本的 -wal/-shm 会被 sqlite 当成当前库的日志
	_ = os.Remove(dst + "-shm")
	if err := copyFile(src+"-wal", dst+"-wal"); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return "", err
		}
		_ = os.Remove(dst + "-wal")
	}
	return dst, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return errs.Wrap("copy "+src, err)
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return errs.Wrap("copy "+src, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return errs.Wrap("copy "+src, err)
	}
	return errs.Wrap("copy "+src, out.Close())
}

// FirefoxProfile 从 profiles.ini 找到默认配置目录：
// 优先 [Install...] 段的 Default，其次 Default=1 的 [Profile] 段，最后第一个 Path
func FirefoxProfile(root string) (string, error) {
	// 目录名里可能有 ; 或 #，不按行内注释处理
	f, err := ini.LoadSources(ini.LoadOptions{IgnoreInlineComment: true}, filepath.Join(root, "profiles.ini"))
	if err != nil {
		return "", errs.Wrap("profiles.ini", err)
	}

	type profile struct {
		path      string
		relative  bool
		isDefault bool
	}
	var (
		profiles []profile
		install  string
	)
	for _, sec := range f.Sections() {
		switch name := sec.Name(); {
		case strings.HasPrefix(name, "Install"):
			if install == "" {
				install = strings.TrimSpace(sec.Key("Default").String())
			}
		case strings.HasPrefix(name, "Profile"):
			profiles = append(profiles, profile{
				path:      strings.TrimSpace(sec.Key("Path").String()),
				relative:  sec.Key("IsRelative").MustBool(true),
				isDefault: sec.Key("Default").MustBool(false),
			})
		}
	}

	resolve := func(p string, relative bool) string {
		if relative || !filepath.IsAbs(p) {
			return filepath.Join(root, p)
		}
		return p
	}
	if install != "" {
		return resolve(install, false), nil
	}
	for _, p := range profiles {
		if p.isDefault && p.path != "" {
			return resolve(p.path, p.relative), nil
		}
	}
	for _, p := range profiles {
		if p.path != "" {
			return resolve(p.path, p.relative), nil
		}
	}
	return "", errs.New(errs.DataFormat, "profiles.ini", errors.New("no profile path"))
}
