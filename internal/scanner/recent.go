package scanner

import (
	"context"
	"encoding/xml"
	"net/url"
	"os"
	"sort"
	"time"

	"github.com/Hara602/hostSentry/internal/errs"
	"github.com/Hara602/hostSentry/internal/model"
	"github.com/Hara602/hostSentry/internal/session"
)

// Tagger 返回路径所在卷的类型名
type Tagger interface {
	TagOf(path string) string
}

// PathFilter 忽略规则
type PathFilter interface {
	IgnoredPath(path, user string) bool
}

// RecentFiles freedesktop 的 recently-used.xbel，产生 FileOpened
type RecentFiles struct {
	Path   string
	Tags   Tagger
	Filter PathFilter
	// Exists 默认检查普通文件是否存在
	Exists func(path string) bool
}

func NewRecentFiles(path string, tags Tagger, filter PathFilter) *RecentFiles {
	return &RecentFiles{Path: path, Tags: tags, Filter: filter}
}

func (r *RecentFiles) ID() string { return "recent-files" }

func (r *RecentFiles) Fingerprint(_ context.Context, user string) (Fingerprint, error) {
	return FingerprintFiles(session.ExpandUser(r.Path, user))
}

type xbel struct {
	Bookmarks []struct {
		Href     string `xml:"href,attr"`
		Added    string `xml:"added,attr"`
		Modified string `xml:"modified,attr"`
		Visited  string `xml:"visited,attr"`
	} `xml:"bookmark"`
}

type recentEntry struct {
	path string
	at   time.Time
}

func (r *RecentFiles) Rows(_ context.Context, user string, visit func(Row) bool) error {
	data, err := os.ReadFile(session.ExpandUser(r.Path, user))
	if err != nil {
		return errs.Wrap("read xbel", err)
	}
	var doc xbel
	if err := xml.Unmarshal(data, &doc); err != nil {
		return errs.New(errs.DataFormat, "decode xbel", err)
	}

	exists := r.Exists
	if exists == nil {
		exists = func(p string) bool {
			fi, err := os.Stat(p)
			return err == nil && fi.Mode().IsRegular()
		}
	}

	entries := make([]recentEntry, 0, len(doc.Bookmarks))
	for _, b := range doc.Bookmarks {
		u, err := url.Parse(b.Href)
		if err != nil || u.Scheme != "file" || u.Path == "" {
			continue
		}
		var at time.Time
		for _, s := range []string{b.Added, b.Modified, b.Visited} {
			if t, err := time.Parse(time.RFC3339Nano, s); err == nil && t.After(at) {
				at = t
			}
		}
		if at.IsZero() {
			continue
		}
		entries = append(entries, recentEntry{path: u.Path, at: at})
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].at.After(entries[j].at) })

	for _, e := range entries {
		if r.Filter != nil && r.Filter.IgnoredPath(e.path, user) {
			continue
		}
		if !exists(e.path) {
			continue
		}
		tag := model.DriveUnknown.String()
		if r.Tags != nil {
			tag = r.Tags.TagOf(e.path)
		}
		row := Row{
			Key:   e.path + "@" + e.at.Format(time.RFC3339Nano),
			Time:  e.at,
			Event: model.NewEvent(model.FileOpened, e.path, "", tag).WithTime(e.at),
		}
		if !visit(row) {
			return nil
		}
	}
	return nil
}
