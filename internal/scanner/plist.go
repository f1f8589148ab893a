package scanner

import (
	"context"
	"errors"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/Hara602/hostSentry/internal/errs"
	"github.com/Hara602/hostSentry/internal/model"
	"github.com/Hara602/hostSentry/internal/session"
	"howett.net/plist"
)

// HistoryPlist 旧版 Safari 的 History.plist：
// WebHistoryDates 是字典数组，"" 键是 URL，lastVisitedDate 是 2001 纪元的秒数字符串
type HistoryPlist struct {
	Name string
	Path string
}

func NewHistoryPlist(name, path string) *HistoryPlist {
	return &HistoryPlist{Name: name, Path: path}
}

func (h *HistoryPlist) ID() string { return "history:" + h.Name }

func (h *HistoryPlist) Fingerprint(_ context.Context, user string) (Fingerprint, error) {
	return FingerprintFiles(session.ExpandUser(h.Path, user))
}

type plistVisit struct {
	url, title, raw string
	at              time.Time
}

func (h *HistoryPlist) Rows(_ context.Context, user string, visit func(Row) bool) error {
	data, err := os.ReadFile(session.ExpandUser(h.Path, user))
	if err != nil {
		return errs.Wrap("read plist", err)
	}
	var doc map[string]interface{}
	if _, err := plist.Unmarshal(data, &doc); err != nil {
		return errs.New(errs.DataFormat, "decode plist", err)
	}
	items, ok := doc["WebHistoryDates"].([]interface{})
	if !ok {
		return errs.New(errs.DataFormat, "decode plist", errors.New("WebHistoryDates missing"))
	}

	visits := make([]plistVisit, 0, len(items))
	for _, it := range items {
		m, ok := it.(map[string]interface{})
		if !ok {
			continue
		}
		url, _ := m[""].(string)
		title, _ := m["title"].(string)
		raw, _ := m["lastVisitedDate"].(string)
		secs, err := strconv.ParseFloat(raw, 64)
		if err != nil || !strings.HasPrefix(url, "http") {
			continue
		}
		at := time.Unix(appleEpochOffset, 0).Add(time.Duration(secs * float64(time.Second)))
		visits = append(visits, plistVisit{url: url, title: title, raw: raw, at: at})
	}
	sort.SliceStable(visits, func(i, j int) bool { return visits[i].at.After(visits[j].at) })

	for _, v := range visits {
		row := Row{
			Key:   v.url + "@" + v.raw,
			Time:  v.at,
			Event: model.NewEvent(model.UrlVisited, v.url, v.title, h.Name).WithTime(v.at),
		}
		if !visit(row) {
			return nil
		}
	}
	return nil
}
