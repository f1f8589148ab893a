package correlator

import (
	"strings"

	"github.com/Hara602/hostSentry/internal/analysis"
)

// Associations 判断扩展名是否“有关联程序”：filetype 认识的类型，加上配置里的补充列表
type Associations struct {
	extra map[string]bool
}

func NewAssociations(extra []string) *Associations {
	a := &Associations{extra: make(map[string]bool, len(extra))}
	for _, e := range extra {
		e = strings.ToLower(e)
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		a.extra[e] = true
	}
	return a
}

// Associated ext 含点，例如 ".docx"
func (a *Associations) Associated(ext string) bool {
	ext = strings.ToLower(ext)
	if ext == "" || ext == "." {
		return false
	}
	return a.extra[ext] || analysis.KnownExtension(ext)
}
