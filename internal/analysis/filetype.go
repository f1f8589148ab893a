package analysis

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/Hara602/hostSentry/internal/pathutil"
	"github.com/h2non/filetype"
)

// Risk 伪装文件的风险等级
type Risk string

const (
	RiskSafe   Risk = "SAFE"
	RiskMedium Risk = "MEDIUM"
	RiskHigh   Risk = "HIGH"
)

// headSize filetype 建议读取的文件头长度
const headSize = 262

// Result 检测结果
type Result struct {
	IsMasquerade bool
	RealExt      string // 根据文件头判断的真实后缀
	DeclaredExt  string // 文件名中的后缀
	Risk         Risk
	Message      string
}

// TypeInspector 对比文件头和扩展名，发现伪装文件
type TypeInspector struct {
	// 真实类型 -> 允许的声明后缀；构造后只读
	aliases map[string]map[string]bool
}

func NewTypeInspector() *TypeInspector {
	t := &TypeInspector{aliases: make(map[string]map[string]bool)}

	allow := func(realType string, exts ...string) {
		set, ok := t.aliases[realType]
		if !ok {
			set = map[string]bool{realType: true}
			t.aliases[realType] = set
		}
		for _, ext := range exts {
			set[ext] = true
		}
	}

	// Office Open XML、Java 包、OpenDocument 本质都是 zip
	allow("zip",
		"docx", "docm", "dotx", "dotm",
		"xlsx", "xlsm", "xltx", "xltm",
		"pptx", "pptm", "potx", "potm",
		"jar", "war", "ear", "apk",
		"odt", "ods", "odp",
		"crx", "whl", "nupkg", "epub", "xpi",
	)
	allow("xml", "svg", "html", "htm", "kml", "dae", "plist", "config", "xbel")
	allow("mp4", "m4v", "m4a", "mov", "qt")
	allow("mov", "qt", "mp4")
	allow("ogg", "ogv", "oga", "opus", "spx")
	allow("exe", "dll", "sys", "scr", "cpl", "ocx", "efi")
	allow("gz", "gzip", "tgz")
	allow("doc", "xls", "ppt", "msi", "msg")
	allow("sqlite", "db", "sqlite3", "places")
	return t
}

// Inspect 读取文件头并检测
func (t *TypeInspector) Inspect(path string) (Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return Result{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	head := make([]byte, headSize)
	n, err := io.ReadFull(f, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return Result{}, fmt.Errorf("read %s: %w", path, err)
	}
	return t.InspectHeader(path, head[:n]), nil
}

// InspectHeader 对给定的文件头做检测，不访问文件系统
func (t *TypeInspector) InspectHeader(name string, head []byte) Result {
	declared := strings.TrimPrefix(pathutil.Ext(name), ".")
	if declared == "" {
		return Result{Risk: RiskSafe, Message: "No extension"}
	}
	if len(head) == 0 {
		return Result{DeclaredExt: declared, Risk: RiskSafe, Message: "Empty file"}
	}

	kind, _ := filetype.Match(head)
	// 纯文本 (txt, go, md, json) 没有魔数，默认信任
	if kind == filetype.Unknown {
		return Result{RealExt: "unknown", DeclaredExt: declared, Risk: RiskSafe,
			Message: "Unknown binary signature (likely text)"}
	}

	realExt := kind.Extension
	if realExt == declared || t.aliases[realExt][declared] {
		return Result{RealExt: realExt, DeclaredExt: declared, Risk: RiskSafe}
	}

	risk := RiskMedium
	if realExt == "exe" || realExt == "elf" || realExt == "dll" {
		// 可执行文件伪装成其他格式
		risk = RiskHigh
	}
	return Result{
		IsMasquerade: true,
		RealExt:      realExt,
		DeclaredExt:  declared,
		Risk:         risk,
		Message:      fmt.Sprintf("Type mismatch: header is '%s' but name says '%s'", realExt, declared),
	}
}

// KnownExtension filetype 能识别的扩展名 (不含点，大小写不敏感)
func KnownExtension(ext string) bool {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	return ext != "" && filetype.IsSupported(ext)
}
