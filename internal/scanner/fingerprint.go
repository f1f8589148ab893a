package scanner

import (
	"errors"
	"io"
	"io/fs"
	"os"

	"github.com/Hara602/hostSentry/internal/errs"
	"github.com/zeebo/blake3"
)

// Fingerprint 存储文件内容的 blake3 摘要
type Fingerprint [32]byte

// FingerprintFiles 按顺序对文件内容求摘要。
// 第一个文件必须存在；后面的文件 (例如 -wal) 缺失时记一个占位符。
func FingerprintFiles(paths ...string) (Fingerprint, error) {
	var fp Fingerprint
	h := blake3.New()
	for i, p := range paths {
		_, _ = h.WriteString(p)
		_, _ = h.Write([]byte{0})
		f, err := os.Open(p)
		if err != nil {
			if i > 0 && errors.Is(err, fs.ErrNotExist) {
				_, _ = h.WriteString("<absent>")
				continue
			}
			return fp, errs.Wrap("fingerprint", err)
		}
		_, err = io.Copy(h, f)
		f.Close()
		if err != nil {
			return fp, errs.Wrap("fingerprint", err)
		}
		_, _ = h.Write([]byte{0})
	}
	copy(fp[:], h.Sum(nil))
	return fp, nil
}
