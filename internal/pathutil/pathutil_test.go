package pathutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBaseDir(t *testing.T) {
	tests := []struct {
		in, base, dir string
	}{
		{`C:\Src\Proj\file.txt`, "file.txt", `C:\Src\Proj`},
		{`C:\Src`, "Src", `C:\`},
		{`C:\`, "", ""},
		{`/home/alice/doc.md`, "doc.md", "/home/alice"},
		{`/home`, "home", "/"},
		{`/`, "", ""},
		{`D:\Dest\Proj\`, "Proj", `D:\Dest`},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.base, Base(tt.in))
			assert.Equal(t, tt.dir, Dir(tt.in))
		})
	}
}

func TestExtStem(t *testing.T) {
	assert.Equal(t, ".docx", Ext(`C:\a\Report.DOCX`))
	assert.Equal(t, "Report", Stem(`C:\a\Report.DOCX`))
	assert.Equal(t, "", Ext("/home/a/.bashrc"))
	assert.Equal(t, ".bashrc", Stem("/home/a/.bashrc"))
}

func TestTrimDir(t *testing.T) {
	rest, ok := TrimDir(`c:\users\Alice\Documents\a.txt`, `C:\Users\alice`)
	assert.True(t, ok)
	assert.Equal(t, `Documents\a.txt`, rest)

	_, ok = TrimDir(`C:\Users\alice2\a.txt`, `C:\Users\alice`)
	assert.False(t, ok)

	_, ok = TrimDir("/home/Alice/a.txt", "/home/alice")
	assert.False(t, ok, "posix paths are case sensitive")

	rest, ok = TrimDir("/home/alice", "/home/alice/")
	assert.True(t, ok)
	assert.Equal(t, "", rest)

	rest, ok = TrimDir("/data/x", "/")
	assert.True(t, ok)
	assert.Equal(t, "data/x", rest)
}

func TestJoin(t *testing.T) {
	assert.Equal(t, `C:\Src\Proj\sub\file.txt`, Join(`C:\Src\Proj`, `sub/file.txt`))
	assert.Equal(t, `/media/usb/a/b`, Join("/media/usb/", "a", "b"))
	assert.Equal(t, `C:\x`, Join(`C:\`, "x"))
}

func TestVolumeLetter(t *testing.T) {
	l, ok := VolumeLetter(`e:\foo`)
	assert.True(t, ok)
	assert.Equal(t, byte('E'), l)
	_, ok = VolumeLetter("/mnt/e")
	assert.False(t, ok)
}
