package volume

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLetterAllocator(t *testing.T) {
	a := NewLetterAllocator(map[string]string{"c": "/", "H": "/home"}, []string{"/media", "/run/media"})

	l, ok := a.Assign("/", "/dev/nvme0n1p2")
	require.True(t, ok)
	assert.Equal(t, byte('C'), l)

	l, ok = a.Assign("/run/media/alice/KINGSTON", "/dev/sdb1")
	require.True(t, ok)
	assert.Equal(t, byte('D'), l)

	l, ok = a.Assign("/media/bob/SD", "/dev/mmcblk0p1")
	require.True(t, ok)
	assert.Equal(t, byte('E'), l)

	l, ok = a.Assign("/run/media/alice/KINGSTON/", "/dev/sdc1")
	require.True(t, ok)
	assert.Equal(t, byte('D'), l, "letters stick to the mount point")

	dl, ok := a.LetterForDevice("/dev/sdc1")
	require.True(t, ok)
	assert.Equal(t, byte('D'), dl)

	_, ok = a.Assign("/boot/efi", "/dev/nvme0n1p1")
	assert.False(t, ok, "mounts outside removable roots get no letter")

	_, ok = a.Assign("/media", "")
	assert.False(t, ok, "the root itself is not a volume")
}

func TestLetterAllocatorSkipsStaticLetters(t *testing.T) {
	a := NewLetterAllocator(map[string]string{"D": "/data"}, []string{"/mnt"})
	l, ok := a.Assign("/mnt/usb", "")
	require.True(t, ok)
	assert.Equal(t, byte('E'), l)
}

func TestLetterAllocatorReleasesLetters(t *testing.T) {
	a := NewLetterAllocator(map[string]string{"C": "/"}, []string{"/media"})

	l, ok := a.Assign("/media/alice/STICK", "/dev/sdb1")
	require.True(t, ok)
	assert.Equal(t, byte('D'), l)

	a.Release("/media/alice/STICK/")
	_, ok = a.LetterForDevice("/dev/sdb1")
	assert.False(t, ok, "device mapping goes with the letter")

	l, ok = a.Assign("/media/alice/OTHER", "/dev/sdc1")
	require.True(t, ok)
	assert.Equal(t, byte('D'), l, "released letter is reused")

	a.Release("/")
	l, ok = a.Assign("/", "")
	require.True(t, ok)
	assert.Equal(t, byte('C'), l, "static letters are never released")
}

// 长时间运行时每次插拔挂到不同的目录，盘符不会耗尽
func TestLetterAllocatorSurvivesManyMounts(t *testing.T) {
	a := NewLetterAllocator(map[string]string{"C": "/"}, []string{"/media"})

	for i := 0; i < 40; i++ {
		mp := fmt.Sprintf("/media/alice/STICK%02d", i)
		l, ok := a.Assign(mp, "/dev/sdb1")
		require.True(t, ok, mp)
		assert.Equal(t, byte('D'), l, mp)
		a.Retain([]string{"/"}, time.Now().Add(time.Second))
	}
}

func TestRetainKeepsFreshAssignments(t *testing.T) {
	a := NewLetterAllocator(nil, []string{"/media"})
	listedAt := time.Now().Add(-time.Second)

	l, ok := a.Assign("/media/usb", "/dev/sdb1")
	require.True(t, ok)

	// 挂载表读取之后才分配的盘符，这一轮不回收
	a.Retain(nil, listedAt)
	dl, ok := a.LetterForDevice("/dev/sdb1")
	require.True(t, ok)
	assert.Equal(t, l, dl)

	a.Retain(nil, time.Now().Add(time.Second))
	_, ok = a.LetterForDevice("/dev/sdb1")
	assert.False(t, ok)
}
