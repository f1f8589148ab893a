//go:build linux

package mailbox

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/Hara602/hostSentry/internal/errs"
	"github.com/Hara602/hostSentry/internal/model"
	"github.com/Hara602/hostSentry/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

type recordingIndex struct {
	mu    sync.Mutex
	calls [][]model.FileDescriptor
}

func (r *recordingIndex) Replace(files []model.FileDescriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, files)
}

func (r *recordingIndex) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func openPair(t *testing.T, dir, category string, consumerOpts Options) (*Channel, *Channel) {
	t.Helper()
	producer, err := Open(dir, category, Options{RegionSize: 4096, Create: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = producer.Close() })

	consumerOpts.RegionSize = 4096
	consumer, err := Open(dir, category, consumerOpts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = consumer.Close() })
	return producer, consumer
}

func TestConsumeIsIdempotent(t *testing.T) {
	ctx := context.Background()
	producer, consumer := openPair(t, t.TempDir(), "Window", Options{})

	require.NoError(t, producer.Publish(ctx, model.NewEvent(model.WindowSwitched, "Inbox", "thunderbird", "Mail")))

	ev, ok, err := consumer.TryConsume(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, model.WindowSwitched, ev.Kind)
	assert.Equal(t, "Inbox", ev.Primary)
	assert.Equal(t, "thunderbird", ev.Secondary)
	assert.False(t, ev.Timestamp.IsZero())

	_, ok, err = consumer.TryConsume(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "second consume must not surface the event again")
}

func TestPublishOverwritesPending(t *testing.T) {
	ctx := context.Background()
	producer, consumer := openPair(t, t.TempDir(), "Clipboard", Options{})

	require.NoError(t, producer.Publish(ctx, model.NewEvent(model.ClipboardText, "first")))
	require.NoError(t, producer.Publish(ctx, model.NewEvent(model.ClipboardText, "second")))

	ev, ok, err := consumer.TryConsume(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "second", ev.Primary)

	_, ok, _ = consumer.TryConsume(ctx)
	assert.False(t, ok)
}

func TestClipboardFilesFeedsIndexOnly(t *testing.T) {
	ctx := context.Background()
	index := &recordingIndex{}
	producer, consumer := openPair(t, t.TempDir(), "CopyFiles", Options{Index: index})

	files := []model.FileDescriptor{{Path: `C:\Src\Proj`, IsDirectory: true}, {Path: `C:\Src\a.txt`}}
	require.NoError(t, producer.Publish(ctx, model.NewEvent(model.ClipboardFiles).WithFiles(files)))

	_, ok, err := consumer.TryConsume(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "ClipboardFiles never leaves the channel")
	require.Equal(t, 1, index.count())
	assert.Equal(t, files, index.calls[0])

	_, ok, err = consumer.TryConsume(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 1, index.count(), "unchanged buffer is not re-read")
}

func TestCorruptBufferIsSkipped(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	producer, consumer := openPair(t, dir, "Keyboard", Options{})

	garbage := []byte{0x10, 0, 0, 0, 0xff, 0xfe, 0xfd, 0xfc, 0x01}
	require.NoError(t, producer.withLock(ctx, "test", func(buf []byte) error {
		copy(buf, garbage)
		return nil
	}))

	_, ok, err := consumer.TryConsume(ctx)
	assert.False(t, ok)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.DataFormat))

	_, ok, err = consumer.TryConsume(ctx)
	assert.False(t, ok)
	assert.NoError(t, err, "same corrupt bytes are not decoded twice")

	raw, err := os.ReadFile(pathsFor(dir, "Keyboard").data)
	require.NoError(t, err)
	assert.Equal(t, garbage, raw[:len(garbage)], "corrupt buffer is left in place")

	require.NoError(t, producer.Publish(ctx, model.NewEvent(model.KeyboardText, "hello")))
	ev, ok, err := consumer.TryConsume(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "hello", ev.Primary)
}

func TestPublishRejectsOversizedEvent(t *testing.T) {
	producer, err := Open(t.TempDir(), "Edge", Options{RegionSize: 256, Create: true})
	require.NoError(t, err)
	defer producer.Close()

	big := make([]byte, 1024)
	for i := range big {
		big[i] = 'x'
	}
	err = producer.Publish(context.Background(), model.NewEvent(model.UrlVisited, string(big)))
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.DataFormat))
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestAbandonedLockIsRecreated(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	producer, consumer := openPair(t, dir, "Window", Options{LockTimeout: 30 * time.Millisecond, RecoverAfter: 2})
	require.NoError(t, producer.Publish(ctx, model.NewEvent(model.WindowSwitched, "Docs")))

	// 模拟一个拿着锁不放的进程
	holder, err := os.OpenFile(pathsFor(dir, "Window").lock, os.O_RDWR, 0)
	require.NoError(t, err)
	defer holder.Close()
	require.NoError(t, unix.Flock(int(holder.Fd()), unix.LOCK_EX))

	for i := 0; i < 2; i++ {
		_, ok, err := consumer.TryConsume(ctx)
		assert.False(t, ok)
		require.ErrorIs(t, err, ErrLockTimeout)
		assert.True(t, errs.Is(err, errs.Transient))
	}

	ev, ok, err := consumer.TryConsume(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Docs", ev.Primary)
}

func TestOpenMissingChannelIsTransient(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "nope"), "Window", Options{})
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.Transient))
}

func TestConsumerWaitsForProducer(t *testing.T) {
	ctx := context.Background()
	base := t.TempDir()
	var got []model.ActivityEvent
	c := &Consumer{
		Category:    "Clipboard",
		DirTemplate: filepath.Join(base, "[USERNAME]"),
		Sessions:    session.NewStatic("alice"),
		Options:     Options{RegionSize: 4096},
		Emit:        func(ev model.ActivityEvent) { got = append(got, ev) },
	}

	c.Tick(ctx)
	assert.False(t, c.Disabled())
	assert.Empty(t, got)

	producer, err := Open(filepath.Join(base, "alice"), "Clipboard", Options{RegionSize: 4096, Create: true})
	require.NoError(t, err)
	defer producer.Close()
	require.NoError(t, producer.Publish(ctx, model.NewEvent(model.ClipboardText, "copied text")))

	c.Tick(ctx)
	require.Len(t, got, 1)
	assert.Equal(t, "copied text", got[0].Primary)

	c.Tick(ctx)
	assert.Len(t, got, 1)
}

func TestConsumerPausesWithoutSession(t *testing.T) {
	sessions := session.NewStatic("")
	var got []model.ActivityEvent
	c := &Consumer{
		Category:    "Window",
		DirTemplate: filepath.Join(t.TempDir(), "[USERNAME]"),
		Sessions:    sessions,
		Emit:        func(ev model.ActivityEvent) { got = append(got, ev) },
	}
	c.Tick(context.Background())
	assert.Empty(t, got)
	assert.False(t, c.Disabled())
}

func TestProducerSkipsDuplicatesAndBlank(t *testing.T) {
	ctx := context.Background()
	ch, err := Open(t.TempDir(), "Clipboard", Options{RegionSize: 4096, Create: true})
	require.NoError(t, err)
	defer ch.Close()

	p := NewProducer(ch, nil, 0, nil)
	sent, err := p.Offer(ctx, model.NewEvent(model.ClipboardText, "   "))
	require.NoError(t, err)
	assert.False(t, sent)

	sent, err = p.Offer(ctx, model.NewEvent(model.ClipboardText, "abc"))
	require.NoError(t, err)
	assert.True(t, sent)

	sent, err = p.Offer(ctx, model.NewEvent(model.ClipboardText, "abc"))
	require.NoError(t, err)
	assert.False(t, sent)
}

func TestWindowEvent(t *testing.T) {
	assert.Equal(t, model.ExplorerNavigated, WindowEvent(`C:\Users\alice\Documents`, "explorer.exe", "").Kind)
	assert.Equal(t, model.ExplorerNavigated, WindowEvent("/home/alice/Downloads", "nautilus", "").Kind)

	ev := WindowEvent("Quarterly report - LibreOffice", "soffice.bin", "Writer")
	assert.Equal(t, model.WindowSwitched, ev.Kind)
	assert.Equal(t, "soffice.bin", ev.Secondary)
	assert.Equal(t, "Writer", ev.Tertiary)
}

func TestProducerRunPublishesCaptures(t *testing.T) {
	dir := t.TempDir()
	ch, err := Open(dir, "Keyboard", Options{RegionSize: 4096, Create: true})
	require.NoError(t, err)
	defer ch.Close()

	lines := make(chan string, 1)
	lines <- "hello world"
	capture := func(context.Context) (model.ActivityEvent, bool, error) {
		select {
		case l := <-lines:
			return model.NewEvent(model.KeyboardText, l), true, nil
		default:
			return model.ActivityEvent{}, false, nil
		}
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = NewProducer(ch, capture, 5*time.Millisecond, nil).Run(ctx) }()

	consumer, err := Open(dir, "Keyboard", Options{RegionSize: 4096})
	require.NoError(t, err)
	defer consumer.Close()

	var got model.ActivityEvent
	require.Eventually(t, func() bool {
		ev, ok, err := consumer.TryConsume(ctx)
		if err != nil || !ok {
			return false
		}
		got = ev
		return true
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, model.KeyboardText, got.Kind)
	assert.Equal(t, "hello world", got.Primary)
}
