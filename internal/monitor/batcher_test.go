package monitor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Hara602/hostSentry/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ops(batch []model.FileNotification) []model.FileOp {
	out := make([]model.FileOp, 0, len(batch))
	for _, n := range batch {
		out = append(out, n.Op)
	}
	return out
}

func TestNormalizePairsMoves(t *testing.T) {
	batch := Normalize([]model.FileNotification{
		{Op: model.OpMovedFrom, Path: "/home/alice/a.docx"},
		{Op: model.OpMovedTo, Path: "/home/alice/docs/b.docx"},
	})
	require.Len(t, batch, 1)
	assert.Equal(t, model.OpRename, batch[0].Op)
	assert.Equal(t, "/home/alice/a.docx", batch[0].OldPath)
	assert.Equal(t, "/home/alice/docs/b.docx", batch[0].Path)
}

func TestNormalizePairsRenameWithCreateInSameDir(t *testing.T) {
	batch := Normalize([]model.FileNotification{
		{Op: model.OpMovedFrom, Path: "/home/alice/a.txt"},
		{Op: model.OpCreate, Path: "/home/alice/other/x.txt"},
		{Op: model.OpCreate, Path: "/home/alice/b.txt"},
	})
	assert.Equal(t, []model.FileOp{model.OpRename, model.OpCreate}, ops(batch))
	assert.Equal(t, "/home/alice/b.txt", batch[0].Path)
	assert.Equal(t, "/home/alice/other/x.txt", batch[1].Path)
}

func TestNormalizePairsInterleavedMoves(t *testing.T) {
	batch := Normalize([]model.FileNotification{
		{Op: model.OpMovedFrom, Path: "/home/alice/a/report.docx"},
		{Op: model.OpMovedFrom, Path: "/home/alice/b/notes.txt"},
		{Op: model.OpMovedTo, Path: "/home/alice/b/todo.txt"},
		{Op: model.OpMovedTo, Path: "/media/usb/report.docx"},
	})
	require.Equal(t, []model.FileOp{model.OpRename, model.OpRename}, ops(batch))
	assert.Equal(t, "/home/alice/a/report.docx", batch[0].OldPath)
	assert.Equal(t, "/media/usb/report.docx", batch[0].Path)
	assert.Equal(t, "/home/alice/b/notes.txt", batch[1].OldPath)
	assert.Equal(t, "/home/alice/b/todo.txt", batch[1].Path)
}

func TestNormalizeKeepsUnpairedMove(t *testing.T) {
	batch := Normalize([]model.FileNotification{
		{Op: model.OpMovedFrom, Path: "/home/alice/a.txt"},
	})
	assert.Equal(t, []model.FileOp{model.OpMovedFrom}, ops(batch))
}

func TestNormalizeCollapsesNoise(t *testing.T) {
	batch := Normalize([]model.FileNotification{
		{Op: model.OpCreate, Path: "/data/a.txt"},
		{Op: model.OpChange, Path: "/data/a.txt"},
		{Op: model.OpChange, Path: "/data/b.txt"},
		{Op: model.OpChange, Path: "/data/b.txt"},
		{Op: model.OpDelete, Path: "/data/c.txt"},
	})
	assert.Equal(t, []model.FileOp{model.OpCreate, model.OpChange, model.OpDelete}, ops(batch))
	assert.Equal(t, "/data/b.txt", batch[1].Path)
}

func TestBatcherFlushesAfterQuietWindow(t *testing.T) {
	in := make(chan model.FileNotification)
	var (
		mu      sync.Mutex
		batches [][]model.FileNotification
	)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = Batcher{Window: 30 * time.Millisecond, MaxAge: time.Minute}.Run(ctx, in, func(b []model.FileNotification) {
			mu.Lock()
			batches = append(batches, b)
			mu.Unlock()
		})
	}()

	in <- model.FileNotification{Op: model.OpMovedFrom, Path: "/d/a.txt"}
	in <- model.FileNotification{Op: model.OpMovedTo, Path: "/d/b.txt"}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(batches) == 1
	}, time.Second, 10*time.Millisecond)

	in <- model.FileNotification{Op: model.OpDelete, Path: "/d/c.txt"}
	cancel()
	<-done

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, batches, 2)
	assert.Equal(t, []model.FileOp{model.OpRename}, ops(batches[0]))
	assert.Equal(t, []model.FileOp{model.OpDelete}, ops(batches[1]))
}

func TestBatcherMaxAge(t *testing.T) {
	in := make(chan model.FileNotification)
	flushed := make(chan []model.FileNotification, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		_ = Batcher{Window: time.Hour, MaxAge: 20 * time.Millisecond}.Run(ctx, in, func(b []model.FileNotification) {
			flushed <- b
		})
	}()

	in <- model.FileNotification{Op: model.OpChange, Path: "/d/a.txt"}
	time.Sleep(40 * time.Millisecond)
	in <- model.FileNotification{Op: model.OpChange, Path: "/d/b.txt"}

	select {
	case b := <-flushed:
		assert.Len(t, b, 2)
	case <-time.After(time.Second):
		t.Fatal("batch older than MaxAge was not flushed")
	}
}
