package eventstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/Hara602/hostSentry/internal/model"
	"github.com/Hara602/hostSentry/internal/session"
	"github.com/Hara602/hostSentry/internal/sysutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeliverAndRecent(t *testing.T) {
	ctx := context.Background()
	host := sysutil.HostIdentity{Hostname: "ws-042", LocalIP: "10.0.0.7", MAC: "AA:BB:CC:DD:EE:FF"}
	sessions := session.NewStatic("alice")
	store, err := Open(ctx, filepath.Join(t.TempDir(), "db", "events.db"), host, sessions)
	require.NoError(t, err)
	defer store.Close()

	ts := time.Date(2024, 6, 1, 12, 30, 0, 123, time.UTC)
	copied := model.NewEvent(model.ClipboardFiles).WithTime(ts).
		WithFiles([]model.FileDescriptor{{Path: "/home/alice/a.txt"}, {Path: "/home/alice/dir", IsDirectory: true}})
	require.NoError(t, store.Deliver(ctx, copied))

	sessions.Set("bob")
	risky := model.NewEvent(model.FileCreated, "/media/bob/USB/x.jpg", "", "Removable").
		WithTime(ts.Add(time.Second)).WithAttr("risk", "HIGH")
	require.NoError(t, store.Deliver(ctx, risky))

	records, err := store.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, model.FileCreated, records[0].Event.Kind)
	assert.Equal(t, "bob", records[0].User)
	assert.Equal(t, "HIGH", records[0].Event.Attrs["risk"])
	assert.Equal(t, "Removable", records[0].Event.Tertiary)
	assert.Equal(t, host, records[0].Host)

	assert.Equal(t, "alice", records[1].User)
	assert.True(t, records[1].Event.Timestamp.Equal(ts))
	assert.Equal(t, copied.Files, records[1].Event.Files)
	assert.Nil(t, records[1].Event.Attrs)

	limited, err := store.Recent(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestReopenKeepsRows(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "events.db")
	store, err := Open(ctx, path, sysutil.HostIdentity{}, nil)
	require.NoError(t, err)
	require.NoError(t, store.Deliver(ctx, model.NewEvent(model.HeartBeat)))
	require.NoError(t, store.Close())

	store, err = Open(ctx, path, sysutil.HostIdentity{}, nil)
	require.NoError(t, err)
	defer store.Close()
	records, err := store.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, model.HeartBeat, records[0].Event.Kind)
	assert.Empty(t, records[0].User)
}
