package scanner

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Hara602/hostSentry/internal/model"
	"github.com/Hara602/hostSentry/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openFixture(t *testing.T, path string, ddl ...string) *sql.DB {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	for _, stmt := range ddl {
		_, err := db.Exec(stmt)
		require.NoError(t, err)
	}
	return db
}

func mustExec(t *testing.T, db *sql.DB, query string, args ...any) {
	t.Helper()
	_, err := db.Exec(query, args...)
	require.NoError(t, err)
}

func collectRows(t *testing.T, store Store, user string) []Row {
	t.Helper()
	var rows []Row
	require.NoError(t, store.Rows(context.Background(), user, func(r Row) bool {
		rows = append(rows, r)
		return true
	}))
	return rows
}

func firefoxFixture(t *testing.T, root string) *sql.DB {
	t.Helper()
	require.NoError(t, os.MkdirAll(root, 0o755))
	ini := "[General]\nStartWithLastProfile=1\n\n[Profile0]\nName=default\nIsRelative=1\nPath=abcd.default\nDefault=1\n"
	require.NoError(t, os.WriteFile(filepath.Join(root, "profiles.ini"), []byte(ini), 0o644))
	return openFixture(t, filepath.Join(root, "abcd.default", "places.sqlite"),
		`CREATE TABLE moz_places (id INTEGER PRIMARY KEY, url TEXT, title TEXT)`,
		`CREATE TABLE moz_historyvisits (id INTEGER PRIMARY KEY, place_id INTEGER, visit_date INTEGER)`,
	)
}

func TestFirefoxHistory(t *testing.T) {
	home := t.TempDir()
	db := firefoxFixture(t, filepath.Join(home, "alice", "firefox"))
	mustExec(t, db, `INSERT INTO moz_places VALUES (1, 'https://go.dev/', 'The Go Programming Language'), (2, 'place:sort=8', NULL), (3, 'https://pkg.go.dev/', NULL)`)
	mustExec(t, db, `INSERT INTO moz_historyvisits VALUES (10, 1, ?), (11, 2, ?), (12, 3, ?)`,
		at(1).UnixMicro(), at(2).UnixMicro(), at(3).UnixMicro())

	store, err := NewHistoryDB("Firefox", SchemaFirefox, filepath.Join(home, "[USERNAME]", "firefox"), t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "history:Firefox", store.ID())

	rows := collectRows(t, store, "alice")
	require.Len(t, rows, 2)
	assert.Equal(t, "visit:12", rows[0].Key)
	assert.True(t, rows[0].Time.Equal(at(3)))
	assert.Equal(t, "https://pkg.go.dev/", rows[0].Event.Primary)
	assert.Equal(t, "", rows[0].Event.Secondary)
	assert.Equal(t, "Firefox", rows[0].Event.Tertiary)
	assert.Equal(t, "The Go Programming Language", rows[1].Event.Secondary)
	assert.Equal(t, model.UrlVisited, rows[1].Event.Kind)
}

func TestHistoryScanEndToEnd(t *testing.T) {
	ctx := context.Background()
	home := t.TempDir()
	path := filepath.Join(home, "alice", ".config", "chromium", "Default", "History")
	db := openFixture(t, path,
		`CREATE TABLE urls (id INTEGER PRIMARY KEY, url TEXT, title TEXT)`,
		`CREATE TABLE visits (id INTEGER PRIMARY KEY, url INTEGER, visit_time INTEGER)`,
	)
	chromeTime := func(ts time.Time) int64 { return ts.UnixMicro() + chromiumEpochOffset*1_000_000 }
	mustExec(t, db, `INSERT INTO urls VALUES (1, 'https://example.com/', 'Example')`)
	mustExec(t, db, `INSERT INTO visits VALUES (1, 1, ?)`, chromeTime(at(1)))

	store, err := NewHistoryDB("Chromium", SchemaChromium,
		filepath.Join(home, "[USERNAME]", ".config", "chromium", "Default", "History"), t.TempDir())
	require.NoError(t, err)

	c := &collector{}
	s := New(store, session.NewStatic("alice"), c.emit, nil)
	n, err := s.Tick(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	mustExec(t, db, `INSERT INTO urls VALUES (2, 'https://example.org/a', 'A')`)
	mustExec(t, db, `INSERT INTO visits VALUES (2, 2, ?), (3, 1, ?)`, chromeTime(at(2)), chromeTime(at(3)))
	n, err = s.Tick(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	assert.Equal(t, []string{"https://example.org/a", "https://example.com/"}, c.primaries())
	assert.True(t, c.events[0].Timestamp.Equal(at(2)))
	assert.Equal(t, "Chromium", c.events[1].Tertiary)

	// 库没变化时不读取
	n, err = s.Tick(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSafariHistoryDB(t *testing.T) {
	path := filepath.Join(t.TempDir(), "History.db")
	db := openFixture(t, path,
		`CREATE TABLE history_items (id INTEGER PRIMARY KEY, url TEXT)`,
		`CREATE TABLE history_visits (id INTEGER PRIMARY KEY, history_item INTEGER, visit_time REAL, title TEXT)`,
	)
	secs := float64(at(7).Unix() - appleEpochOffset)
	mustExec(t, db, `INSERT INTO history_items VALUES (1, 'https://apple.com/')`)
	mustExec(t, db, `INSERT INTO history_visits VALUES (5, 1, ?, 'Apple')`, secs)

	store, err := NewHistoryDB("Safari", SchemaSafariDB, path, t.TempDir())
	require.NoError(t, err)
	rows := collectRows(t, store, "alice")
	require.Len(t, rows, 1)
	assert.True(t, rows[0].Time.Equal(at(7)))
	assert.Equal(t, "Apple", rows[0].Event.Secondary)
}

func TestUnknownSchema(t *testing.T) {
	_, err := NewHistoryDB("x", "netscape", "/nowhere", t.TempDir())
	assert.Error(t, err)
}

func TestMissingHistoryIsTransient(t *testing.T) {
	store, err := NewHistoryDB("Chrome", SchemaChromium, filepath.Join(t.TempDir(), "History"), t.TempDir())
	require.NoError(t, err)
	_, err = store.Fingerprint(context.Background(), "alice")
	require.Error(t, err)
}

func TestFirefoxProfile(t *testing.T) {
	tests := []struct {
		name string
		ini  string
		want func(root string) string
	}{
		{
			name: "install section wins",
			ini:  "[Install4F96D1932A9F858E]\nDefault=Profiles/xyz.default-release\nLocked=1\n\n[Profile0]\nPath=Profiles/old.default\nDefault=1\n",
			want: func(root string) string { return filepath.Join(root, "Profiles/xyz.default-release") },
		},
		{
			name: "default profile",
			ini:  "[Profile0]\nPath=first\n\n[Profile1]\nPath=second\nDefault=1\n",
			want: func(root string) string { return filepath.Join(root, "second") },
		},
		{
			name: "first profile",
			ini:  "; comment\n[Profile0]\nPath=first\n\n[Profile1]\nPath=second\n",
			want: func(root string) string { return filepath.Join(root, "first") },
		},
		{
			name: "separators in directory name",
			ini:  "# written by firefox\n[Profile0]\nName=work\nPath=Profiles/a;b#c.work\nDefault=1\n",
			want: func(root string) string { return filepath.Join(root, "Profiles/a;b#c.work") },
		},
		{
			name: "absolute path",
			ini:  "[Profile0]\nIsRelative=0\nPath=/srv/profiles/abs\n",
			want: func(string) string { return "/srv/profiles/abs" },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			require.NoError(t, os.WriteFile(filepath.Join(root, "profiles.ini"), []byte(tt.ini), 0o644))
			got, err := FirefoxProfile(root)
			require.NoError(t, err)
			assert.Equal(t, tt.want(root), got)
		})
	}

	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "profiles.ini"), []byte("[General]\nVersion=2\n"), 0o644))
	_, err := FirefoxProfile(root)
	assert.Error(t, err)
}
