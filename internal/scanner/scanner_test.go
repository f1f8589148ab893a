package scanner

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/Hara602/hostSentry/internal/errs"
	"github.com/Hara602/hostSentry/internal/model"
	"github.com/Hara602/hostSentry/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStore 内存中的只追加存储，每次追加都会改变指纹
type memStore struct {
	mu      sync.Mutex
	rows    []Row
	version byte
	err     error
	reads   int
}

func (m *memStore) ID() string { return "mem" }

func (m *memStore) add(key string, t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = append(m.rows, Row{Key: key, Time: t, Event: model.NewEvent(model.UrlVisited, "https://"+key, key, "mem").WithTime(t)})
	m.version++
}

func (m *memStore) Fingerprint(context.Context, string) (Fingerprint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return Fingerprint{}, m.err
	}
	return Fingerprint{m.version}, nil
}

func (m *memStore) Rows(_ context.Context, _ string, visit func(Row) bool) error {
	m.mu.Lock()
	rows := append([]Row(nil), m.rows...)
	m.reads++
	m.mu.Unlock()
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Time.After(rows[j].Time) })
	for _, r := range rows {
		if !visit(r) {
			break
		}
	}
	return nil
}

type collector struct {
	events []model.ActivityEvent
}

func (c *collector) emit(ev model.ActivityEvent) { c.events = append(c.events, ev) }

func (c *collector) primaries() []string {
	var out []string
	for _, ev := range c.events {
		out = append(out, ev.Primary)
	}
	return out
}

var base = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func at(sec int) time.Time { return base.Add(time.Duration(sec) * time.Second) }

func newTestScanner(store Store, user string) (*Scanner, *collector, *session.Static) {
	sessions := session.NewStatic(user)
	c := &collector{}
	return New(store, sessions, c.emit, nil), c, sessions
}

func TestBootstrapEmitsNothing(t *testing.T) {
	ctx := context.Background()
	store := &memStore{}
	store.add("a", at(1))
	store.add("b", at(2))
	store.add("c", at(3))
	s, c, _ := newTestScanner(store, "alice")

	n, err := s.Tick(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, c.events)
	assert.True(t, s.Cursor().Known)
	assert.True(t, s.Cursor().HighWater.Equal(at(3)))

	store.add("d", at(4))
	n, err = s.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"https://d"}, c.primaries())
}

func TestEmptyStoreBootstrapsToZero(t *testing.T) {
	ctx := context.Background()
	store := &memStore{}
	s, c, _ := newTestScanner(store, "alice")

	_, err := s.Tick(ctx)
	require.NoError(t, err)
	assert.True(t, s.Cursor().HighWater.IsZero())

	// 空库之后出现的第一行正常发出
	store.add("a", at(1))
	n, err := s.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"https://a"}, c.primaries())
}

func TestEmitsOldestFirstWithoutDuplicates(t *testing.T) {
	ctx := context.Background()
	store := &memStore{}
	store.add("a", at(1))
	s, c, _ := newTestScanner(store, "alice")
	_, err := s.Tick(ctx)
	require.NoError(t, err)

	store.add("c", at(3))
	store.add("b", at(2))
	store.add("b", at(2))
	n, err := s.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"https://b", "https://c"}, c.primaries())

	// 时间戳单调不减
	for i := 1; i < len(c.events); i++ {
		assert.False(t, c.events[i].Timestamp.Before(c.events[i-1].Timestamp))
	}

	// 指纹变化但没有新行
	store.mu.Lock()
	store.version++
	store.mu.Unlock()
	n, err = s.Tick(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Len(t, c.events, 2)
}

func TestRowAtHighWaterIsNotEmitted(t *testing.T) {
	ctx := context.Background()
	store := &memStore{}
	store.add("a", at(5))
	s, c, _ := newTestScanner(store, "alice")
	_, err := s.Tick(ctx)
	require.NoError(t, err)

	store.add("tie", at(5))
	store.add("late", at(4))
	n, err := s.Tick(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, c.events)
}

func TestUnchangedFingerprintSkipsRead(t *testing.T) {
	ctx := context.Background()
	store := &memStore{}
	store.add("a", at(1))
	s, _, _ := newTestScanner(store, "alice")

	_, err := s.Tick(ctx)
	require.NoError(t, err)
	_, err = s.Tick(ctx)
	require.NoError(t, err)
	_, err = s.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, store.reads)
}

func TestUserSwitchResetsCursor(t *testing.T) {
	ctx := context.Background()
	store := &memStore{}
	store.add("a", at(1))
	s, c, sessions := newTestScanner(store, "alice")
	_, err := s.Tick(ctx)
	require.NoError(t, err)

	sessions.Set("bob")
	store.add("b", at(2))
	n, err := s.Tick(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, Cursor{Owner: "bob"}, s.Cursor())

	// bob 的第一次接触重新建立高水位
	_, err = s.Tick(ctx)
	require.NoError(t, err)
	assert.Empty(t, c.events)
	assert.True(t, s.Cursor().HighWater.Equal(at(2)))
}

func TestNoActiveUserResetsCursor(t *testing.T) {
	ctx := context.Background()
	store := &memStore{}
	store.add("a", at(1))
	s, c, sessions := newTestScanner(store, "alice")
	_, err := s.Tick(ctx)
	require.NoError(t, err)

	sessions.Set("")
	n, err := s.Tick(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, Cursor{}, s.Cursor())
	assert.Empty(t, c.events)
}

func TestErrorLeavesCursorUnchanged(t *testing.T) {
	ctx := context.Background()
	store := &memStore{}
	store.add("a", at(1))
	s, c, _ := newTestScanner(store, "alice")
	_, err := s.Tick(ctx)
	require.NoError(t, err)
	before := s.Cursor()

	store.add("b", at(2))
	store.err = errs.New(errs.Transient, "locked", errors.New("database is locked"))
	_, err = s.Tick(ctx)
	require.Error(t, err)
	assert.Equal(t, before, s.Cursor())

	store.err = nil
	n, err := s.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"https://b"}, c.primaries())
}

func TestDelayHonoursCancellation(t *testing.T) {
	store := &memStore{}
	store.add("a", at(1))
	s, c, _ := newTestScanner(store, "alice")
	_, err := s.Tick(context.Background())
	require.NoError(t, err)
	before := s.Cursor()

	s.Delay = time.Hour
	store.add("b", at(2))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Tick(ctx)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.Transient))
	assert.Empty(t, c.events)
	assert.Equal(t, before, s.Cursor())
}

func TestRunStopsOnCancel(t *testing.T) {
	store := &memStore{}
	store.add("a", at(1))
	s, _, _ := newTestScanner(store, "alice")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, 10*time.Millisecond) }()

	require.Eventually(t, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		return store.reads > 0
	}, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
}
