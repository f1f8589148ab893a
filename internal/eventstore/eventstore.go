// Package eventstore 把活动事件写进本地 sqlite，附带主机和会话信息
package eventstore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Hara602/hostSentry/internal/model"
	"github.com/Hara602/hostSentry/internal/session"
	"github.com/Hara602/hostSentry/internal/sysutil"
	"github.com/fxamacker/cbor/v2"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS activity_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	ts TEXT NOT NULL,
	kind TEXT NOT NULL,
	primary_field TEXT,
	secondary_field TEXT,
	tertiary_field TEXT,
	payload BLOB,
	host TEXT,
	username TEXT,
	local_ip TEXT,
	mac TEXT,
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS activity_events_ts ON activity_events (ts);
`

// payload 文件列表和附加属性
type payload struct {
	Files []model.FileDescriptor `cbor:"1,keyasint,omitempty"`
	Attrs map[string]string      `cbor:"2,keyasint,omitempty"`
}

// Record 读回的一行
type Record struct {
	ID    int64
	Event model.ActivityEvent
	Host  sysutil.HostIdentity
	User  string
}

type Store struct {
	db       *sql.DB
	host     sysutil.HostIdentity
	sessions session.Directory
}

// Open 打开 (必要时创建) 数据库和表结构
func Open(ctx context.Context, path string, host sysutil.HostIdentity, sessions session.Directory) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// 只有分发协程写入
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create table: %w", err)
	}
	return &Store{db: db, host: host, sessions: sessions}, nil
}

func (s *Store) Deliver(ctx context.Context, ev model.ActivityEvent) error {
	var blob []byte
	if len(ev.Files) > 0 || len(ev.Attrs) > 0 {
		var err error
		if blob, err = cbor.Marshal(payload{Files: ev.Files, Attrs: ev.Attrs}); err != nil {
			return fmt.Errorf("encode payload: %w", err)
		}
	}
	var user string
	if s.sessions != nil {
		user, _ = s.sessions.ActiveUser()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO activity_events
			(ts, kind, primary_field, secondary_field, tertiary_field, payload, host, username, local_ip, mac)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.Timestamp.UTC().Format(time.RFC3339Nano), ev.Kind.String(),
		ev.Primary, ev.Secondary, ev.Tertiary, blob,
		s.host.Hostname, user, s.host.LocalIP, s.host.MAC,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// Recent 按写入顺序倒序返回最近 limit 条
func (s *Store) Recent(ctx context.Context, limit int) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, ts, kind, COALESCE(primary_field, ''), COALESCE(secondary_field, ''), COALESCE(tertiary_field, ''),
			payload, COALESCE(host, ''), COALESCE(username, ''), COALESCE(local_ip, ''), COALESCE(mac, '')
		FROM activity_events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			r    Record
			ts   string
			kind string
			blob []byte
		)
		if err := rows.Scan(&r.ID, &ts, &kind, &r.Event.Primary, &r.Event.Secondary, &r.Event.Tertiary,
			&blob, &r.Host.Hostname, &r.User, &r.Host.LocalIP, &r.Host.MAC); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		r.Event.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		r.Event.Kind, _ = model.ParseKind(kind)
		if len(blob) > 0 {
			var p payload
			if err := cbor.Unmarshal(blob, &p); err != nil {
				return nil, fmt.Errorf("decode payload %d: %w", r.ID, err)
			}
			r.Event.Files, r.Event.Attrs = p.Files, p.Attrs
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) Close() error {
	return s.db.Close()
}
