package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	"github.com/go-go-golems/marionette/pkg/backenderr"
	"github.com/go-go-golems/marionette/pkg/history"
)

// Store is a history.Backend over a local SQLite database. Session messages
// are stored as the canonical JSON tree (the same representation used for
// import/export), so branching state round-trips exactly.
type Store struct {
	db *sql.DB
}

var _ history.Backend = (*Store)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	model TEXT NOT NULL,
	settings TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS messages (
	session_id TEXT PRIMARY KEY REFERENCES sessions(id) ON DELETE CASCADE,
	payload TEXT NOT NULL
);
`

func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite database")
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "create schema")
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) CreateSession(ctx context.Context, sess *history.ChatSession) (*history.ChatSession, error) {
	settings, err := json.Marshal(sess.Settings)
	if err != nil {
		return nil, errors.Wrap(err, "marshal settings")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, title, model, settings, created_at) VALUES (?, ?, ?, ?, ?)`,
		sess.ID, sess.Title, sess.Model, string(settings), sess.CreatedAt.UnixMilli())
	if err != nil {
		return nil, errors.Wrap(err, "insert session")
	}
	if sess.Messages != nil {
		if err := s.SaveMessages(ctx, sess.ID, sess.Messages); err != nil {
			return nil, err
		}
	}
	confirmed := *sess
	return &confirmed, nil
}

func (s *Store) DeleteSession(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return errors.Wrap(err, "delete session")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return backenderr.ErrNotFound
	}
	_, _ = s.db.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, id)
	return nil
}

func (s *Store) DeleteAllSessions(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM messages`); err != nil {
		return errors.Wrap(err, "delete messages")
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions`); err != nil {
		return errors.Wrap(err, "delete sessions")
	}
	return nil
}

func (s *Store) UpdateSession(ctx context.Context, sess *history.ChatSession) error {
	settings, err := json.Marshal(sess.Settings)
	if err != nil {
		return errors.Wrap(err, "marshal settings")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET title = ?, model = ?, settings = ? WHERE id = ?`,
		sess.Title, sess.Model, string(settings), sess.ID)
	if err != nil {
		return errors.Wrap(err, "update session")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return backenderr.ErrNotFound
	}
	return nil
}

func (s *Store) GetSession(ctx context.Context, id string) (*history.ChatSession, error) {
	sess, err := s.scanSession(s.db.QueryRowContext(ctx,
		`SELECT id, title, model, settings, created_at FROM sessions WHERE id = ?`, id))
	if err != nil {
		return nil, err
	}

	var payload string
	err = s.db.QueryRowContext(ctx,
		`SELECT payload FROM messages WHERE session_id = ?`, id).Scan(&payload)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		sess.Messages = []*history.Message{}
	case err != nil:
		return nil, errors.Wrap(err, "load messages")
	default:
		if err := json.Unmarshal([]byte(payload), &sess.Messages); err != nil {
			return nil, errors.Wrap(err, "unmarshal messages")
		}
	}
	return sess, nil
}

func (s *Store) ListSessions(ctx context.Context) ([]*history.ChatSession, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, model, settings, created_at FROM sessions ORDER BY created_at DESC`)
	if err != nil {
		return nil, errors.Wrap(err, "list sessions")
	}
	defer func() {
		_ = rows.Close()
	}()

	var out []*history.ChatSession
	for rows.Next() {
		sess, err := s.scanSession(rows)
		if err != nil {
			return nil, err
		}
		// summary only: Messages stays nil until the session is hydrated
		out = append(out, sess)
	}
	return out, rows.Err()
}

func (s *Store) SaveMessages(ctx context.Context, id string, msgs []*history.Message) error {
	var exists int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sessions WHERE id = ?`, id).Scan(&exists); err != nil {
		return errors.Wrap(err, "check session")
	}
	if exists == 0 {
		return backenderr.ErrNotFound
	}

	payload, err := json.Marshal(msgs)
	if err != nil {
		return errors.Wrap(err, "marshal messages")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO messages (session_id, payload) VALUES (?, ?)
		 ON CONFLICT (session_id) DO UPDATE SET payload = excluded.payload`,
		id, string(payload))
	return errors.Wrap(err, "save messages")
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Store) scanSession(row rowScanner) (*history.ChatSession, error) {
	var (
		sess      history.ChatSession
		settings  string
		createdAt int64
	)
	err := row.Scan(&sess.ID, &sess.Title, &sess.Model, &settings, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, backenderr.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "scan session")
	}
	if err := json.Unmarshal([]byte(settings), &sess.Settings); err != nil {
		return nil, errors.Wrap(err, "unmarshal settings")
	}
	sess.CreatedAt = time.UnixMilli(createdAt)
	return &sess, nil
}
