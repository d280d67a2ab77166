package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/mattn/go-sqlite3"

	"taskboard-api/domain"
)

// SQLite is a domain.Store keeping the same documents as Tables in a local
// SQLite file. A document's version number is its ETag.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (and migrates) the database at path.
func OpenSQLite(path string) (*SQLite, error) {
	if path == "" {
		return nil, fmt.Errorf("empty database path")
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?_busy_timeout=5000&_txlock=immediate", path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)

	s := &SQLite{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) migrate() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS documents (
		partition_key TEXT NOT NULL,
		row_key TEXT NOT NULL,
		version INTEGER NOT NULL,
		body TEXT NOT NULL,
		PRIMARY KEY (partition_key, row_key)
	)`)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	return nil
}

func (s *SQLite) get(ctx context.Context, userID, rowKey string) ([]byte, string, error) {
	var (
		body    []byte
		version int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT body, version FROM documents WHERE partition_key = ? AND row_key = ?`,
		userID, rowKey).Scan(&body, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, "", domain.ErrNotFound
	}
	if err != nil {
		return nil, "", fmt.Errorf("get %s: %w", rowKey, err)
	}
	return body, strconv.FormatInt(version, 10), nil
}

func (s *SQLite) scan(ctx context.Context, userID, start, end string, fn func(body []byte, etag string) error) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT body, version FROM documents WHERE partition_key = ? AND row_key >= ? AND row_key < ? ORDER BY row_key`,
		userID, start, end)
	if err != nil {
		return fmt.Errorf("scan documents: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			body    []byte
			version int64
		)
		if err := rows.Scan(&body, &version); err != nil {
			return fmt.Errorf("scan document: %w", err)
		}
		if err := fn(body, strconv.FormatInt(version, 10)); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (s *SQLite) GetUser(ctx context.Context, userID string) (domain.User, error) {
	body, _, err := s.get(ctx, userID, userRowKey)
	if err != nil {
		return domain.User{}, err
	}
	return decodeUser(body)
}

func (s *SQLite) ListTaskLists(ctx context.Context, userID string) ([]domain.TaskList, error) {
	lists := []domain.TaskList{}
	start, end := listRange()
	err := s.scan(ctx, userID, start, end, func(body []byte, etag string) error {
		l, err := decodeList(body, etag)
		if err != nil {
			return err
		}
		lists = append(lists, l)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return lists, nil
}

func (s *SQLite) GetTaskList(ctx context.Context, userID, listID string) (domain.TaskList, error) {
	body, etag, err := s.get(ctx, userID, listRowKey(listID))
	if err != nil {
		return domain.TaskList{}, err
	}
	return decodeList(body, etag)
}

func (s *SQLite) ListTasks(ctx context.Context, userID, listID string, minOrder int) ([]domain.Task, error) {
	tasks := []domain.Task{}
	start, end := taskRange(listID)
	err := s.scan(ctx, userID, start, end, func(body []byte, etag string) error {
		t, err := decodeTask(body, etag)
		if err != nil {
			return err
		}
		if t.Order >= minOrder {
			tasks = append(tasks, t)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(tasks, func(i, j int) bool { return tasks[i].Order < tasks[j].Order })
	return tasks, nil
}

func (s *SQLite) GetTask(ctx context.Context, userID, listID, taskID string) (domain.Task, error) {
	body, etag, err := s.get(ctx, userID, taskRowKey(listID, taskID))
	if err != nil {
		return domain.Task{}, err
	}
	return decodeTask(body, etag)
}

// Commit applies the batch in one transaction with the same guard semantics
// as Tables.Commit.
func (s *SQLite) Commit(ctx context.Context, userID string, b *domain.Batch) (err error) {
	if b == nil || b.Len() == 0 {
		return nil
	}
	if b.Len() > MaxBatchSize {
		return fmt.Errorf("%w: %d writes", domain.ErrBatchTooLarge, b.Len())
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, w := range b.Writes() {
		doc, err := encodeWrite(userID, w)
		if err != nil {
			return fmt.Errorf("encode write: %w", err)
		}
		if err := applyDocument(ctx, tx, userID, w.Kind, doc); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func applyDocument(ctx context.Context, tx *sql.Tx, userID string, kind domain.WriteKind, doc document) error {
	var (
		res sql.Result
		err error
	)
	switch {
	case kind == domain.WriteCreate:
		res, err = tx.ExecContext(ctx,
			`INSERT INTO documents (partition_key, row_key, version, body) VALUES (?, ?, 1, ?)`,
			userID, doc.RowKey, string(doc.Body))
		var sqlErr sqlite3.Error
		if errors.As(err, &sqlErr) && sqlErr.Code == sqlite3.ErrConstraint {
			return fmt.Errorf("%w: %s exists", domain.ErrConcurrencyConflict, doc.RowKey)
		}
	case kind == domain.WriteSave && doc.ETag == "":
		res, err = tx.ExecContext(ctx,
			`INSERT INTO documents (partition_key, row_key, version, body) VALUES (?, ?, 1, ?)
			ON CONFLICT (partition_key, row_key) DO UPDATE SET version = version + 1, body = excluded.body`,
			userID, doc.RowKey, string(doc.Body))
	case kind == domain.WriteSave:
		res, err = tx.ExecContext(ctx,
			`UPDATE documents SET version = version + 1, body = ? WHERE partition_key = ? AND row_key = ? AND version = ?`,
			string(doc.Body), userID, doc.RowKey, doc.ETag)
	case kind == domain.WriteDelete && doc.ETag == "":
		res, err = tx.ExecContext(ctx,
			`DELETE FROM documents WHERE partition_key = ? AND row_key = ?`,
			userID, doc.RowKey)
	default:
		res, err = tx.ExecContext(ctx,
			`DELETE FROM documents WHERE partition_key = ? AND row_key = ? AND version = ?`,
			userID, doc.RowKey, doc.ETag)
	}
	if err != nil {
		return fmt.Errorf("write %s: %w", doc.RowKey, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s changed", domain.ErrConcurrencyConflict, doc.RowKey)
	}
	return nil
}
