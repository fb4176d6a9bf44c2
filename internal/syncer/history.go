package syncer

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/dl-alexandre/cloudsync/internal/connector"
)

const defaultHistoryLimit = 100

// HistoryStore keeps the bounded per-pass sync history in SQLite. Rows
// beyond the limit are pruned on append, oldest first.
type HistoryStore struct {
	db    *sql.DB
	limit int
}

// OpenHistory opens (and migrates) the history database
func OpenHistory(path string, limit int) (*HistoryStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &HistoryStore{db: db, limit: limit}
	if err := store.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (h *HistoryStore) Close() error {
	if h == nil || h.db == nil {
		return nil
	}
	return h.db.Close()
}

func (h *HistoryStore) migrate(ctx context.Context) error {
	_, err := h.db.ExecContext(ctx, historySchemaSQL)
	return err
}

const historySchemaSQL = `
CREATE TABLE IF NOT EXISTS sync_history (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	provider TEXT NOT NULL,
	success INTEGER NOT NULL,
	items_processed INTEGER NOT NULL,
	items_added INTEGER NOT NULL,
	items_updated INTEGER NOT NULL,
	items_succeeded INTEGER NOT NULL,
	items_failed INTEGER NOT NULL,
	errors TEXT,
	error_message TEXT,
	duration_seconds REAL NOT NULL,
	sync_timestamp INTEGER NOT NULL,
	collection_name TEXT
);

CREATE INDEX IF NOT EXISTS idx_history_provider ON sync_history(provider, id);
`

// Append records one pass result and prunes rows beyond the limit
func (h *HistoryStore) Append(ctx context.Context, result connector.SyncResult) (err error) {
	errorsJSON := ""
	if len(result.Errors) > 0 {
		data, marshalErr := json.Marshal(result.Errors)
		if marshalErr != nil {
			return marshalErr
		}
		errorsJSON = string(data)
	}

	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO sync_history (
			provider, success, items_processed, items_added, items_updated,
			items_succeeded, items_failed, errors, error_message,
			duration_seconds, sync_timestamp, collection_name
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, result.Provider, boolToInt(result.Success), result.ItemsProcessed, result.ItemsAdded,
		result.ItemsUpdated, result.ItemsSucceeded, result.ItemsFailed, errorsJSON,
		result.ErrorMessage, result.DurationSeconds, result.SyncTimestamp.UnixNano(),
		result.CollectionName)
	if err != nil {
		_ = tx.Rollback()
		return err
	}

	_, err = tx.ExecContext(ctx, `
		DELETE FROM sync_history WHERE id NOT IN (
			SELECT id FROM sync_history ORDER BY id DESC LIMIT ?
		)
	`, h.limit)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// List returns up to limit results, newest first
func (h *HistoryStore) List(ctx context.Context, limit int) (results []connector.SyncResult, err error) {
	if limit <= 0 || limit > h.limit {
		limit = h.limit
	}
	rows, err := h.db.QueryContext(ctx, `
		SELECT provider, success, items_processed, items_added, items_updated,
		       items_succeeded, items_failed, errors, error_message,
		       duration_seconds, sync_timestamp, collection_name
		FROM sync_history ORDER BY id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	for rows.Next() {
		var result connector.SyncResult
		var success int
		var errorsJSON string
		var timestamp int64
		if err := rows.Scan(&result.Provider, &success, &result.ItemsProcessed,
			&result.ItemsAdded, &result.ItemsUpdated, &result.ItemsSucceeded,
			&result.ItemsFailed, &errorsJSON, &result.ErrorMessage,
			&result.DurationSeconds, &timestamp, &result.CollectionName); err != nil {
			return nil, err
		}
		result.Success = success != 0
		result.SyncTimestamp = time.Unix(0, timestamp)
		if errorsJSON != "" {
			if err := json.Unmarshal([]byte(errorsJSON), &result.Errors); err != nil {
				return nil, err
			}
		}
		results = append(results, result)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

// Clear removes all history rows
func (h *HistoryStore) Clear(ctx context.Context) error {
	_, err := h.db.ExecContext(ctx, `DELETE FROM sync_history`)
	return err
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
