package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type syncCursor struct {
	LastUID uint32 `json:"lastUid"`
}

// SyncCursorKey returns the settings key holding the cursor of one account folder.
func SyncCursorKey(accountID, folder string) string {
	return "sync:" + accountID + ":" + folder
}

// GetSyncCursor returns the highest ingested UID of a folder, or 0 when nothing was synced yet.
func GetSyncCursor(ctx context.Context, pool *pgxpool.Pool, accountID, folder string) (uint32, error) {
	var raw []byte
	err := pool.QueryRow(ctx, `SELECT value FROM settings WHERE key = $1`, SyncCursorKey(accountID, folder)).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get sync cursor: %w", err)
	}

	var cursor syncCursor
	if err := json.Unmarshal(raw, &cursor); err != nil {
		return 0, fmt.Errorf("failed to decode sync cursor: %w", err)
	}
	return cursor.LastUID, nil
}

// AdvanceSyncCursor stores lastUID for the folder unless a higher value is already stored.
func AdvanceSyncCursor(ctx context.Context, pool *pgxpool.Pool, accountID, folder string, lastUID uint32) error {
	_, err := pool.Exec(ctx, `
		INSERT INTO settings (key, value)
		VALUES ($1, jsonb_build_object('lastUid', $2::bigint))
		ON CONFLICT (key) DO UPDATE SET
			value = EXCLUDED.value,
			updated_at = now()
		WHERE COALESCE((settings.value->>'lastUid')::bigint, 0) < (EXCLUDED.value->>'lastUid')::bigint
	`, SyncCursorKey(accountID, folder), int64(lastUID))
	if err != nil {
		return fmt.Errorf("failed to advance sync cursor: %w", err)
	}
	return nil
}
