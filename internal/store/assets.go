package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const assetColumns = "id, path, checksum, size_bytes, title, added_at, source_task_id"

// SaveAsset inserts or replaces the asset registered at a path. Re-downloading
// a file keeps one row per path so the library never lists stale duplicates.
func (s *Store) SaveAsset(ctx context.Context, asset Asset) (*Asset, error) {
	if asset.ID == "" {
		return nil, errors.New("asset id is empty")
	}
	if asset.Path == "" {
		return nil, errors.New("asset path is empty")
	}
	addedAt := asset.AddedAt
	if addedAt.IsZero() {
		addedAt = time.Now().UTC()
	}

	if err := s.execWithoutResultRetry(
		ctx,
		`INSERT INTO media_assets (id, path, checksum, size_bytes, title, added_at, source_task_id)
         VALUES (?, ?, ?, ?, ?, ?, ?)
         ON CONFLICT(path) DO UPDATE SET
             id = excluded.id,
             checksum = excluded.checksum,
             size_bytes = excluded.size_bytes,
             title = excluded.title,
             added_at = excluded.added_at,
             source_task_id = excluded.source_task_id`,
		asset.ID,
		asset.Path,
		nullableString(asset.Checksum),
		asset.SizeBytes,
		asset.Title,
		addedAt.UTC().Format(time.RFC3339Nano),
		nullableString(asset.SourceTaskID),
	); err != nil {
		return nil, fmt.Errorf("save asset: %w", err)
	}
	return s.AssetByPath(ctx, asset.Path)
}

// AssetByID fetches an asset by identifier.
func (s *Store) AssetByID(ctx context.Context, id string) (*Asset, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+assetColumns+` FROM media_assets WHERE id = ?`, id)
	asset, err := scanAsset(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get asset: %w", err)
	}
	return asset, nil
}

// AssetByPath fetches the asset registered at a file path.
func (s *Store) AssetByPath(ctx context.Context, path string) (*Asset, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+assetColumns+` FROM media_assets WHERE path = ?`, path)
	asset, err := scanAsset(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get asset by path: %w", err)
	}
	return asset, nil
}

// ListAssets returns all registered assets ordered by title.
func (s *Store) ListAssets(ctx context.Context) ([]*Asset, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+assetColumns+` FROM media_assets ORDER BY title, path`)
	if err != nil {
		return nil, fmt.Errorf("list assets: %w", err)
	}
	defer rows.Close()

	var assets []*Asset
	for rows.Next() {
		asset, err := scanAsset(rows)
		if err != nil {
			return nil, err
		}
		assets = append(assets, asset)
	}
	return assets, rows.Err()
}

// RemoveAsset deletes an asset row by identifier.
func (s *Store) RemoveAsset(ctx context.Context, id string) (bool, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM media_assets WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete asset: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// RemoveAssetByPath deletes the asset registered at a path. Reconciliation
// uses this when a file disappears from the media root out of band.
func (s *Store) RemoveAssetByPath(ctx context.Context, path string) (bool, error) {
	res, err := s.execWithRetry(ctx, `DELETE FROM media_assets WHERE path = ?`, path)
	if err != nil {
		return false, fmt.Errorf("delete asset by path: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// AssetCount returns the number of registered assets.
func (s *Store) AssetCount(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM media_assets`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count assets: %w", err)
	}
	return count, nil
}
