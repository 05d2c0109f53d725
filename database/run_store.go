// database/run_store.go
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/gewnthar/encwind/models"
)

var errNotInitialized = errors.New("database connection is not initialized")

// Store records downloads and publish runs. A Store with a nil DB is a no-op.
type Store struct {
	DB *sql.DB
}

func NewStore(db *sql.DB) *Store { return &Store{DB: db} }

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// RecordDownload inserts one chart_downloads row.
func (s *Store) RecordDownload(ctx context.Context, d models.ChartDownload) error {
	if s == nil || s.DB == nil {
		return nil
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO chart_downloads (
			run_id, chart_name, source_url, local_path, bytes, overwrote, success,
			error, edition, update_number, update_date, downloaded_at, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.RunID, d.ChartName, d.SourceURL, d.LocalPath, d.Bytes, d.Overwrote, d.Success,
		nullString(d.Error), nullString(d.Edition), nullString(d.UpdateNumber), nullString(d.UpdateDate),
		nullTime(d.DownloadedAt), d.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record download of %s: %w", d.ChartName, err)
	}
	return nil
}

// RecordPublishRun inserts one publish_runs row.
func (s *Store) RecordPublishRun(ctx context.Context, r models.PublishRun) error {
	if s == nil || s.DB == nil {
		return nil
	}
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO publish_runs (
			run_id, feature_class, item_id, extracted, duplicates, added, failed,
			status, error, started_at, finished_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RunID, r.FeatureClass, nullString(r.ItemID), r.Extracted, r.Duplicates, r.Added, r.Failed,
		r.Status, nullString(r.Error), r.StartedAt, nullTime(r.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to record publish run for %s: %w", r.FeatureClass, err)
	}
	return nil
}

// RecentRuns returns the latest publish_runs rows, newest first.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]models.PublishRun, error) {
	if s == nil || s.DB == nil {
		return nil, errNotInitialized
	}
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, run_id, feature_class, item_id, extracted, duplicates, added, failed,
		       status, error, started_at, finished_at
		FROM publish_runs
		ORDER BY started_at DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query publish_runs: %w", err)
	}
	defer rows.Close()

	var runs []models.PublishRun
	for rows.Next() {
		var r models.PublishRun
		var itemID, runErr sql.NullString
		var finished sql.NullTime
		if err := rows.Scan(&r.ID, &r.RunID, &r.FeatureClass, &itemID, &r.Extracted, &r.Duplicates,
			&r.Added, &r.Failed, &r.Status, &runErr, &r.StartedAt, &finished); err != nil {
			return nil, fmt.Errorf("failed to scan publish_runs row: %w", err)
		}
		r.ItemID = itemID.String
		r.Error = runErr.String
		if finished.Valid {
			r.FinishedAt = &finished.Time
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating publish_runs rows: %w", err)
	}
	return runs, nil
}

// LatestDownloads returns the most recent download row per chart.
func (s *Store) LatestDownloads(ctx context.Context) ([]models.ChartDownload, error) {
	if s == nil || s.DB == nil {
		return nil, errNotInitialized
	}
	rows, err := s.DB.QueryContext(ctx, `
		SELECT d.id, d.run_id, d.chart_name, d.source_url, d.local_path, d.bytes, d.overwrote,
		       d.success, d.error, d.edition, d.update_number, d.update_date, d.downloaded_at, d.created_at
		FROM chart_downloads d
		JOIN (SELECT chart_name, MAX(id) AS id FROM chart_downloads GROUP BY chart_name) latest
		  ON latest.id = d.id
		ORDER BY d.chart_name`)
	if err != nil {
		return nil, fmt.Errorf("failed to query chart_downloads: %w", err)
	}
	defer rows.Close()

	var out []models.ChartDownload
	for rows.Next() {
		var d models.ChartDownload
		var dlErr, edition, update, updateDate sql.NullString
		var downloaded sql.NullTime
		if err := rows.Scan(&d.ID, &d.RunID, &d.ChartName, &d.SourceURL, &d.LocalPath, &d.Bytes, &d.Overwrote,
			&d.Success, &dlErr, &edition, &update, &updateDate, &downloaded, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan chart_downloads row: %w", err)
		}
		d.Error, d.Edition, d.UpdateNumber, d.UpdateDate = dlErr.String, edition.String, update.String, updateDate.String
		if downloaded.Valid {
			d.DownloadedAt = &downloaded.Time
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating chart_downloads rows: %w", err)
	}
	return out, nil
}
