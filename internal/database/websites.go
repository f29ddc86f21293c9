package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"liguns/internal/models"
)

const websiteColumns = `id, user_id, name, url, description, logo_url, primary_color, created_at, updated_at`

func (db *DB) CreateWebsite(ctx context.Context, w *models.Website) error {
	now := time.Now().UTC()
	if w.ID == "" {
		w.ID = newID()
	}
	w.CreatedAt, w.UpdatedAt = now, now

	_, err := db.ExecContext(ctx, `
        INSERT INTO websites (`+websiteColumns+`)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		w.ID, w.UserID, w.Name, w.URL, w.Description, w.LogoURL, w.PrimaryColor,
		dbTime(now), dbTime(now))
	if err != nil {
		return fmt.Errorf("insert website: %w", err)
	}
	return nil
}

func (db *DB) GetWebsite(ctx context.Context, id string) (*models.Website, error) {
	row := db.QueryRowContext(ctx, `SELECT `+websiteColumns+` FROM websites WHERE id = ?`, id)
	w, err := scanWebsite(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get website %s: %w", id, err)
	}
	return w, nil
}

func (db *DB) ListWebsites(ctx context.Context, userID string) ([]*models.Website, error) {
	rows, err := db.QueryContext(ctx, `
        SELECT `+websiteColumns+` FROM websites
        WHERE user_id = ? ORDER BY name`, userID)
	if err != nil {
		return nil, fmt.Errorf("list websites: %w", err)
	}
	defer rows.Close()

	var out []*models.Website
	for rows.Next() {
		w, err := scanWebsite(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func scanWebsite(s rowScanner) (*models.Website, error) {
	var w models.Website
	if err := s.Scan(&w.ID, &w.UserID, &w.Name, &w.URL, &w.Description, &w.LogoURL,
		&w.PrimaryColor, &w.CreatedAt, &w.UpdatedAt); err != nil {
		return nil, err
	}
	return &w, nil
}
