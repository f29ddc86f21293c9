package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"liguns/internal/models"
)

const postColumns = `id, user_id, website_id, caption, image_url, notes, is_evergreen, created_at, updated_at`

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (db *DB) CreatePost(ctx context.Context, p *models.Post) error {
	return insertPost(ctx, db, p, time.Now().UTC())
}

func insertPost(ctx context.Context, ex execer, p *models.Post, now time.Time) error {
	if p.ID == "" {
		p.ID = newID()
	}
	p.CreatedAt, p.UpdatedAt = now, now

	_, err := ex.ExecContext(ctx, `
        INSERT INTO posts (`+postColumns+`)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.UserID, p.WebsiteID, p.Caption, p.ImageURL, p.Notes, p.IsEvergreen,
		dbTime(now), dbTime(now))
	if err != nil {
		return fmt.Errorf("insert post: %w", err)
	}
	return nil
}

func (db *DB) GetPost(ctx context.Context, id string) (*models.Post, error) {
	row := db.QueryRowContext(ctx, `SELECT `+postColumns+` FROM posts WHERE id = ?`, id)
	p, err := scanPost(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get post %s: %w", id, err)
	}
	return p, nil
}

// EvergreenPool returns up to limit evergreen posts, newest first.
func (db *DB) EvergreenPool(ctx context.Context, limit int) ([]*models.Post, error) {
	rows, err := db.QueryContext(ctx, `
        SELECT `+postColumns+` FROM posts
        WHERE is_evergreen = 1
        ORDER BY created_at DESC
        LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("evergreen pool: %w", err)
	}
	defer rows.Close()

	var out []*models.Post
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanPost(s rowScanner) (*models.Post, error) {
	var p models.Post
	if err := s.Scan(&p.ID, &p.UserID, &p.WebsiteID, &p.Caption, &p.ImageURL, &p.Notes,
		&p.IsEvergreen, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}
