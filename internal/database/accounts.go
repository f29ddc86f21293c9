package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"liguns/internal/models"
)

const accountColumns = `id, user_id, platform, account_name, account_id, access_token,
    token_expires_at, is_active, created_at, updated_at`

func (db *DB) CreateAccount(ctx context.Context, a *models.Account) error {
	now := time.Now().UTC()
	if a.ID == "" {
		a.ID = newID()
	}
	a.CreatedAt, a.UpdatedAt = now, now

	_, err := db.ExecContext(ctx, `
        INSERT INTO accounts (`+accountColumns+`)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.UserID, a.Platform, a.AccountName, a.AccountID, a.AccessToken,
		dbTimePtr(a.TokenExpiresAt), a.IsActive, dbTime(now), dbTime(now))
	if err != nil {
		return fmt.Errorf("insert account: %w", err)
	}
	return nil
}

func (db *DB) GetAccount(ctx context.Context, id string) (*models.Account, error) {
	row := db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id)
	a, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get account %s: %w", id, err)
	}
	return a, nil
}

// FirstActiveAccount returns the user's oldest active account, or ErrNotFound.
func (db *DB) FirstActiveAccount(ctx context.Context, userID string) (*models.Account, error) {
	row := db.QueryRowContext(ctx, `
        SELECT `+accountColumns+` FROM accounts
        WHERE user_id = ? AND is_active = 1
        ORDER BY created_at ASC, id ASC
        LIMIT 1`, userID)
	a, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("first active account: %w", err)
	}
	return a, nil
}

func (db *DB) ListAccounts(ctx context.Context, userID string) ([]*models.Account, error) {
	return db.queryAccounts(ctx, `
        SELECT `+accountColumns+` FROM accounts
        WHERE user_id = ? ORDER BY created_at ASC`, userID)
}

// ExpiringAccounts lists active accounts whose token expires before the
// given instant. Accounts without a recorded expiry are skipped.
func (db *DB) ExpiringAccounts(ctx context.Context, before time.Time) ([]*models.Account, error) {
	return db.queryAccounts(ctx, `
        SELECT `+accountColumns+` FROM accounts
        WHERE is_active = 1 AND token_expires_at IS NOT NULL AND token_expires_at < ?
        ORDER BY token_expires_at ASC`, dbTime(before))
}

func (db *DB) queryAccounts(ctx context.Context, query string, args ...any) ([]*models.Account, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query accounts: %w", err)
	}
	defer rows.Close()

	var out []*models.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanAccount(s rowScanner) (*models.Account, error) {
	var (
		a       models.Account
		expires sql.NullTime
	)
	if err := s.Scan(&a.ID, &a.UserID, &a.Platform, &a.AccountName, &a.AccountID, &a.AccessToken,
		&expires, &a.IsActive, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	a.TokenExpiresAt = timePtr(expires)
	return &a, nil
}
