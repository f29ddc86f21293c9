package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"liguns/internal/models"
)

const scheduleColumns = `s.id, s.user_id, s.post_id, s.account_id, s.scheduled_at, s.status,
    s.retry_count, s.error_log, s.platform_post_id, s.published_at, s.platform_response,
    s.caption, s.next_attempt_at, s.created_at, s.updated_at`

const dueSelect = `SELECT ` + scheduleColumns + `,
    p.id, p.user_id, p.website_id, p.caption, p.image_url, p.notes, p.is_evergreen, p.created_at, p.updated_at,
    a.id, a.user_id, a.platform, a.account_name, a.account_id, a.access_token,
    a.token_expires_at, a.is_active, a.created_at, a.updated_at
FROM post_schedules s
LEFT JOIN posts p ON p.id = s.post_id
LEFT JOIN accounts a ON a.id = s.account_id`

// DueEntries returns QUEUED entries scheduled at or before now, oldest
// first. Entries in backoff or under a live claim are skipped.
func (db *DB) DueEntries(ctx context.Context, now time.Time, limit int) ([]*models.DueEntry, error) {
	ts := dbTime(now)
	rows, err := db.QueryContext(ctx, dueSelect+`
        WHERE s.status = ? AND s.scheduled_at <= ?
          AND (s.next_attempt_at IS NULL OR s.next_attempt_at <= ?)
          AND (s.claimed_until IS NULL OR s.claimed_until < ?)
        ORDER BY s.scheduled_at ASC, s.id ASC
        LIMIT ?`, models.StatusQueued, ts, ts, ts, limit)
	if err != nil {
		return nil, fmt.Errorf("select due entries: %w", err)
	}
	defer rows.Close()

	var out []*models.DueEntry
	for rows.Next() {
		e, err := scanDueEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan due entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// GetDueEntry loads one entry with its post and account regardless of status.
func (db *DB) GetDueEntry(ctx context.Context, id string) (*models.DueEntry, error) {
	row := db.QueryRowContext(ctx, dueSelect+` WHERE s.id = ?`, id)
	e, err := scanDueEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get entry %s: %w", id, err)
	}
	return e, nil
}

func (db *DB) GetSchedule(ctx context.Context, id string) (*models.ScheduleEntry, error) {
	row := db.QueryRowContext(ctx, `SELECT `+scheduleColumns+` FROM post_schedules s WHERE s.id = ?`, id)
	s, err := scanSchedule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get schedule %s: %w", id, err)
	}
	return s, nil
}

// ClaimEntry leases a QUEUED entry to token until now+ttl. It reports false
// when the entry is gone, no longer queued, or held by a live claim.
func (db *DB) ClaimEntry(ctx context.Context, id, token string, now time.Time, ttl time.Duration) (bool, error) {
	res, err := db.ExecContext(ctx, `
        UPDATE post_schedules
        SET claim_token = ?, claimed_until = ?, updated_at = ?
        WHERE id = ? AND status = ?
          AND (claimed_until IS NULL OR claimed_until < ?)`,
		token, dbTime(now.Add(ttl)), dbTime(now), id, models.StatusQueued, dbTime(now))
	if err != nil {
		return false, fmt.Errorf("claim entry %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ReleaseClaim drops token's lease without changing state.
func (db *DB) ReleaseClaim(ctx context.Context, id, token string) error {
	_, err := db.ExecContext(ctx, `
        UPDATE post_schedules SET claim_token = '', claimed_until = NULL
        WHERE id = ? AND claim_token = ?`, id, token)
	if err != nil {
		return fmt.Errorf("release claim %s: %w", id, err)
	}
	return nil
}

// MarkPublished moves a claimed entry to PUBLISHED.
func (db *DB) MarkPublished(ctx context.Context, id, token, platformPostID, response string, now time.Time) error {
	return db.finishClaim(ctx, id, token, now, `
        status = 'PUBLISHED', platform_post_id = ?, published_at = ?, platform_response = ?`,
		platformPostID, dbTime(now), response)
}

// MarkFailed moves a claimed entry to the terminal FAILED state.
func (db *DB) MarkFailed(ctx context.Context, id, token, errorLog, response string, now time.Time) error {
	return db.finishClaim(ctx, id, token, now, `
        status = 'FAILED', error_log = ?, platform_response = ?, next_attempt_at = NULL`,
		errorLog, response)
}

// MarkRetry keeps a claimed entry QUEUED with retry_count bumped to
// newCount. The update only applies while the stored count is lower.
func (db *DB) MarkRetry(ctx context.Context, id, token string, newCount int, errorLog, response string, nextAttempt *time.Time, now time.Time) error {
	res, err := db.ExecContext(ctx, `
        UPDATE post_schedules
        SET retry_count = ?, error_log = ?, platform_response = ?, next_attempt_at = ?,
            claim_token = '', claimed_until = NULL, updated_at = ?
        WHERE id = ? AND status = 'QUEUED' AND claim_token = ? AND retry_count < ?`,
		newCount, errorLog, response, dbTimePtr(nextAttempt), dbTime(now),
		id, token, newCount)
	if err != nil {
		return fmt.Errorf("mark retry %s: %w", id, err)
	}
	return expectOne(res)
}

func (db *DB) finishClaim(ctx context.Context, id, token string, now time.Time, set string, args ...any) error {
	args = append(args, dbTime(now), id, token)
	res, err := db.ExecContext(ctx, `
        UPDATE post_schedules
        SET `+set+`, claim_token = '', claimed_until = NULL, updated_at = ?
        WHERE id = ? AND status = 'QUEUED' AND claim_token = ?`, args...)
	if err != nil {
		return fmt.Errorf("update entry %s: %w", id, err)
	}
	return expectOne(res)
}

func expectOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n != 1 {
		return ErrClaimLost
	}
	return nil
}

// CountUpcoming counts QUEUED entries with from < scheduled_at <= to.
func (db *DB) CountUpcoming(ctx context.Context, from, to time.Time) (int, error) {
	var n int
	err := db.QueryRowContext(ctx, `
        SELECT COUNT(*) FROM post_schedules
        WHERE status = ? AND scheduled_at > ? AND scheduled_at <= ?`,
		models.StatusQueued, dbTime(from), dbTime(to)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count upcoming: %w", err)
	}
	return n, nil
}

func (db *DB) CreateSchedule(ctx context.Context, s *models.ScheduleEntry) error {
	return insertSchedule(ctx, db, s, time.Now().UTC())
}

// CreatePostWithSchedules stores a post and its entries atomically.
func (db *DB) CreatePostWithSchedules(ctx context.Context, p *models.Post, entries []*models.ScheduleEntry) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	if err := insertPost(ctx, tx, p, now); err != nil {
		return err
	}
	for _, s := range entries {
		s.PostID = p.ID
		if s.UserID == "" {
			s.UserID = p.UserID
		}
		if err := insertSchedule(ctx, tx, s, now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func insertSchedule(ctx context.Context, ex execer, s *models.ScheduleEntry, now time.Time) error {
	if s.ID == "" {
		s.ID = newID()
	}
	if s.Status == "" {
		s.Status = models.StatusQueued
	}
	if s.ScheduledAt.IsZero() {
		s.ScheduledAt = now
	}
	s.ScheduledAt = s.ScheduledAt.UTC()
	s.CreatedAt, s.UpdatedAt = now, now

	_, err := ex.ExecContext(ctx, `
        INSERT INTO post_schedules (id, user_id, post_id, account_id, scheduled_at, status,
            retry_count, error_log, caption, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.UserID, s.PostID, s.AccountID, dbTime(s.ScheduledAt), s.Status,
		s.RetryCount, s.ErrorLog, s.Caption, dbTime(now), dbTime(now))
	if err != nil {
		return fmt.Errorf("insert schedule: %w", err)
	}
	return nil
}

// CancelSchedule moves a QUEUED entry to CANCELLED.
func (db *DB) CancelSchedule(ctx context.Context, id string) error {
	res, err := db.ExecContext(ctx, `
        UPDATE post_schedules
        SET status = 'CANCELLED', claim_token = '', claimed_until = NULL, updated_at = ?
        WHERE id = ? AND status = 'QUEUED'`, dbTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("cancel schedule %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return nil
	}
	if _, err := db.GetSchedule(ctx, id); err != nil {
		return err
	}
	return ErrNotQueued
}

func (db *DB) ListSchedules(ctx context.Context, f models.ScheduleFilter) ([]*models.ScheduleEntry, error) {
	var (
		where []string
		args  []any
	)
	if f.UserID != "" {
		where = append(where, "s.user_id = ?")
		args = append(args, f.UserID)
	}
	if f.Status != "" {
		where = append(where, "s.status = ?")
		args = append(args, f.Status)
	}

	query := `SELECT ` + scheduleColumns + ` FROM post_schedules s`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY s.scheduled_at DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	defer rows.Close()

	var out []*models.ScheduleEntry
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

type scheduleScan struct {
	s           models.ScheduleEntry
	publishedAt sql.NullTime
	nextAttempt sql.NullTime
}

func (x *scheduleScan) dest() []any {
	return []any{&x.s.ID, &x.s.UserID, &x.s.PostID, &x.s.AccountID, &x.s.ScheduledAt, &x.s.Status,
		&x.s.RetryCount, &x.s.ErrorLog, &x.s.PlatformPostID, &x.publishedAt, &x.s.PlatformResponse,
		&x.s.Caption, &x.nextAttempt, &x.s.CreatedAt, &x.s.UpdatedAt}
}

func (x *scheduleScan) entry() models.ScheduleEntry {
	x.s.PublishedAt = timePtr(x.publishedAt)
	x.s.NextAttemptAt = timePtr(x.nextAttempt)
	x.s.ScheduledAt = x.s.ScheduledAt.UTC()
	return x.s
}

func scanSchedule(r rowScanner) (*models.ScheduleEntry, error) {
	var x scheduleScan
	if err := r.Scan(x.dest()...); err != nil {
		return nil, err
	}
	s := x.entry()
	return &s, nil
}

// scanDueEntry reads the joined row. A post or account that no longer
// exists comes back as NULL columns and leaves the pointer nil.
func scanDueEntry(r rowScanner) (*models.DueEntry, error) {
	var (
		x scheduleScan

		pID, pUser, pSite, pCaption, pImage, pNotes sql.NullString
		pEvergreen                                  sql.NullBool
		pCreated, pUpdated                          sql.NullTime

		aID, aUser, aPlatform, aName, aRemote, aToken sql.NullString
		aExpires, aCreated, aUpdated                  sql.NullTime
		aActive                                       sql.NullBool
	)

	dest := append(x.dest(),
		&pID, &pUser, &pSite, &pCaption, &pImage, &pNotes, &pEvergreen, &pCreated, &pUpdated,
		&aID, &aUser, &aPlatform, &aName, &aRemote, &aToken, &aExpires, &aActive, &aCreated, &aUpdated,
	)
	if err := r.Scan(dest...); err != nil {
		return nil, err
	}

	e := &models.DueEntry{Schedule: x.entry()}
	if pID.Valid {
		e.Post = &models.Post{
			ID:          pID.String,
			UserID:      pUser.String,
			WebsiteID:   pSite.String,
			Caption:     pCaption.String,
			ImageURL:    pImage.String,
			Notes:       pNotes.String,
			IsEvergreen: pEvergreen.Bool,
			CreatedAt:   pCreated.Time,
			UpdatedAt:   pUpdated.Time,
		}
	}
	if aID.Valid {
		e.Account = &models.Account{
			ID:             aID.String,
			UserID:         aUser.String,
			Platform:       aPlatform.String,
			AccountName:    aName.String,
			AccountID:      aRemote.String,
			AccessToken:    aToken.String,
			TokenExpiresAt: timePtr(aExpires),
			IsActive:       aActive.Bool,
			CreatedAt:      aCreated.Time,
			UpdatedAt:      aUpdated.Time,
		}
	}
	return e, nil
}
