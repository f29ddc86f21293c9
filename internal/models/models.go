package models

import "time"

// Website is a brand the user publishes for. LogoURL doubles as the
// watermark source for processed images.
type Website struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	Name         string    `json:"name"`
	URL          string    `json:"url"`
	Description  string    `json:"description,omitempty"`
	LogoURL      string    `json:"logo_url,omitempty"`
	PrimaryColor string    `json:"primary_color,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Account is a connected social identity (a destination).
type Account struct {
	ID             string     `json:"id"`
	UserID         string     `json:"user_id"`
	Platform       string     `json:"platform"`
	AccountName    string     `json:"account_name"`
	AccountID      string     `json:"account_id"`
	AccessToken    string     `json:"-"`
	TokenExpiresAt *time.Time `json:"token_expires_at,omitempty"`
	IsActive       bool       `json:"is_active"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// TokenExpiresWithin reports whether the access token expires before now+window.
// Accounts without a known expiry never report true.
func (a *Account) TokenExpiresWithin(now time.Time, window time.Duration) bool {
	if a.TokenExpiresAt == nil {
		return false
	}
	return a.TokenExpiresAt.Before(now.Add(window))
}

// Post is a piece of content. Caption is the raw template and may carry
// variation groups.
type Post struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	WebsiteID   string    `json:"website_id,omitempty"`
	Caption     string    `json:"caption"`
	ImageURL    string    `json:"image_url,omitempty"`
	Notes       string    `json:"notes,omitempty"`
	IsEvergreen bool      `json:"is_evergreen"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ScheduleEntry is one (post, account, time) triple and its publish state.
type ScheduleEntry struct {
	ID               string     `json:"id"`
	UserID           string     `json:"user_id"`
	PostID           string     `json:"post_id"`
	AccountID        string     `json:"account_id"`
	ScheduledAt      time.Time  `json:"scheduled_at"`
	Status           string     `json:"status"`
	RetryCount       int        `json:"retry_count"`
	ErrorLog         string     `json:"error_log,omitempty"`
	PlatformPostID   string     `json:"platform_post_id,omitempty"`
	PublishedAt      *time.Time `json:"published_at,omitempty"`
	PlatformResponse string     `json:"platform_response,omitempty"`
	Caption          string     `json:"caption,omitempty"`
	NextAttemptAt    *time.Time `json:"next_attempt_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// DueEntry is a schedule entry joined with the post and account it refers
// to. Post or Account is nil when the referenced row no longer exists.
type DueEntry struct {
	Schedule ScheduleEntry
	Post     *Post
	Account  *Account
}

// Platform returns the destination platform, or "unknown" when the account
// could not be resolved.
func (d *DueEntry) Platform() string {
	if d.Account == nil || d.Account.Platform == "" {
		return "unknown"
	}
	return d.Account.Platform
}

// JobDetail is the per-entry row of a job summary.
type JobDetail struct {
	ScheduleID string `json:"scheduleId"`
	Platform   string `json:"platform"`
	Status     string `json:"status"`
	PostID     string `json:"postId,omitempty"`
	Error      string `json:"error,omitempty"`
	RetryCount int    `json:"retryCount,omitempty"`
	Warning    string `json:"warning,omitempty"`
}

// JobSummary is what one publish run returns to its trigger.
type JobSummary struct {
	Processed        int         `json:"processed"`
	Success          int         `json:"success"`
	Failed           int         `json:"failed"`
	Retrying         int         `json:"retrying"`
	Recycled         int         `json:"recycled"`
	Message          string      `json:"message,omitempty"`
	Details          []JobDetail `json:"details"`
	Websites         []string    `json:"websites,omitempty"`
	ExpiringAccounts []string    `json:"expiringAccounts,omitempty"`
	ExecutionTimeMS  int64       `json:"executionTime"`
	Timestamp        time.Time   `json:"timestamp"`
}

// Add records an entry outcome and bumps the matching counter.
func (s *JobSummary) Add(d JobDetail) {
	switch d.Status {
	case OutcomeSuccess:
		s.Success++
	case OutcomeFailed:
		s.Failed++
	case OutcomeRetrying:
		s.Retrying++
	}
	s.Processed++
	s.Details = append(s.Details, d)
}

// AddRecycled records the recycler row. It does not count as a processed entry.
func (s *JobSummary) AddRecycled() {
	s.Recycled++
	s.Details = append(s.Details, JobDetail{
		ScheduleID: RecycleDetailID,
		Platform:   RecycleDetailPlatform,
		Status:     OutcomeSuccess,
		Error:      RecycleDetailMessage,
	})
}

// Failures returns the failed detail rows.
func (s *JobSummary) Failures() []JobDetail {
	return s.filter(OutcomeFailed)
}

// Retries returns the retrying detail rows.
func (s *JobSummary) Retries() []JobDetail {
	return s.filter(OutcomeRetrying)
}

func (s *JobSummary) filter(status string) []JobDetail {
	var out []JobDetail
	for _, d := range s.Details {
		if d.Status == status && d.ScheduleID != RecycleDetailID {
			out = append(out, d)
		}
	}
	return out
}

// ScheduleFilter narrows schedule listings. Zero fields do not filter.
type ScheduleFilter struct {
	UserID string
	Status string
	Limit  int
}

// DeadLetter records an entry that reached FAILED, for operator follow-up.
type DeadLetter struct {
	ScheduleID string    `json:"schedule_id"`
	PostID     string    `json:"post_id"`
	AccountID  string    `json:"account_id"`
	UserID     string    `json:"user_id"`
	Platform   string    `json:"platform"`
	Error      string    `json:"error"`
	ErrorType  string    `json:"error_type"`
	RetryCount int       `json:"retry_count"`
	FailedAt   time.Time `json:"failed_at"`
}
