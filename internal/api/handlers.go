package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"liguns/internal/ai"
	"liguns/internal/database"
	"liguns/internal/meta"
	"liguns/internal/models"
	"liguns/internal/service"
	"liguns/internal/worker"

	"github.com/rs/zerolog"
)

const maxBodyBytes = 1 << 20

func (s *HTTPServer) handleCron(w http.ResponseWriter, r *http.Request) {
	if s.deps.Job == nil {
		writeError(w, http.StatusServiceUnavailable, "publish job not configured")
		return
	}

	summary, err := s.deps.Job.Run(worker.WithTrigger(r.Context(), "cron"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *HTTPServer) handlePublishNow(w http.ResponseWriter, r *http.Request) {
	if s.deps.Job == nil {
		writeError(w, http.StatusServiceUnavailable, "publish job not configured")
		return
	}

	id := r.PathValue("id")
	if owner := s.boundUser(r); owner != "" {
		if _, err := s.deps.Scheduling.Get(r.Context(), owner, id); err != nil {
			s.writeServiceError(w, r, err)
			return
		}
	}

	res, err := s.deps.Job.PublishNow(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	status := http.StatusOK
	if !res.Success {
		status = http.StatusBadGateway
	}
	writeJSON(w, status, res)
}

type scheduleBody struct {
	UserID      string   `json:"user_id"`
	WebsiteIDs  []string `json:"website_ids"`
	AccountIDs  []string `json:"account_ids"`
	Caption     string   `json:"caption"`
	ImageURL    string   `json:"image_url"`
	Notes       string   `json:"notes"`
	ScheduledAt string   `json:"scheduled_at"`
	IsEvergreen bool     `json:"is_evergreen"`
}

func (s *HTTPServer) handleSchedule(w http.ResponseWriter, r *http.Request) {
	var body scheduleBody
	if !decodeBody(w, r, &body) {
		return
	}

	req := service.ScheduleRequest{
		UserID:      s.userID(r, body.UserID),
		WebsiteIDs:  body.WebsiteIDs,
		AccountIDs:  body.AccountIDs,
		Caption:     body.Caption,
		ImageURL:    body.ImageURL,
		Notes:       body.Notes,
		IsEvergreen: body.IsEvergreen,
	}
	if body.ScheduledAt != "" {
		at, err := s.parseTime(body.ScheduledAt)
		if err != nil {
			writeError(w, http.StatusBadRequest, "scheduled_at must be RFC 3339 or \"2006-01-02 15:04\"")
			return
		}
		req.ScheduledAt = at
	}

	res, err := s.deps.Scheduling.Schedule(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// parseTime accepts RFC 3339, or a wall-clock time in the display zone.
func (s *HTTPServer) parseTime(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	return time.ParseInLocation("2006-01-02 15:04", raw, s.deps.Location)
}

func (s *HTTPServer) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.deps.Scheduling.Cancel(r.Context(), s.boundUser(r), id); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": models.StatusCancelled})
}

func (s *HTTPServer) scheduleFilter(r *http.Request) models.ScheduleFilter {
	q := r.URL.Query()
	f := models.ScheduleFilter{
		UserID: s.userID(r, q.Get("user_id")),
		Status: strings.ToUpper(strings.TrimSpace(q.Get("status"))),
	}
	if n, err := strconv.Atoi(q.Get("limit")); err == nil && n > 0 {
		f.Limit = n
	}
	return f
}

func (s *HTTPServer) handleListSchedules(w http.ResponseWriter, r *http.Request) {
	entries, err := s.deps.Scheduling.List(r.Context(), s.scheduleFilter(r))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if entries == nil {
		entries = []*models.ScheduleEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"schedules": entries})
}

func (s *HTTPServer) handleCreateWebsite(w http.ResponseWriter, r *http.Request) {
	var site models.Website
	if !decodeBody(w, r, &site) {
		return
	}
	site.ID = ""
	site.UserID = s.userID(r, site.UserID)
	if err := s.deps.Scheduling.CreateWebsite(r.Context(), &site); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, site)
}

type accountBody struct {
	UserID         string     `json:"user_id"`
	Platform       string     `json:"platform"`
	AccountName    string     `json:"account_name"`
	AccountID      string     `json:"account_id"`
	AccessToken    string     `json:"access_token"`
	TokenExpiresAt *time.Time `json:"token_expires_at"`
	IsActive       *bool      `json:"is_active"`
}

func (s *HTTPServer) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	var body accountBody
	if !decodeBody(w, r, &body) {
		return
	}
	acc := &models.Account{
		UserID:         s.userID(r, body.UserID),
		Platform:       strings.ToLower(strings.TrimSpace(body.Platform)),
		AccountName:    body.AccountName,
		AccountID:      body.AccountID,
		AccessToken:    body.AccessToken,
		TokenExpiresAt: body.TokenExpiresAt,
		IsActive:       body.IsActive == nil || *body.IsActive,
	}
	if err := s.deps.Scheduling.CreateAccount(r.Context(), acc); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, acc)
}

func (s *HTTPServer) handleCreatePost(w http.ResponseWriter, r *http.Request) {
	var post models.Post
	if !decodeBody(w, r, &post) {
		return
	}
	post.ID = ""
	post.UserID = s.userID(r, post.UserID)
	if err := s.deps.Scheduling.CreatePost(r.Context(), &post); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, post)
}

func (s *HTTPServer) handlePreview(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Caption string `json:"caption"`
		Count   int    `json:"count"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	p, err := s.deps.Captions.Preview(body.Caption, body.Count)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *HTTPServer) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req service.DraftRequest
	if !decodeBody(w, r, &req) {
		return
	}
	req.UserID = s.userID(r, req.UserID)

	text, err := s.deps.Captions.Draft(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"caption": text})
}

func (s *HTTPServer) handleDeadLetters(w http.ResponseWriter, r *http.Request) {
	if s.deps.DeadLetters == nil {
		writeJSON(w, http.StatusOK, map[string]any{"dead_letters": []any{}})
		return
	}
	limit := 100
	if n, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && n > 0 {
		limit = n
	}
	owner := s.boundUser(r)
	fetch := limit
	if owner != "" {
		fetch = 0
	}
	all, err := s.deps.DeadLetters.DeadLetters(r.Context(), fetch)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	items := make([]*models.DeadLetter, 0, len(all))
	for _, dl := range all {
		if owner != "" && dl.UserID != owner {
			continue
		}
		items = append(items, dl)
		if len(items) == limit {
			break
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"dead_letters": items})
}

// boundUser is the user the API key is restricted to, or "" for keys that
// may act on every user's data.
func (s *HTTPServer) boundUser(r *http.Request) string {
	if c, ok := clientFrom(r.Context()); ok {
		return c.UserID
	}
	return ""
}

// userID prefers the user bound to the API key over the one in the request.
func (s *HTTPServer) userID(r *http.Request, requested string) string {
	if owner := s.boundUser(r); owner != "" {
		return owner
	}
	return strings.TrimSpace(requested)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// writeServiceError maps domain errors onto status codes. Messages are
// passed through unchanged so callers see the raw cause.
func (s *HTTPServer) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		metaValidation *meta.ValidationError
		infra          *worker.InfrastructureError
	)
	switch {
	case service.IsValidation(err), errors.As(err, &metaValidation), errors.Is(err, service.ErrNothingScheduled):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, database.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, database.ErrNotQueued), errors.Is(err, worker.ErrEntryBusy), errors.Is(err, worker.ErrRunInProgress):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, ai.ErrNotConfigured):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.As(err, &infra):
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("infrastructure failure")
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		zerolog.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
