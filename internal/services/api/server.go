package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/NordCoder/Deliverus/internal/domain/notification"
	"github.com/NordCoder/Deliverus/internal/obs"
	"github.com/NordCoder/Deliverus/internal/services/ledger"
	retryscheduler "github.com/NordCoder/Deliverus/internal/services/retry-scheduler"
	"github.com/NordCoder/Deliverus/internal/services/stats"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 20

type Ledger interface {
	LogAttempt(ctx context.Context, req ledger.AttemptRequest, actor notification.Actor) (*notification.Record, error)
	Get(ctx context.Context, id int64) (*notification.Record, error)
	Tracking(ctx context.Context, id int64) ([]*notification.TrackingEntry, error)
	MarkSent(ctx context.Context, id int64, providerResponse map[string]any, actor notification.Actor) (*notification.Record, error)
	MarkDelivered(ctx context.Context, id int64, providerStatus map[string]any, actor notification.Actor) (*notification.Record, error)
	MarkRead(ctx context.Context, id int64, providerStatus map[string]any, actor notification.Actor) (*notification.Record, error)
	MarkFailed(ctx context.Context, id int64, errorMessage string, providerResponse map[string]any, actor notification.Actor) (*notification.Record, error)
	GetHistory(ctx context.Context, subject notification.SubjectRef, f notification.HistoryFilter) (*notification.Page, error)
	ArchiveOldLogs(ctx context.Context, daysOld int) (int, error)
}

type Translator interface {
	Apply(ctx context.Context, id int64, externalStatus string, payload map[string]any, actor notification.Actor) (*notification.Record, error)
}

type Scheduler interface {
	Retry(ctx context.Context, id int64, actor notification.Actor) (*notification.Record, error)
	GetRetryEligible(ctx context.Context, limit int) ([]*notification.Record, error)
	BulkRetry(ctx context.Context, ids []int64, actor notification.Actor) (retryscheduler.BulkResult, error)
}

type Reporter interface {
	Report(ctx context.Context, dr notification.DateRange, topN int) (*stats.Report, error)
}

type Deps struct {
	Ledger     Ledger
	Translator Translator
	Scheduler  Scheduler
	Reporter   Reporter
	Health     obs.HealthFunc
}

type Server struct {
	Deps
	log      *zap.Logger
	validate *validator.Validate
}

func NewServer(d Deps, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{Deps: d, log: log, validate: validator.New(validator.WithRequiredStructEnabled())}
}

// Routes returns the API handler. /metrics and /healthz are mounted next to /v1.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(ActorMiddleware)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/webhooks/status", s.webhookStatus)

		r.Post("/notifications", s.createNotification)
		r.Route("/notifications/{id}", func(r chi.Router) {
			r.Get("/", s.getNotification)
			r.Get("/tracking", s.getTracking)
			r.Post("/sent", s.markSent)
			r.Post("/delivered", s.markDelivered)
			r.Post("/read", s.markRead)
			r.Post("/failed", s.markFailed)
			r.Post("/retry", s.retry)
		})
		r.Get("/subjects/{type}/{id}/notifications", s.history)

		r.Get("/retries/eligible", s.retryEligible)
		r.Post("/retries/bulk", s.bulkRetry)
		r.Post("/maintenance/archive", s.archive)

		r.Get("/stats", s.stats)
		r.Get("/stats/export.xlsx", s.statsExport)
	})

	mm := obs.MetricsMux(s.Health)
	r.Handle("/metrics", mm)
	r.Handle("/healthz", mm)
	return obs.HTTPHandler(r, "deliverus.api")
}

type webhookRequest struct {
	NotificationID int64          `json:"notification_id" validate:"required,gt=0"`
	Status         string         `json:"status" validate:"max=64"`
	ProviderData   map[string]any `json:"provider_data"`
}

func (s *Server) webhookStatus(w http.ResponseWriter, r *http.Request) {
	var req webhookRequest
	if !s.decode(w, r, &req) {
		return
	}
	actor := ActorFrom(r.Context())
	actor.Source = notification.SourceWebhook
	rec, err := s.Translator.Apply(r.Context(), req.NotificationID, req.Status, req.ProviderData, actor)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) createNotification(w http.ResponseWriter, r *http.Request) {
	var req ledger.AttemptRequest
	if !s.decode(w, r, &req) {
		return
	}
	rec, err := s.Ledger.LogAttempt(r.Context(), req, ActorFrom(r.Context()))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) getNotification(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	rec, err := s.Ledger.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) getTracking(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	entries, err := s.Ledger.Tracking(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if entries == nil {
		entries = []*notification.TrackingEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": entries})
}

type transitionRequest struct {
	ProviderData map[string]any `json:"provider_data"`
	ErrorMessage string         `json:"error_message" validate:"max=2000"`
}

type transitionFunc func(ctx context.Context, id int64, req transitionRequest, actor notification.Actor) (*notification.Record, error)

func (s *Server) transition(w http.ResponseWriter, r *http.Request, fn transitionFunc) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	var req transitionRequest
	if r.ContentLength != 0 && !s.decode(w, r, &req) {
		return
	}
	rec, err := fn(r.Context(), id, req, ActorFrom(r.Context()))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) markSent(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, func(ctx context.Context, id int64, req transitionRequest, a notification.Actor) (*notification.Record, error) {
		return s.Ledger.MarkSent(ctx, id, req.ProviderData, a)
	})
}

func (s *Server) markDelivered(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, func(ctx context.Context, id int64, req transitionRequest, a notification.Actor) (*notification.Record, error) {
		return s.Ledger.MarkDelivered(ctx, id, req.ProviderData, a)
	})
}

func (s *Server) markRead(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, func(ctx context.Context, id int64, req transitionRequest, a notification.Actor) (*notification.Record, error) {
		return s.Ledger.MarkRead(ctx, id, req.ProviderData, a)
	})
}

func (s *Server) markFailed(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, func(ctx context.Context, id int64, req transitionRequest, a notification.Actor) (*notification.Record, error) {
		msg := req.ErrorMessage
		if msg == "" {
			msg = "Delivery failed"
		}
		return s.Ledger.MarkFailed(ctx, id, msg, req.ProviderData, a)
	})
}

func (s *Server) retry(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, func(ctx context.Context, id int64, _ transitionRequest, a notification.Actor) (*notification.Record, error) {
		return s.Scheduler.Retry(ctx, id, a)
	})
}

func (s *Server) history(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := notification.HistoryFilter{
		Page:     atoiOr(q.Get("page"), 1),
		PageSize: atoiOr(q.Get("page_size"), notification.DefaultPageSize),
	}
	if v := q.Get("channel"); v != "" {
		ch := notification.Channel(v)
		f.Channel = &ch
	}
	if v := q.Get("status"); v != "" {
		st := notification.Status(v)
		f.Status = &st
	}
	var err error
	if f.CreatedAfter, err = parseTime(q.Get("created_after")); err != nil {
		s.writeError(w, r, err)
		return
	}
	if f.CreatedBefore, err = parseTime(q.Get("created_before")); err != nil {
		s.writeError(w, r, err)
		return
	}

	subject := notification.SubjectRef{Type: chi.URLParam(r, "type"), ID: chi.URLParam(r, "id")}
	page, err := s.Ledger.GetHistory(r.Context(), subject, f)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) retryEligible(w http.ResponseWriter, r *http.Request) {
	recs, err := s.Scheduler.GetRetryEligible(r.Context(), atoiOr(r.URL.Query().Get("limit"), 0))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if recs == nil {
		recs = []*notification.Record{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": recs})
}

type bulkRetryRequest struct {
	IDs []int64 `json:"ids" validate:"required,min=1,max=1000,dive,gt=0"`
}

type bulkRetryResponse struct {
	retryscheduler.BulkResult
	Errors string `json:"errors,omitempty"`
}

func (s *Server) bulkRetry(w http.ResponseWriter, r *http.Request) {
	var req bulkRetryRequest
	if !s.decode(w, r, &req) {
		return
	}
	res, err := s.Scheduler.BulkRetry(r.Context(), req.IDs, ActorFrom(r.Context()))
	out := bulkRetryResponse{BulkResult: res}
	if err != nil {
		s.log.Warn("bulk retry partial failure", zap.Int("skipped", res.Skipped), zap.Error(err))
		out.Errors = err.Error()
	}
	writeJSON(w, http.StatusOK, out)
}

type archiveRequest struct {
	DaysOld int `json:"days_old" validate:"required,gte=1"`
}

func (s *Server) archive(w http.ResponseWriter, r *http.Request) {
	var req archiveRequest
	if !s.decode(w, r, &req) {
		return
	}
	n, err := s.Ledger.ArchiveOldLogs(r.Context(), req.DaysOld)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"deleted": n})
}

func (s *Server) report(r *http.Request) (*stats.Report, error) {
	q := r.URL.Query()
	var (
		dr  notification.DateRange
		err error
	)
	if dr.From, err = parseTime(q.Get("from")); err != nil {
		return nil, err
	}
	if dr.To, err = parseTime(q.Get("to")); err != nil {
		return nil, err
	}
	return s.Reporter.Report(r.Context(), dr, atoiOr(q.Get("top"), 0))
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	rep, err := s.report(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) statsExport(w http.ResponseWriter, r *http.Request) {
	rep, err := s.report(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	data, err := stats.ExportXLSX(rep)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="deliverus-stats.xlsx"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		s.writeError(w, r, fmt.Errorf("%w: malformed body: %v", notification.ErrInvalidArgument, err))
		return false
	}
	if err := s.validate.Struct(v); err != nil {
		s.writeError(w, r, fmt.Errorf("%w: %v", notification.ErrInvalidArgument, err))
		return false
	}
	return true
}

func (s *Server) pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		s.writeError(w, r, fmt.Errorf("%w: bad id %q", notification.ErrInvalidArgument, chi.URLParam(r, "id")))
		return 0, false
	}
	return id, true
}

func atoiOr(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func parseTime(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, fmt.Errorf("%w: bad time %q", notification.ErrInvalidArgument, s)
	}
	t = t.UTC()
	return &t, nil
}
