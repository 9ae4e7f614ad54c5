package deferralhttp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"
	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/deferrals/internal/accounting"
	"github.com/odyssey-erp/deferrals/internal/deferral"
	"github.com/odyssey-erp/deferrals/internal/platform/httpx"
	"github.com/odyssey-erp/deferrals/internal/shared"
	"github.com/odyssey-erp/deferrals/jobs"
)

// ActorHeader carries the acting user id.
const ActorHeader = "X-Actor-ID"

// IdempotencyHeader deduplicates generation requests.
const IdempotencyHeader = "Idempotency-Key"

const idempotencyModule = "deferral.generate"

// Service is the deferral behaviour exposed over HTTP.
type Service interface {
	Settings(ctx context.Context, companyID int64) (deferral.Settings, error)
	Preview(ctx context.Context, dir deferral.Direction, settings deferral.Settings, lines []deferral.Line) (deferral.Result, error)
	Generate(ctx context.Context, req deferral.GenerateRequest) (deferral.GenerateSummary, error)
	Cancel(ctx context.Context, req deferral.CancelRequest) (deferral.CancelSummary, error)
	Report(ctx context.Context, req deferral.ReportRequest) (deferral.Report, error)
}

// Enqueuer submits background generation.
type Enqueuer interface {
	EnqueueDeferralGenerate(ctx context.Context, payload jobs.DeferralGeneratePayload) (*asynq.TaskInfo, error)
}

// IdempotencyStore records processed request keys.
type IdempotencyStore interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key, module string) error
}

// Config collects handler dependencies. Jobs and Idempotency are optional.
type Config struct {
	Logger      *slog.Logger
	Service     Service
	Jobs        Enqueuer
	Idempotency IdempotencyStore
	// ReportLimit is the number of report requests allowed per minute per client.
	ReportLimit int
}

// Handler wires deferral JSON endpoints.
type Handler struct {
	logger      *slog.Logger
	service     Service
	jobs        Enqueuer
	idempotency IdempotencyStore
	validate    *validator.Validate
	rateLimit   func(http.Handler) http.Handler
}

// NewHandler constructs the handler.
func NewHandler(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	limit := cfg.ReportLimit
	if limit <= 0 {
		limit = 30
	}
	limiter := httprate.Limit(limit, time.Minute,
		httprate.WithKeyFuncs(rateLimitKey),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			httpx.Problem(w, http.StatusTooManyRequests, "Too Many Requests", "report rate limit exceeded")
		}),
	)
	return &Handler{
		logger:      logger,
		service:     cfg.Service,
		jobs:        cfg.Jobs,
		idempotency: cfg.Idempotency,
		validate:    validator.New(),
		rateLimit:   limiter,
	}
}

// MountRoutes registers deferral routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/deferrals", func(r chi.Router) {
		r.Post("/preview", h.handlePreview)
		r.Post("/generate", h.handleGenerate)
		r.Post("/lines/{id}/cancel", h.handleCancel)
		r.Group(func(gr chi.Router) {
			gr.Use(h.rateLimit)
			gr.Get("/report", h.handleReport)
		})
	})
}

func (h *Handler) handlePreview(w http.ResponseWriter, r *http.Request) {
	var req PreviewReq
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.validationProblem(w, err)
		return
	}
	lines := make([]deferral.Line, 0, len(req.Lines))
	for _, l := range req.Lines {
		line, err := l.toDomain()
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
			return
		}
		lines = append(lines, line)
	}
	dir := deferral.Direction(req.Direction)
	settings := deferral.Settings{CompanyID: req.CompanyID}
	if req.CompanyID > 0 {
		stored, err := h.service.Settings(r.Context(), req.CompanyID)
		if err != nil {
			h.writeError(w, err)
			return
		}
		settings = stored
	}
	result, err := h.service.Preview(r.Context(), dir, req.applyOverrides(settings, dir), lines)
	if err != nil {
		h.writeError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, fromResult(result))
}

func (h *Handler) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req GenerateReq
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.validationProblem(w, err)
		return
	}
	key := strings.TrimSpace(r.Header.Get(IdempotencyHeader))
	if key != "" && h.idempotency != nil {
		if err := h.idempotency.CheckAndInsert(r.Context(), key, idempotencyModule); err != nil {
			h.writeError(w, err)
			return
		}
	}
	actor := actorID(r)
	if r.URL.Query().Get("sync") == "1" || h.jobs == nil {
		summary, err := h.service.Generate(r.Context(), deferral.GenerateRequest{
			CompanyID: req.CompanyID,
			Direction: deferral.Direction(req.Direction),
			LineIDs:   req.LineIDs,
			ActorID:   actor,
		})
		if err != nil {
			h.releaseKey(r.Context(), key)
			h.writeError(w, err)
			return
		}
		httpx.JSON(w, http.StatusOK, summary)
		return
	}
	info, err := h.jobs.EnqueueDeferralGenerate(r.Context(), jobs.DeferralGeneratePayload{
		CompanyID: req.CompanyID,
		Direction: req.Direction,
		LineIDs:   req.LineIDs,
		ActorID:   actor,
	})
	if err != nil {
		h.releaseKey(r.Context(), key)
		h.logger.Error("enqueue deferral generate", slog.Int64("company_id", req.CompanyID), slog.Any("error", err))
		httpx.Problem(w, http.StatusServiceUnavailable, "Queue Unavailable", "could not enqueue deferral generation")
		return
	}
	resp := GenerateQueuedResp{Queue: jobs.QueueDefault}
	if info != nil {
		resp.TaskID = info.ID
		resp.Queue = info.Queue
	}
	httpx.JSON(w, http.StatusAccepted, resp)
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	lineID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || lineID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "line id must be a positive integer")
		return
	}
	var req CancelReq
	if r.ContentLength != 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
			return
		}
	}
	if err := h.validate.Struct(req); err != nil {
		h.validationProblem(w, err)
		return
	}
	summary, err := h.service.Cancel(r.Context(), deferral.CancelRequest{
		OriginLineID: lineID,
		ActorID:      actorID(r),
		Reason:       req.Reason,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, summary)
}

func (h *Handler) handleReport(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := ReportQuery{
		Direction: strings.TrimSpace(q.Get("direction")),
		From:      strings.TrimSpace(q.Get("from")),
		To:        strings.TrimSpace(q.Get("to")),
	}
	if raw := strings.TrimSpace(q.Get("company_id")); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "company_id must be an integer")
			return
		}
		query.CompanyID = id
	}
	if err := h.validate.Struct(query); err != nil {
		h.validationProblem(w, err)
		return
	}
	from, _ := time.Parse(dateLayout, query.From)
	to, _ := time.Parse(dateLayout, query.To)
	req := deferral.ReportRequest{
		CompanyID: query.CompanyID,
		Direction: deferral.Direction(query.Direction),
		From:      from,
		To:        to,
	}
	key := fmt.Sprintf("%d:%s:%s:%s", req.CompanyID, req.Direction, query.From, query.To)
	val, err, _ := singleflightReport(r.Context(), key, func(ctx context.Context) (interface{}, error) {
		return h.service.Report(ctx, req)
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, val)
}

func (h *Handler) releaseKey(ctx context.Context, key string) {
	if key == "" || h.idempotency == nil {
		return
	}
	if err := h.idempotency.Delete(ctx, key, idempotencyModule); err != nil {
		h.logger.Warn("release idempotency key", slog.String("key", key), slog.Any("error", err))
	}
}

func (h *Handler) validationProblem(w http.ResponseWriter, err error) {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	msgs := make([]string, 0, len(verrs))
	for _, fieldErr := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %s", fieldErr.Namespace(), fieldErr.Tag()))
	}
	httpx.Problem(w, http.StatusBadRequest, "Validation Failed", strings.Join(msgs, "; "))
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, deferral.ErrMissingConfig):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Deferral Not Configured", err.Error())
	case errors.Is(err, deferral.ErrInvalidRequest),
		errors.Is(err, deferral.ErrInvalidDirection),
		errors.Is(err, deferral.ErrInvalidMethod),
		errors.Is(err, deferral.ErrInvalidRange):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, deferral.ErrLineNotFound), errors.Is(err, accounting.ErrJournalNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, deferral.ErrNotDeferred),
		errors.Is(err, accounting.ErrSourceAlreadyLinked),
		errors.Is(err, shared.ErrIdempotencyConflict):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, accounting.ErrInvalidPeriod),
		errors.Is(err, accounting.ErrPeriodLocked),
		errors.Is(err, accounting.ErrDateOutOfRange):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Period Not Postable", err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		httpx.Problem(w, http.StatusServiceUnavailable, "Request Cancelled", "")
	default:
		h.logger.Error("deferral request failed", slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}

func actorID(r *http.Request) int64 {
	id, err := strconv.ParseInt(strings.TrimSpace(r.Header.Get(ActorHeader)), 10, 64)
	if err != nil || id < 0 {
		return 0
	}
	return id
}

func rateLimitKey(r *http.Request) (string, error) {
	if actor := strings.TrimSpace(r.Header.Get(ActorHeader)); actor != "" {
		return "actor:" + actor, nil
	}
	key, err := httprate.KeyByIP(r)
	if err != nil {
		return "", err
	}
	return "ip:" + key, nil
}
