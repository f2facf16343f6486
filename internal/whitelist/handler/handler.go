// Package handler wires the whitelist manager to HTTP endpoints.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"gatelist/internal/whitelist/models"
	"gatelist/internal/whitelist/queue"
	"gatelist/internal/whitelist/service"
	dErrors "gatelist/pkg/domain-errors"
	"gatelist/pkg/platform/httputil"
	"gatelist/pkg/requestcontext"
)

// Service is the manager surface the handler depends on.
type Service interface {
	AddByIdentifier(ctx context.Context, name, identifier string, addedBy service.AddedBy, source models.Source, addedAt time.Time) (bool, error)
	AddByNameOnly(ctx context.Context, name string, addedBy service.AddedBy, source models.Source, addedAt time.Time) (bool, error)
	CompleteIdentifier(ctx context.Context, name, identifier string) (bool, error)
	Remove(ctx context.Context, identifier string) (bool, error)
	RemoveByName(ctx context.Context, name string) (bool, error)
	CheckGate(ctx context.Context, name, identifier string) bool
	GetEntry(ctx context.Context, identifier string) (*models.WhitelistEntry, error)
	GetPaginated(ctx context.Context, page, pageSize int, filter models.EntryFilter, sort models.EntrySort) (*models.PaginatedResult[*models.WhitelistEntry], error)
	ExecuteBatch(ctx context.Context, op *models.BatchOperation) (*models.BatchResult, error)
	ScheduleBatch(ctx context.Context, op *models.BatchOperation) bool
	ScheduleAdd(ctx context.Context, name, identifier string) bool
	ScheduleRemove(ctx context.Context, name, identifier string) bool
	ScheduleCompleteIdentifier(ctx context.Context, name, identifier string) bool
	ScheduleFullSync(ctx context.Context) bool
	ReloadCache(ctx context.Context) error
}

// StatsSource exposes queue counters for the stats endpoint.
type StatsSource interface {
	Stats() queue.Stats
}

// Handler wires whitelist endpoints to the manager.
type Handler struct {
	service Service
	stats   StatsSource
	logger  *slog.Logger
}

// New constructs a whitelist handler with its dependencies.
func New(service Service, stats StatsSource, logger *slog.Logger) *Handler {
	return &Handler{
		service: service,
		stats:   stats,
		logger:  logger,
	}
}

// Register mounts whitelist endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Route("/whitelist", func(r chi.Router) {
		r.Post("/entries", h.HandleAdd)
		r.Get("/entries", h.HandleList)
		r.Delete("/entries/{identifier}", h.HandleRemove)
		r.Delete("/entries/name/{name}", h.HandleRemoveByName)
		r.Get("/entries/{identifier}", h.HandleGet)
		r.Post("/entries/name/{name}/identifier", h.HandleCompleteIdentifier)
		r.Get("/check", h.HandleCheck)
		r.Post("/batch", h.HandleBatch)
		r.Post("/sync", h.HandleFullSync)
		r.Post("/cache/reload", h.HandleCacheReload)
		r.Get("/stats", h.HandleStats)
	})
}

// HandleAdd handles POST /whitelist/entries requests.
func (h *Handler) HandleAdd(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	req, err := httputil.Decode[AddEntryRequest](r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	source, err := models.ParseSource(req.Source)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	addedBy := service.AddedBy{Name: req.AddedByName, Identifier: req.AddedByIdentifier}
	now := requestcontext.Now(ctx)

	var applied bool
	if req.Identifier != "" {
		applied, err = h.service.AddByIdentifier(ctx, req.Name, req.Identifier, addedBy, source, now)
	} else {
		applied, err = h.service.AddByNameOnly(ctx, req.Name, addedBy, source, now)
	}
	if err != nil {
		h.logger.ErrorContext(ctx, "whitelist add failed",
			"request_id", requestcontext.RequestID(ctx),
			"name", req.Name,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	if applied {
		h.service.ScheduleAdd(ctx, req.Name, req.Identifier)
	}

	status := http.StatusCreated
	if !applied {
		status = http.StatusOK
	}
	httputil.WriteJSON(w, status, MutationResponse{Applied: applied})
}

// HandleRemove handles DELETE /whitelist/entries/{identifier} requests.
func (h *Handler) HandleRemove(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identifier := chi.URLParam(r, "identifier")

	removed, err := h.service.Remove(ctx, identifier)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if removed {
		h.service.ScheduleRemove(ctx, "", identifier)
	}
	httputil.WriteJSON(w, http.StatusOK, MutationResponse{Applied: removed})
}

// HandleRemoveByName handles DELETE /whitelist/entries/name/{name} requests.
func (h *Handler) HandleRemoveByName(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name := chi.URLParam(r, "name")

	removed, err := h.service.RemoveByName(ctx, name)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if removed {
		h.service.ScheduleRemove(ctx, name, "")
	}
	httputil.WriteJSON(w, http.StatusOK, MutationResponse{Applied: removed})
}

// HandleGet handles GET /whitelist/entries/{identifier} requests.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identifier := chi.URLParam(r, "identifier")

	entry, err := h.service.GetEntry(ctx, identifier)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if entry == nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeNotFound, "entry not found"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromEntry(entry))
}

// HandleCompleteIdentifier handles POST /whitelist/entries/name/{name}/identifier.
func (h *Handler) HandleCompleteIdentifier(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name := chi.URLParam(r, "name")

	req, err := httputil.Decode[CompleteIdentifierRequest](r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	completed, err := h.service.CompleteIdentifier(ctx, name, req.Identifier)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if completed {
		h.service.ScheduleCompleteIdentifier(ctx, name, req.Identifier)
	}
	httputil.WriteJSON(w, http.StatusOK, MutationResponse{Applied: completed})
}

// HandleCheck handles GET /whitelist/check?name=&identifier= requests. It
// returns the gate decision: fallback policy applies when the check cannot be
// resolved, so the endpoint always answers.
func (h *Handler) HandleCheck(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name := r.URL.Query().Get("name")
	identifier := r.URL.Query().Get("identifier")
	if name == "" && identifier == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "name or identifier is required"))
		return
	}

	allowed := h.service.CheckGate(ctx, name, identifier)
	httputil.WriteJSON(w, http.StatusOK, CheckResponse{Whitelisted: allowed})
}

// HandleList handles GET /whitelist/entries requests with filter, sort and
// pagination query parameters.
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	page := parseIntDefault(q.Get("page"), 1)
	pageSize := parseIntDefault(q.Get("page_size"), 20)

	filter := models.EntryFilter{
		NameContains:    q.Get("name"),
		AddedByContains: q.Get("added_by"),
	}
	if raw := q.Get("source"); raw != "" {
		source, err := models.ParseSource(raw)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		filter.Source = source
	}
	if raw := q.Get("added_after"); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInvalidInput, "added_after must be RFC 3339"))
			return
		}
		filter.AddedAfter = ts
	}
	if raw := q.Get("added_before"); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInvalidInput, "added_before must be RFC 3339"))
			return
		}
		filter.AddedBefore = ts
	}

	sort := models.EntrySort{
		Field:     models.SortField(q.Get("sort")),
		Ascending: q.Get("order") == "asc",
	}

	result, err := h.service.GetPaginated(ctx, page, pageSize, filter, sort)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromPage(result))
}

// HandleBatch handles POST /whitelist/batch requests. Deferred batches are
// enqueued as one task; immediate batches apply synchronously and report
// partial failures in the result.
func (h *Handler) HandleBatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	req, err := httputil.Decode[BatchRequest](r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	op, err := req.ToOperation(requestcontext.Now(ctx))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := op.Validate(); err != nil {
		httputil.WriteError(w, err)
		return
	}

	if req.Deferred {
		enqueued := h.service.ScheduleBatch(ctx, op)
		httputil.WriteJSON(w, http.StatusAccepted, ScheduleResponse{Enqueued: enqueued})
		return
	}

	result, err := h.service.ExecuteBatch(ctx, op)
	if err != nil {
		h.logger.ErrorContext(ctx, "batch application failed",
			"request_id", requestcontext.RequestID(ctx),
			"op", op.Op,
			"entries", len(op.Entries),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

// HandleFullSync handles POST /whitelist/sync requests.
func (h *Handler) HandleFullSync(w http.ResponseWriter, r *http.Request) {
	enqueued := h.service.ScheduleFullSync(r.Context())
	httputil.WriteJSON(w, http.StatusAccepted, ScheduleResponse{Enqueued: enqueued})
}

// HandleCacheReload handles POST /whitelist/cache/reload requests.
func (h *Handler) HandleCacheReload(w http.ResponseWriter, r *http.Request) {
	if err := h.service.ReloadCache(r.Context()); err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleStats handles GET /whitelist/stats requests.
func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, h.stats.Stats())
}

func parseIntDefault(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}
