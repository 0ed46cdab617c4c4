package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/paper-harvester/internal/progress/sinks"
	"github.com/JakeFAU/paper-harvester/internal/scheduler"
)

const progressTimeout = 3 * time.Second

// CatalogCounter reports how many documents of each year are already persisted.
type CatalogCounter interface {
	CountByYear(ctx context.Context) (map[string]int, error)
}

// Sources feed the progress endpoints. Any of them may be nil.
type Sources struct {
	// Run returns the live summary of the pass in progress.
	Run       func() any
	Tally     *sinks.TallySink
	Scheduler func() scheduler.Stats
	// Dropped reports progress events lost to a full buffer.
	Dropped func() int64
	Catalog CatalogCounter
}

// ProgressHandler exposes read-only run progress endpoints.
type ProgressHandler struct {
	src     Sources
	timeout time.Duration
	logger  *zap.Logger
}

// NewProgressHandler wires the sources and logger.
func NewProgressHandler(src Sources, logger *zap.Logger) *ProgressHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProgressHandler{
		src:     src,
		timeout: progressTimeout,
		logger:  logger,
	}
}

// Run handles GET /progress. It returns {"run", "events", "scheduler",
// "events_dropped"}, omitting whatever source is not configured.
func (h *ProgressHandler) Run(w http.ResponseWriter, _ *http.Request) {
	body := map[string]any{}
	if h.src.Run != nil {
		body["run"] = h.src.Run()
	}
	if h.src.Tally != nil {
		body["events"] = h.src.Tally.Snapshot()
	}
	if h.src.Scheduler != nil {
		body["scheduler"] = h.src.Scheduler()
	}
	if h.src.Dropped != nil {
		body["events_dropped"] = h.src.Dropped()
	}
	writeJSON(w, http.StatusOK, body)
}

// Year handles GET /progress/years/{year}. It returns {"year", "tally"} on
// success, 404 for a year no event has mentioned, or 503 without a tally.
func (h *ProgressHandler) Year(w http.ResponseWriter, r *http.Request) {
	if h.src.Tally == nil {
		writeError(w, http.StatusServiceUnavailable, "progress tally unavailable")
		return
	}
	year := chi.URLParam(r, "year")
	tally, ok := h.src.Tally.Snapshot().Years[year]
	if !ok {
		writeError(w, http.StatusNotFound, "year not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"year": year, "tally": tally})
}

// Catalog handles GET /progress/catalog. It returns {"persisted": {year: n}},
// 503 when no catalog is configured, or 500 if the query fails.
func (h *ProgressHandler) Catalog(w http.ResponseWriter, r *http.Request) {
	if h.src.Catalog == nil {
		writeError(w, http.StatusServiceUnavailable, "catalog unavailable")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	counts, err := h.src.Catalog.CountByYear(ctx)
	if err != nil {
		h.logger.Error("count catalog failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to count catalog")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"persisted": counts})
}
