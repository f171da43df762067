package api

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/opensource-finance/adscreen/internal/domain"
	"github.com/opensource-finance/adscreen/internal/report"
	"github.com/opensource-finance/adscreen/internal/rules"
	"github.com/opensource-finance/adscreen/internal/table"
	"github.com/opensource-finance/adscreen/internal/worker"
)

// Form fields accepted by the screening endpoints. Threshold fields are
// listed in domain.ThresholdSpecs.
const (
	FieldFile        = "file"
	FieldPrevious    = "file_old"
	FieldIdentifiers = "sku"
	FieldCascade     = "cascade"
)

const multipartMemory = 32 << 20

// Handler holds dependencies for API handlers.
type Handler struct {
	cache      domain.Cache
	bus        domain.EventBus
	engine     *rules.Engine
	thresholds domain.Thresholds
	resultTTL  time.Duration
	maxUpload  int64
	version    string
}

// NewHandler creates a new API handler.
func NewHandler(cache domain.Cache, bus domain.EventBus, engine *rules.Engine, thresholds domain.Thresholds, resultTTL time.Duration, maxUpload int64, version string) *Handler {
	if resultTTL <= 0 {
		resultTTL = 30 * time.Minute
	}
	return &Handler{
		cache:      cache,
		bus:        bus,
		engine:     engine,
		thresholds: thresholds,
		resultTTL:  resultTTL,
		maxUpload:  maxUpload,
		version:    version,
	}
}

// ScreenResponse is the response for POST /screens/{family}.
type ScreenResponse struct {
	RunID    string         `json:"runId"`
	Message  string         `json:"message"`
	Summary  domain.Summary `json:"summary"`
	Download string         `json:"download,omitempty"`
	Metadata struct {
		TraceID string `json:"traceId"`
		TotalMs int64  `json:"totalMs"`
		Version string `json:"version"`
	} `json:"metadata"`
}

// JobResponse is the response for POST /jobs/{family}.
type JobResponse struct {
	RunID    string `json:"runId"`
	Status   string `json:"status"`
	Download string `json:"download"`
}

// FamilyInfo describes one screening family.
type FamilyInfo struct {
	Slug          string `json:"slug"`
	DisplayName   string `json:"displayName"`
	Sheet         string `json:"sheet"`
	NeedsPrevious bool   `json:"needsPrevious"`

	// Row-level families only.
	EntityLevel string   `json:"entityLevel,omitempty"`
	Columns     []string `json:"columns,omitempty"`
	Branches    []string `json:"branches,omitempty"`
}

// Screen handles POST /screens/{family}: runs the screening synchronously
// and stores the result for download.
func (h *Handler) Screen(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()

	job, ok := h.parseJob(w, r)
	if !ok {
		return
	}
	job.RunID = uuid.New().String()

	result, err := worker.Process(ctx, h.engine, job)
	if err != nil {
		writeScreenError(w, job, err)
		return
	}

	resp := ScreenResponse{
		RunID:   result.RunID,
		Message: report.Message(result.Summary),
		Summary: result.Summary,
	}

	if h.cache != nil {
		if err := h.cache.SetResult(ctx, result, h.resultTTL); err != nil {
			slog.Error("failed to store result",
				"run_id", result.RunID,
				"error", err,
			)
			writeError(w, http.StatusInternalServerError, "failed to store result")
			return
		}
		resp.Download = downloadPath(result.RunID)
	}

	resp.Metadata.TraceID = GetTraceID(ctx)
	resp.Metadata.TotalMs = time.Since(start).Milliseconds()
	resp.Metadata.Version = h.version

	writeJSON(w, http.StatusOK, resp)
}

// SubmitJob handles POST /jobs/{family}: queues the screening for a worker.
func (h *Handler) SubmitJob(w http.ResponseWriter, r *http.Request) {
	if h.bus == nil {
		writeError(w, http.StatusServiceUnavailable, "event bus not available")
		return
	}

	job, ok := h.parseJob(w, r)
	if !ok {
		return
	}
	job.RunID = uuid.New().String()

	payload, err := json.Marshal(job)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to encode job")
		return
	}

	if err := h.bus.Publish(r.Context(), domain.TopicScreenRequested, payload); err != nil {
		slog.Error("failed to publish job",
			"run_id", job.RunID,
			"error", err,
		)
		writeError(w, http.StatusServiceUnavailable, "failed to queue job")
		return
	}

	slog.Info("screening job queued",
		"run_id", job.RunID,
		"family", job.Family,
		"input_bytes", len(job.Input),
	)

	writeJSON(w, http.StatusAccepted, JobResponse{
		RunID:    job.RunID,
		Status:   "queued",
		Download: downloadPath(job.RunID),
	})
}

// DownloadResult handles GET /results/{id}: streams the result CSV.
func (h *Handler) DownloadResult(w http.ResponseWriter, r *http.Request) {
	result, ok := h.lookupResult(w, r)
	if !ok {
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", "attachment; filename*=UTF-8''"+url.PathEscape(result.FileName))
	w.Header().Set("Content-Length", strconv.Itoa(len(result.CSV)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.CSV)
}

// GetSummary handles GET /results/{id}/summary.
func (h *Handler) GetSummary(w http.ResponseWriter, r *http.Request) {
	result, ok := h.lookupResult(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, result.Summary)
}

// ListFamilies handles GET /families.
func (h *Handler) ListFamilies(w http.ResponseWriter, r *http.Request) {
	kinds := domain.AllFamilies()
	families := make([]FamilyInfo, 0, len(kinds))
	for _, k := range kinds {
		info := FamilyInfo{
			Slug:          k.String(),
			DisplayName:   k.DisplayName(),
			Sheet:         k.Sheet(),
			NeedsPrevious: k.NeedsPrevious(),
		}
		if fam, ok := h.engine.Family(k); ok {
			info.EntityLevel = fam.EntityLevel
			cols := slices.Clone(fam.RequiredColumns())
			slices.Sort(cols)
			info.Columns = slices.Compact(cols)
			for _, b := range fam.Branches {
				info.Branches = append(info.Branches, b.Name)
			}
		}
		families = append(families, info)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"families": families,
		"count":    len(families),
	})
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	if h.bus != nil {
		if err := h.bus.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// parseJob reads the multipart screening form. On failure it writes the
// error response and returns false.
func (h *Handler) parseJob(w http.ResponseWriter, r *http.Request) (*worker.Job, bool) {
	name, err := url.PathUnescape(chi.URLParam(r, "family"))
	if err != nil {
		writeError(w, http.StatusNotFound, "invalid family")
		return nil, false
	}
	kind, err := domain.ParseFamily(name)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return nil, false
	}

	if h.maxUpload > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "upload too large")
			return nil, false
		}
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return nil, false
	}

	input, fileName, err := readFormFile(r, FieldFile)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}

	previous, _, err := readFormFile(r, FieldPrevious)
	if err != nil && !errors.Is(err, http.ErrMissingFile) {
		writeError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	if kind.NeedsPrevious() && len(previous) == 0 {
		writeError(w, http.StatusBadRequest, rules.ErrMissingPrevious.Error())
		return nil, false
	}

	thresholds, err := domain.ParseThresholds(r.FormValue, h.thresholds)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}

	var cascade bool
	if raw := r.FormValue(FieldCascade); raw != "" {
		cascade, err = strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid %s %q", FieldCascade, raw))
			return nil, false
		}
	}

	return &worker.Job{
		Family:        kind.String(),
		FileName:      fileName,
		Thresholds:    thresholds,
		Identifiers:   domain.ParseIdentifiers(r.FormValue(FieldIdentifiers)),
		CascadeBidCut: cascade,
		Input:         input,
		Previous:      previous,
	}, true
}

func readFormFile(r *http.Request, field string) ([]byte, string, error) {
	f, header, err := r.FormFile(field)
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return nil, "", fmt.Errorf("%s is required: %w", field, err)
		}
		return nil, "", err
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read %s: %w", field, err)
	}
	return data, header.Filename, nil
}

func (h *Handler) lookupResult(w http.ResponseWriter, r *http.Request) (*domain.Result, bool) {
	runID := chi.URLParam(r, "id")
	if runID == "" {
		writeError(w, http.StatusBadRequest, "result id is required")
		return nil, false
	}

	if h.cache == nil {
		writeError(w, http.StatusServiceUnavailable, "result store not available")
		return nil, false
	}

	result, err := h.cache.GetResult(r.Context(), runID)
	if err != nil {
		slog.Error("failed to get result", "id", runID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get result")
		return nil, false
	}
	if result == nil {
		writeError(w, http.StatusNotFound, "result not found")
		return nil, false
	}
	return result, true
}

// writeScreenError maps screening failures to HTTP statuses.
func writeScreenError(w http.ResponseWriter, job *worker.Job, err error) {
	var (
		schemaErr *table.SchemaError
		dateErr   *table.InvalidDateError
		parseErr  *csv.ParseError
	)

	status := http.StatusInternalServerError
	switch {
	case errors.As(err, &schemaErr),
		errors.As(err, &dateErr),
		errors.As(err, &parseErr),
		errors.Is(err, rules.ErrMissingPrevious),
		errors.Is(err, worker.ErrEmptyInput):
		status = http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}

	if status == http.StatusInternalServerError {
		slog.Error("screening failed",
			"family", job.Family,
			"error", err,
		)
		writeError(w, status, "screening failed")
		return
	}
	writeError(w, status, err.Error())
}

func downloadPath(runID string) string {
	return "/results/" + runID
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{
		"error": msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
