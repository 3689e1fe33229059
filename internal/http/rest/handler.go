package rest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/okaera/samplesync/internal/logctx"
	"github.com/okaera/samplesync/internal/samples"
	"github.com/okaera/samplesync/internal/storage"
	"github.com/okaera/samplesync/internal/telemetry"
	"github.com/okaera/samplesync/internal/transfer"
)

// maxUploadSize caps the upload request body. A full collection is a
// few megabytes of JSON.
const maxUploadSize = 32 * 1024 * 1024

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// Service is what the REST layer needs from the orchestrator.
type Service interface {
	CheckDeviceSampleSupport(ctx context.Context) (*transfer.SupportStatus, error)
	DownloadDeviceSamples(ctx context.Context) (samples.Collection, error)
	UploadDeviceSamples(ctx context.Context, collection samples.Collection) error
	UploadDeviceDefaultSamples(ctx context.Context) error
	InitialiseDeviceSamples(ctx context.Context) error
	WaitForUploadToFinish(ctx context.Context) error
	ResetSnapshot()
	Store() *transfer.Store
}

type StatusResponse struct {
	Device   transfer.Snapshot                  `json:"device"`
	Channels map[string]transfer.OperationState `json:"channels"`
}

type DownloadResponse struct {
	Samples samples.Collection `json:"samples"`
}

type UploadRequest struct {
	Samples samples.Collection `json:"samples"`
}

type AckResponse struct {
	Result string `json:"result"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type HistoryEntry struct {
	Operation  string `json:"operation"`
	Status     string `json:"status"`
	Message    string `json:"message,omitempty"`
	DurationMS int64  `json:"duration_ms"`
	StartedAt  string `json:"started_at"`
}

type HistoryResponse struct {
	Operations []HistoryEntry `json:"operations"`
}

type Handler struct {
	username  string
	password  string
	svc       Service
	journal   storage.JournalReadRepository
	telemetry *telemetry.Telemetry
}

// NewHandler creates a new device API handler.
func NewHandler(username, password string, svc Service, journal storage.JournalReadRepository, t *telemetry.Telemetry) *Handler {
	return &Handler{
		username:  username,
		password:  password,
		svc:       svc,
		journal:   journal,
		telemetry: t,
	}
}

func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(h.basicAuthMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", h.HandleStatus)
		r.Get("/history", h.HandleHistory)
		r.Post("/probe", h.HandleProbe)
		r.Post("/download", h.HandleDownload)
		r.Post("/upload", h.HandleUpload)
		r.Post("/upload-defaults", h.HandleUploadDefaults)
		r.Post("/initialise", h.HandleInitialise)
		r.Post("/wait", h.HandleWait)
		r.Post("/reset", h.HandleReset)
	})

	return r
}

// HandleStatus reports the cached device snapshot and channel states.
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	store := h.svc.Store()

	resp := StatusResponse{
		Device:   store.Snapshot(),
		Channels: map[string]transfer.OperationState{},
	}
	for _, ch := range []transfer.Channel{transfer.ChannelProbe, transfer.ChannelDownload, transfer.ChannelUpload} {
		resp.Channels[ch.String()] = store.ChannelState(ch)
	}

	h.writeJSON(w, r, http.StatusOK, resp)
}

// HandleHistory reports recent settled operations from the journal.
func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	if h.journal == nil {
		http.Error(w, "history not available", http.StatusNotFound)

		return
	}

	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			http.Error(w, "invalid limit", http.StatusBadRequest)

			return
		}

		limit = parsed
	}

	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	records, err := h.journal.GetRecent(limit)
	if err != nil {
		logctx.LoggerFromContext(r.Context()).Error("failed to read journal", "err", err)
		http.Error(w, "failed to read journal", http.StatusInternalServerError)

		return
	}

	resp := HistoryResponse{Operations: make([]HistoryEntry, len(records))}
	for i, rec := range records {
		resp.Operations[i] = HistoryEntry{
			Operation:  rec.Operation,
			Status:     rec.Status,
			Message:    rec.Message,
			DurationMS: rec.DurationMS,
			StartedAt:  rec.StartedAt,
		}
	}

	h.writeJSON(w, r, http.StatusOK, resp)
}

// HandleProbe runs the support probe and reports the result.
func (h *Handler) HandleProbe(w http.ResponseWriter, r *http.Request) {
	logger := logctx.LoggerFromContext(r.Context())
	logger.Debug("received probe request")

	status, err := h.svc.CheckDeviceSampleSupport(r.Context())
	if err != nil {
		h.respondError(w, r, err)

		return
	}

	h.writeJSON(w, r, http.StatusOK, status)
}

// HandleDownload reads the collection off the device and returns it.
func (h *Handler) HandleDownload(w http.ResponseWriter, r *http.Request) {
	logger := logctx.LoggerFromContext(r.Context())
	logger.Debug("received download request")

	collection, err := h.svc.DownloadDeviceSamples(r.Context())
	if err != nil {
		h.respondError(w, r, err)

		return
	}

	h.writeJSON(w, r, http.StatusOK, DownloadResponse{Samples: collection})
}

// HandleUpload writes the submitted collection to the device.
func (h *Handler) HandleUpload(w http.ResponseWriter, r *http.Request) {
	logger := logctx.LoggerFromContext(r.Context())
	logger.Debug("received upload request")

	var req UploadRequest

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Error("failed to decode request", "err", err)
		http.Error(w, "invalid request body", http.StatusBadRequest)

		return
	}

	if h.telemetry != nil {
		h.telemetry.RecordUploadSource("custom")
	}

	if err := h.svc.UploadDeviceSamples(r.Context(), req.Samples); err != nil {
		h.respondError(w, r, err)

		return
	}

	h.writeJSON(w, r, http.StatusOK, AckResponse{Result: "success"})
}

// HandleUploadDefaults builds the factory inventory and uploads it.
func (h *Handler) HandleUploadDefaults(w http.ResponseWriter, r *http.Request) {
	logger := logctx.LoggerFromContext(r.Context())
	logger.Debug("received upload defaults request")

	if h.telemetry != nil {
		h.telemetry.RecordUploadSource("defaults")
	}

	if err := h.svc.UploadDeviceDefaultSamples(r.Context()); err != nil {
		h.respondError(w, r, err)

		return
	}

	h.writeJSON(w, r, http.StatusOK, AckResponse{Result: "success"})
}

// HandleInitialise runs the full initialisation workflow.
func (h *Handler) HandleInitialise(w http.ResponseWriter, r *http.Request) {
	logger := logctx.LoggerFromContext(r.Context())
	logger.Debug("received initialise request")

	if err := h.svc.InitialiseDeviceSamples(r.Context()); err != nil {
		h.respondError(w, r, err)

		return
	}

	h.writeJSON(w, r, http.StatusOK, AckResponse{Result: "success"})
}

// HandleWait blocks until the device is free of in-flight operations.
func (h *Handler) HandleWait(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.WaitForUploadToFinish(r.Context()); err != nil {
		// The client went away or timed out; the in-flight operation
		// keeps running.
		http.Error(w, "wait abandoned", http.StatusServiceUnavailable)

		return
	}

	h.writeJSON(w, r, http.StatusOK, AckResponse{Result: "success"})
}

// HandleReset drops the cached snapshot.
func (h *Handler) HandleReset(w http.ResponseWriter, r *http.Request) {
	h.svc.ResetSnapshot()
	h.writeJSON(w, r, http.StatusOK, AckResponse{Result: "success"})
}

func (h *Handler) basicAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		username, password, ok := r.BasicAuth()
		if !ok {
			http.Error(w, "invalid authorization format", http.StatusUnauthorized)

			return
		}

		if username != h.username || password != h.password {
			http.Error(w, "invalid username or password", http.StatusUnauthorized)

			return
		}

		next.ServeHTTP(w, r)
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, r *http.Request, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		logctx.LoggerFromContext(r.Context()).Error("failed to encode response", "err", err)
	}
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	logctx.LoggerFromContext(r.Context()).Error("failed to handle request", "err", err)

	h.writeJSON(w, r, statusForError(err), ErrorResponse{Error: err.Error()})
}

// statusForError maps the transfer error taxonomy onto HTTP statuses:
// contention is 409, unmet preconditions are 422, device faults and
// verification mismatches are 502.
func statusForError(err error) int {
	var busyErr *transfer.BusyError
	if errors.As(err, &busyErr) {
		return http.StatusConflict
	}

	var preErr *transfer.PreconditionError
	if errors.As(err, &preErr) {
		return http.StatusUnprocessableEntity
	}

	var verErr *transfer.VerificationError
	if errors.As(err, &verErr) {
		return http.StatusBadGateway
	}

	var transportErr *transfer.TransportError
	if errors.As(err, &transportErr) {
		return http.StatusBadGateway
	}

	return http.StatusInternalServerError
}
