// Package dataapi serves sorties and their telemetry over HTTP in the shape
// HTTPSource consumes.
package dataapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/signalsfoundry/flight-replay/core"
	"github.com/signalsfoundry/flight-replay/internal/logging"
	"github.com/signalsfoundry/flight-replay/model"
)

// Version is reported by the status endpoint.
const Version = "v1"

// Source is the data the API exposes.
type Source interface {
	ListSorties(ctx context.Context) ([]model.SortieMeta, error)
	Telemetry(ctx context.Context, sortieID string) ([]model.RawSample, error)
}

type handlers struct {
	src Source
	log logging.Logger
}

// NewRouter creates a router with all API endpoints under /api.
func NewRouter(src Source, log logging.Logger) *mux.Router {
	if log == nil {
		log = logging.Noop()
	}
	h := &handlers{src: src, log: log}

	r := mux.NewRouter()
	api := r.PathPrefix("/api").Subrouter()
	api.Use(requestLogger(log))

	api.HandleFunc("/", h.status).Methods(http.MethodGet)
	api.HandleFunc("/sorties", h.listSorties).Methods(http.MethodGet)
	api.HandleFunc("/sorties/{id}/telemetry", h.telemetry).Methods(http.MethodGet)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	return r
}

func (h *handlers) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "flight-replay data API is running",
		"version": Version,
	})
}

func (h *handlers) listSorties(w http.ResponseWriter, r *http.Request) {
	list, err := h.src.ListSorties(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if list == nil {
		list = []model.SortieMeta{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *handlers) telemetry(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	samples, err := h.src.Telemetry(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if samples == nil {
		samples = []model.RawSample{}
	}
	writeJSON(w, http.StatusOK, samples)
}

func (h *handlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	log := logging.FromContext(r.Context(), h.log)
	switch {
	case errors.Is(err, core.ErrSortieNotFound):
		writeError(w, http.StatusNotFound, "sortie not found")
	case errors.Is(err, core.ErrMalformedData):
		log.Warn(r.Context(), "malformed recording", logging.Err(err))
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, "request cancelled")
	default:
		log.Error(r.Context(), "data source failure", logging.Err(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.code = code
	s.ResponseWriter.WriteHeader(code)
}

// requestLogger attaches a request id (reusing X-Request-ID when the caller
// sent one) and logs each request.
func requestLogger(base logging.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if id := r.Header.Get("X-Request-ID"); id != "" {
				ctx = logging.ContextWithRequestID(ctx, id)
			}
			ctx, log := logging.WithRequestLogger(ctx, base)
			ctx = logging.ContextWithLogger(ctx, log)
			w.Header().Set("X-Request-ID", logging.RequestIDFromContext(ctx))

			rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
			start := time.Now()
			next.ServeHTTP(rec, r.WithContext(ctx))

			log.Debug(ctx, "http request",
				logging.String("method", r.Method),
				logging.String("path", r.URL.Path),
				logging.Int("status", rec.code),
				logging.Duration("duration", time.Since(start)),
			)
		})
	}
}
