package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"castlebook/internal/config"
	"castlebook/internal/domain"
	"castlebook/internal/export"
	"castlebook/internal/metrics"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

const requestIDHeader = "X-Request-ID"

// Deps are the services the HTTP API is a thin layer over.
type Deps struct {
	Bookings domain.BookingService
	Castles  domain.CastleService
	Exporter *export.Exporter
	Location *time.Location
	// Health reports whether the store is reachable. Nil means always healthy.
	Health func(ctx context.Context) error
	Now    func() time.Time
}

// HTTPServer exposes the booking service as a JSON API.
type HTTPServer struct {
	cfg    config.APIConfig
	deps   Deps
	auth   *HTTPAuth
	router *mux.Router
	server *http.Server
	logger *zerolog.Logger
}

func NewHTTPServer(cfg config.APIConfig, deps Deps, logger *zerolog.Logger) *HTTPServer {
	if deps.Location == nil {
		deps.Location = time.UTC
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "http").Logger()

	srv := &HTTPServer{
		cfg:    cfg,
		deps:   deps,
		auth:   NewHTTPAuth(cfg),
		router: mux.NewRouter(),
		logger: &l,
	}
	srv.routes()

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           srv.router,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
	}
	return srv
}

func (s *HTTPServer) routes() {
	r := s.router
	r.Use(s.requestIDMiddleware, s.loggingMiddleware, s.recoverMiddleware, s.timeoutMiddleware)
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not_found", "route not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	})

	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)

	api := r.PathPrefix("/api/v1").Subrouter()
	a := s.auth

	api.HandleFunc("/bookings", a.Require(permWriteBookings, s.handleCreateBooking)).Methods(http.MethodPost)
	api.HandleFunc("/bookings", a.Require(permReadBookings, s.handleQueryBookings)).Methods(http.MethodGet)
	api.HandleFunc("/bookings/stats", a.Require(permReadBookings, s.handleBookingStats)).Methods(http.MethodGet)
	api.HandleFunc("/bookings/export", a.Require(permExport, s.handleExport)).Methods(http.MethodGet)
	api.HandleFunc("/bookings/ref/{reference}", a.Require(permReadBookings, s.handleGetBookingByReference)).Methods(http.MethodGet)
	api.HandleFunc("/bookings/{id:[0-9]+}", a.Require(permReadBookings, s.handleGetBooking)).Methods(http.MethodGet)
	api.HandleFunc("/bookings/{id:[0-9]+}", a.Require(permWriteBookings, s.handleUpdateBooking)).Methods(http.MethodPatch)
	api.HandleFunc("/bookings/{id:[0-9]+}", a.Require(permWriteBookings, s.handleDeleteBooking)).Methods(http.MethodDelete)
	api.HandleFunc("/bookings/{id:[0-9]+}/status", a.Require(permWriteBookings, s.handleTransition)).Methods(http.MethodPost)
	api.HandleFunc("/bookings/{id:[0-9]+}/agreement", a.Require(permWriteBookings, s.handleAgreement)).Methods(http.MethodPost)
	api.HandleFunc("/bookings/{id:[0-9]+}/agreement/views", a.Require(permWriteBookings, s.handleAgreementViewed)).Methods(http.MethodPost)
	api.HandleFunc("/bookings/{id:[0-9]+}/payment", a.Require(permWriteBookings, s.handlePayment)).Methods(http.MethodPost)
	api.HandleFunc("/bookings/{id:[0-9]+}/emails", a.Require(permWriteBookings, s.handleEmailSent)).Methods(http.MethodPost)
	api.HandleFunc("/bookings/{id:[0-9]+}/audit", a.Require(permReadBookings, s.handleAuditTrail)).Methods(http.MethodGet)
	api.HandleFunc("/bookings/{id:[0-9]+}/audit/corrections", a.Require(permWriteBookings, s.handleCorrection)).Methods(http.MethodPost)
	api.HandleFunc("/conflicts/check", a.Require(permReadBookings, s.handleCheckConflicts)).Methods(http.MethodPost)

	api.HandleFunc("/castles", a.Require(permReadCastles, s.handleListCastles)).Methods(http.MethodGet)
	api.HandleFunc("/castles", a.Require(permWriteCastles, s.handleCreateCastle)).Methods(http.MethodPost)
	api.HandleFunc("/castles/{id:[0-9]+}", a.Require(permReadCastles, s.handleGetCastle)).Methods(http.MethodGet)
	api.HandleFunc("/castles/{id:[0-9]+}", a.Require(permWriteCastles, s.handleUpdateCastle)).Methods(http.MethodPut)
	api.HandleFunc("/castles/{id:[0-9]+}", a.Require(permWriteCastles, s.handleDeleteCastle)).Methods(http.MethodDelete)
	api.HandleFunc("/castles/{id:[0-9]+}/maintenance", a.Require(permWriteCastles, s.handleMaintenance)).Methods(http.MethodPut)
}

// Handler returns the routed handler with all middleware applied.
func (s *HTTPServer) Handler() http.Handler {
	return s.router
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return fmt.Errorf("http server is not initialized")
	}
	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.Health != nil {
		if err := s.deps.Health(r.Context()); err != nil {
			s.logger.Warn().Err(err).Msg("health check failed")
			writeError(w, http.StatusServiceUnavailable, "unavailable", "storage unavailable")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *HTTPServer) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		logger := s.logger.With().Str("request_id", id).Logger()
		next.ServeHTTP(w, r.WithContext(logger.WithContext(r.Context())))
	})
}

func (s *HTTPServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)
		dur := time.Since(start)

		endpoint := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tpl, err := route.GetPathTemplate(); err == nil {
				endpoint = tpl
			}
		}
		metrics.IncHTTP(endpoint)
		metrics.ObserveHTTP(endpoint, dur)

		event := zerolog.Ctx(r.Context()).Info()
		if recorder.status >= http.StatusInternalServerError {
			event = zerolog.Ctx(r.Context()).Error()
		}
		event.
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", recorder.status).
			Dur("duration", dur).
			Msg("http request")
	})
}

func (s *HTTPServer) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				zerolog.Ctx(r.Context()).Error().Interface("panic", rec).Str("path", r.URL.Path).Msg("handler panic")
				writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *HTTPServer) timeoutMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.RequestTimeout <= 0 {
			next.ServeHTTP(w, r)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), s.cfg.RequestTimeout)
		defer cancel()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type errorResponse struct {
	Error       string      `json:"error"`
	Message     string      `json:"message"`
	Field       string      `json:"field,omitempty"`
	From        string      `json:"from,omitempty"`
	To          string      `json:"to,omitempty"`
	Conflicts   interface{} `json:"conflicts,omitempty"`
	Suggestions interface{} `json:"suggestions,omitempty"`
}

// writeServiceError maps the service error taxonomy onto HTTP statuses.
func (s *HTTPServer) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		vErr *domain.ValidationError
		cErr *domain.ConflictError
		tErr *domain.TransitionError
	)
	switch {
	case errors.As(err, &vErr):
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error: "validation_error", Message: vErr.Reason, Field: vErr.Field,
		})
	case errors.As(err, &cErr):
		resp := errorResponse{Error: "conflict", Message: domain.ErrConflict.Error()}
		if cErr.Result != nil {
			resp.Conflicts = cErr.Result.Conflicts
			if len(cErr.Result.Suggestions) > 0 {
				resp.Suggestions = cErr.Result.Suggestions
			}
		}
		writeJSON(w, http.StatusConflict, resp)
	case errors.As(err, &tErr):
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{
			Error: "invalid_transition", Message: tErr.Error(), From: string(tErr.From), To: string(tErr.To),
		})
	case errors.Is(err, domain.ErrValidation):
		writeError(w, http.StatusBadRequest, "validation_error", err.Error())
	case errors.Is(err, domain.ErrConflict):
		writeError(w, http.StatusConflict, "conflict", domain.ErrConflict.Error())
	case errors.Is(err, domain.ErrInvalidTransition):
		writeError(w, http.StatusUnprocessableEntity, "invalid_transition", err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, domain.ErrConcurrentModification):
		writeError(w, http.StatusConflict, "concurrent_modification", domain.ErrConcurrentModification.Error())
	case errors.Is(err, domain.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden", domain.ErrForbidden.Error())
	case errors.Is(err, domain.ErrReferenceAllocation), errors.Is(err, domain.ErrPersistence):
		zerolog.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("service unavailable")
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusServiceUnavailable, "unavailable", "service temporarily unavailable, please try again later")
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "timeout", "request timed out")
	default:
		zerolog.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("unhandled error")
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, code, message string) {
	writeJSON(w, statusCode, errorResponse{Error: code, Message: message})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return domain.NewValidationError("body", fmt.Sprintf("invalid JSON: %v", err))
	}
	return nil
}

func pathID(r *http.Request) (int64, error) {
	raw := mux.Vars(r)["id"]
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, domain.NewValidationError("id", "must be a positive integer")
	}
	return id, nil
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
