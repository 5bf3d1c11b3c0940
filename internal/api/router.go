package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

// NewRouter wires the engine's HTTP surface.
func NewRouter(handler *Handler, logger zerolog.Logger) http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/health", healthHandler).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/quality/score", handler.GetScore).Methods(http.MethodGet)
	api.HandleFunc("/quality/snapshots", handler.GetSnapshots).Methods(http.MethodGet)
	api.HandleFunc("/quality/trend/{metric}", handler.GetTrend).Methods(http.MethodGet)
	api.HandleFunc("/quality/drilldown/{metric}", handler.GetDrilldown).Methods(http.MethodGet)
	api.HandleFunc("/alerts", handler.ListAlerts).Methods(http.MethodGet)
	api.HandleFunc("/alerts/{id}/status", handler.SetAlertStatus).Methods(http.MethodPost)
	api.HandleFunc("/alerts/{id}/note", handler.SetAlertNote).Methods(http.MethodPost)
	api.HandleFunc("/ingest", handler.Ingest).Methods(http.MethodPost)

	r.Use(loggingMiddleware(logger))
	r.Use(recoveryMiddleware(logger))

	return r
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": "dqwatch",
	})
}

func loggingMiddleware(logger zerolog.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			logger.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Dur("duration", time.Since(start)).
				Msg("http request")
		})
	}
}

func recoveryMiddleware(logger zerolog.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error().
						Interface("panic", rec).
						Str("path", r.URL.Path).
						Msg("panic recovered")
					respondError(w, http.StatusInternalServerError, "internal error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
