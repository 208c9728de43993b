package httpapi

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/nbhatti/whatsapi-bridge-sub002/internal/observability"
)

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Instrument logs every request and counts it against the matched route
// template, so /v1/messages/{id} stays a single metric series regardless of
// the id. Registered on the router, so it runs after route matching.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(sw, r)

		route := r.URL.Path
		if cur := mux.CurrentRoute(r); cur != nil {
			if tmpl, err := cur.GetPathTemplate(); err == nil {
				route = tmpl
			}
		}
		observability.APIRequests.WithLabelValues(route, strconv.Itoa(sw.status)).Inc()
		slog.Info("http request",
			"method", r.Method,
			"route", route,
			"status", sw.status,
			"duration", time.Since(start),
		)
	})
}
