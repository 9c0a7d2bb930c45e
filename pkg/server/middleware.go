package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
)

const corsAllowMethods = "GET, POST, PUT, PATCH, DELETE, OPTIONS"

// corsMiddleware adds CORS headers based on allowed origins configuration.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers := w.Header()
		if origin := r.Header.Get("Origin"); origin != "" {
			if allowed, wildcard := s.isOriginAllowed(origin); allowed {
				if wildcard {
					headers.Set("Access-Control-Allow-Origin", "*")
				} else {
					headers.Set("Access-Control-Allow-Origin", origin)
					headers.Set("Access-Control-Allow-Credentials", "true")
					headers.Add("Vary", "Origin")
				}
			}
		}
		headers.Set("Access-Control-Allow-Methods", corsAllowMethods)
		if requested := r.Header.Get("Access-Control-Request-Headers"); requested != "" {
			headers.Set("Access-Control-Allow-Headers", requested)
		} else {
			headers.Set("Access-Control-Allow-Headers", "*")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) isOriginAllowed(origin string) (allowed, wildcard bool) {
	for _, candidate := range s.cfg.AllowedOrigins {
		candidate = strings.TrimSpace(candidate)
		if candidate == "*" {
			return true, true
		}
		if strings.EqualFold(strings.TrimSuffix(candidate, "/"), strings.TrimSuffix(origin, "/")) {
			return true, false
		}
	}
	return false, false
}

// logRequests logs one line per request once it completes. Bodies are never
// logged; the start request carries a credential.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		entry := s.log.WithFields(logrus.Fields{
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     status,
			"bytes":      ww.BytesWritten(),
			"duration":   time.Since(start).String(),
			"request_id": middleware.GetReqID(r.Context()),
			"remote":     r.RemoteAddr,
		})
		if status >= http.StatusInternalServerError {
			entry.Warn("request")
			return
		}
		entry.Info("request")
	})
}
