// Package web serves the tracking beacon and the reporting API over HTTPS.
package web

import (
	"context"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/openpixel/trackmilter/store"
	"github.com/openpixel/trackmilter/store/cache"
)

// Server is the beacon & reporting HTTP server
type Server struct {
	Store *store.Store
	// Cache is optional opens counter accelerator
	Cache cache.Cache

	httpServer *http.Server
}

// New makes beacon server on top of message store, cache can be nil
func New(st *store.Store, c cache.Cache) *Server {
	return &Server{Store: st, Cache: c}
}

// Routes builds the router
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/pixel", s.HandlePixel)
	r.Route("/msg/{id}", func(r chi.Router) {
		r.Get("/meta", s.HandleMeta)
		r.Get("/body", s.HandleBody)
		r.Get("/headers", s.HandleHeaders)
	})
	r.Get("/reports", s.HandleReports)
	r.Get("/stats", s.HandleStats)
	r.Get("/healthz", s.HandleHealth)
	r.Handle("/metrics", promhttp.Handler())
	return r
}

// ListenAndServe starts the server, with TLS when both certFile and keyFile
// are provided. It blocks until Shutdown is called or listening fails.
func (s *Server) ListenAndServe(addr, certFile, keyFile string) error {
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.Routes(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	if certFile != "" && keyFile != "" {
		return s.httpServer.ListenAndServeTLS(certFile, keyFile)
	}
	return s.httpServer.ListenAndServe()
}

// Shutdown stops the server gracefully
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// HandleHealth answers liveness probes
func (s *Server) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

// realIP extracts client address, honoring the reverse proxy headers our
// deployments put in front of the beacon server
func realIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}
	if rip := r.Header.Get("X-Real-IP"); rip != "" {
		return rip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		log.Printf("encoding response: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(raw)
}
