package web

import (
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/openpixel/trackmilter/msgid"
	"github.com/openpixel/trackmilter/store"
)

// HandleMeta returns metadata record of a message
func (s *Server) HandleMeta(w http.ResponseWriter, r *http.Request) {
	id, ok := s.messageID(w, r)
	if !ok {
		return
	}
	meta, err := s.Store.ReadMeta(id)
	if err != nil {
		s.storeError(w, id, err)
		return
	}
	writeJSON(w, http.StatusOK, meta)
}

// HandleBody returns raw body block of a message
func (s *Server) HandleBody(w http.ResponseWriter, r *http.Request) {
	s.handleRaw(w, r, s.Store.ReadBody)
}

// HandleHeaders returns raw header block of a message
func (s *Server) HandleHeaders(w http.ResponseWriter, r *http.Request) {
	s.handleRaw(w, r, s.Store.ReadHeaders)
}

func (s *Server) handleRaw(w http.ResponseWriter, r *http.Request, read func(string) ([]byte, error)) {
	id, ok := s.messageID(w, r)
	if !ok {
		return
	}
	raw, err := read(id)
	if err != nil {
		s.storeError(w, id, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write(raw)
}

// messageID validates id chi parameter before anything touches storage
func (s *Server) messageID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "id")
	if !msgid.Valid(id) {
		http.Error(w, "malformed message id", http.StatusBadRequest)
		return "", false
	}
	return id, true
}

func (s *Server) storeError(w http.ResponseWriter, id string, err error) {
	if err == store.ErrNotFound {
		http.Error(w, "message not found", http.StatusNotFound)
		return
	}
	log.Printf("reading message %s: %v", id, err)
	http.Error(w, "storage unavailable", http.StatusServiceUnavailable)
}
