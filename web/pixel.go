package web

import (
	"log"
	"net/http"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/openpixel/trackmilter/metrics"
	"github.com/openpixel/trackmilter/msgid"
	"github.com/openpixel/trackmilter/store"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// 1x1 transparent GIF
var pixelGIF = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00,
	0x80, 0x00, 0x00, 0xff, 0xff, 0xff, 0x00, 0x00, 0x00, 0x2c,
	0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00, 0x00, 0x02,
	0x02, 0x44, 0x01, 0x00, 0x3b,
}

// HandlePixel serves the beacon. The image is always returned, valid ids
// additionally get an open event recorded. The pixel must never fail
// visibly to the mail client, so the image goes out before storage is
// touched and every error ends up in logs only.
func (s *Server) HandlePixel(w http.ResponseWriter, r *http.Request) {
	s.servePixel(w)
	metrics.PixelsServed.Inc()

	id := r.URL.Query().Get("id")
	if !msgid.Valid(id) {
		log.Printf("pixel fetch with malformed id %q from %s", id, realIP(r))
		return
	}
	ev := store.OpenEvent{
		At:        time.Now().UTC(),
		Addr:      realIP(r),
		UserAgent: r.UserAgent(),
		Referer:   r.Referer(),
	}
	_, err := s.Store.RecordOpen(id, ev)
	if err != nil {
		metrics.OpenFailures.Inc()
		if err == store.ErrNotFound {
			log.Printf("pixel fetch for unknown message %s from %s", id, ev.Addr)
		} else {
			log.Printf("recording open for message %s: %v", id, err)
		}
		return
	}
	metrics.OpensRecorded.Inc()
	if s.Cache != nil {
		cacheErr := s.Cache.Incr(r.Context(), id)
		if cacheErr != nil {
			log.Printf("opens cache increment for message %s: %v", id, cacheErr)
		}
	}
	log.Printf("OPEN message=%s addr=%s", id, ev.Addr)
}

func (s *Server) servePixel(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "image/gif")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
	w.WriteHeader(http.StatusOK)
	w.Write(pixelGIF)
	// push the image onto the wire now, recording the open below involves
	// disk and must not delay the mail client
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}
