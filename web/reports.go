package web

import (
	"fmt"
	"html"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/openpixel/trackmilter/msgid"
	"github.com/openpixel/trackmilter/store"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

type reportPage struct {
	Events     []store.OpenEvent `json:"events"`
	Page       int               `json:"page"`
	PageSize   int               `json:"page_size"`
	Total      int               `json:"total"`
	TotalPages int               `json:"total_pages"`
}

// HandleReports reads the chronological open event log, filtered by
// inclusive [start, end] window and optional message id, newest first,
// paginated. Requesting a page beyond the last one returns the last page.
func (s *Server) HandleReports(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var filter store.EventFilter
	var err error
	filter.Start, err = parseTimeParam(q.Get("start"))
	if err != nil {
		http.Error(w, "malformed start parameter", http.StatusBadRequest)
		return
	}
	filter.End, err = parseTimeParam(q.Get("end"))
	if err != nil {
		http.Error(w, "malformed end parameter", http.StatusBadRequest)
		return
	}
	if id := q.Get("id"); id != "" {
		if !msgid.Valid(id) {
			http.Error(w, "malformed message id", http.StatusBadRequest)
			return
		}
		filter.MessageID = id
	}
	pageSize := intParam(q.Get("page_size"), defaultPageSize)
	if pageSize < 1 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	events, err := s.Store.Events(filter)
	if err != nil {
		log.Printf("reading event log: %v", err)
		http.Error(w, "event log unavailable", http.StatusServiceUnavailable)
		return
	}
	total := len(events)
	totalPages := (total + pageSize - 1) / pageSize
	if totalPages < 1 {
		totalPages = 1
	}
	page := intParam(q.Get("page"), 1)
	if page < 1 {
		page = 1
	}
	if page > totalPages {
		page = totalPages
	}
	lo := (page - 1) * pageSize
	hi := lo + pageSize
	if lo > total {
		lo = total
	}
	if hi > total {
		hi = total
	}
	result := reportPage{
		Events:     events[lo:hi],
		Page:       page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: totalPages,
	}
	if result.Events == nil {
		result.Events = []store.OpenEvent{}
	}
	if wantsHTML(r) {
		s.renderReportTable(w, r.URL, result)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// HandleStats aggregates counters over all stored messages
func (s *Server) HandleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.Store.Stats()
	if err != nil {
		log.Printf("aggregating stats: %v", err)
		http.Error(w, "storage unavailable", http.StatusServiceUnavailable)
		return
	}
	out := struct {
		store.Stats
		CachedOpens *int64 `json:"cached_opens,omitempty"`
	}{Stats: stats}
	if s.Cache != nil {
		cached, err := s.Cache.Total(r.Context())
		if err == nil {
			out.CachedOpens = &cached
		} else {
			log.Printf("reading opens cache total: %v", err)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func wantsHTML(r *http.Request) bool {
	if r.URL.Query().Get("format") == "html" {
		return true
	}
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}

// renderReportTable writes a minimal human readable table with prev/next links
func (s *Server) renderReportTable(w http.ResponseWriter, u *url.URL, page reportPage) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, "<!DOCTYPE html><html><head><title>Open events</title></head><body>")
	fmt.Fprintf(w, "<p>%d events, page %d of %d</p>", page.Total, page.Page, page.TotalPages)
	fmt.Fprint(w, "<table border=\"1\" cellpadding=\"4\"><tr><th>Time</th><th>Message</th><th>Address</th><th>User agent</th></tr>")
	for _, ev := range page.Events {
		fmt.Fprintf(w, "<tr><td>%s</td><td>%s</td><td>%s</td><td>%s</td></tr>",
			ev.At.Format(time.RFC3339),
			html.EscapeString(ev.MessageID),
			html.EscapeString(ev.Addr),
			html.EscapeString(ev.UserAgent),
		)
	}
	fmt.Fprint(w, "</table>")
	if page.Page > 1 {
		fmt.Fprintf(w, `<a href="%s">prev</a> `, pageLink(u, page.Page-1))
	}
	if page.Page < page.TotalPages {
		fmt.Fprintf(w, `<a href="%s">next</a>`, pageLink(u, page.Page+1))
	}
	fmt.Fprint(w, "</body></html>")
}

func pageLink(u *url.URL, page int) string {
	q := u.Query()
	q.Set("page", strconv.Itoa(page))
	out := *u
	out.RawQuery = q.Encode()
	return html.EscapeString(out.RequestURI())
}

// parseTimeParam accepts RFC 3339 timestamps and unix seconds
func parseTimeParam(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err == nil {
		return t, nil
	}
	sec, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("cannot parse %q as timestamp", raw)
	}
	return time.Unix(sec, 0).UTC(), nil
}

func intParam(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return val
}
