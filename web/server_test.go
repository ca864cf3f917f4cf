package web

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openpixel/trackmilter/msgid"
	"github.com/openpixel/trackmilter/store"
	"github.com/openpixel/trackmilter/store/cache/memory"
)

func makeServer(t *testing.T) (*Server, *store.Store, *memory.Cache) {
	st, err := store.New(t.TempDir())
	require.NoError(t, err)
	c := memory.New()
	return New(st, c), st, c
}

func createMessage(t *testing.T, st *store.Store) string {
	t.Helper()
	id := msgid.New()
	err := st.Create(id, "scuba@example.org",
		[]byte("Subject: test\r\n"),
		[]byte("<html><body>hi</body></html>"),
		true)
	require.NoError(t, err)
	return id
}

func doRequest(s *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, req)
	return rec
}

func TestPixelRecordsOpen(t *testing.T) {
	s, st, c := makeServer(t)
	id := createMessage(t, st)
	req := httptest.NewRequest(http.MethodGet, "/pixel?id="+id, nil)
	req.RemoteAddr = "192.0.2.1:54321"
	req.Header.Set("User-Agent", "Thunderbird")
	rec := doRequest(s, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/gif", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Cache-Control"), "no-cache")
	assert.True(t, bytes.Equal(rec.Body.Bytes(), pixelGIF), "pixel bytes corrupted")

	meta, err := st.ReadMeta(id)
	require.NoError(t, err)
	assert.Equal(t, 1, meta.Opens)
	require.Len(t, meta.Events, 1)
	assert.Equal(t, "192.0.2.1", meta.Events[0].Addr)
	assert.Equal(t, "Thunderbird", meta.Events[0].UserAgent)
	require.NotNil(t, meta.FirstOpen)

	opens, err := c.Opens(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, int64(1), opens)
}

func TestPixelFlushedBeforeRecording(t *testing.T) {
	s, st, _ := makeServer(t)
	id := createMessage(t, st)
	rec := doRequest(s, httptest.NewRequest(http.MethodGet, "/pixel?id="+id, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, rec.Flushed, "image must be flushed to the client before the open is recorded")
}

func TestPixelHonorsForwardedFor(t *testing.T) {
	s, st, _ := makeServer(t)
	id := createMessage(t, st)
	req := httptest.NewRequest(http.MethodGet, "/pixel?id="+id, nil)
	req.RemoteAddr = "10.0.0.5:1234"
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.5")
	rec := doRequest(s, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	meta, err := st.ReadMeta(id)
	require.NoError(t, err)
	require.Len(t, meta.Events, 1)
	assert.Equal(t, "203.0.113.7", meta.Events[0].Addr)
}

func TestPixelMalformedID(t *testing.T) {
	s, _, c := makeServer(t)
	rec := doRequest(s, httptest.NewRequest(http.MethodGet, "/pixel?id=../../etc/passwd", nil))
	// the image always goes out, no matter what
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/gif", rec.Header().Get("Content-Type"))
	total, err := c.Total(context.Background())
	require.NoError(t, err)
	assert.Zero(t, total, "malformed id must not be counted")
}

func TestPixelUnknownMessage(t *testing.T) {
	s, _, _ := makeServer(t)
	rec := doRequest(s, httptest.NewRequest(http.MethodGet, "/pixel?id="+msgid.New(), nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/gif", rec.Header().Get("Content-Type"))
}

func TestMessageEndpoints(t *testing.T) {
	s, st, _ := makeServer(t)
	id := createMessage(t, st)

	rec := doRequest(s, httptest.NewRequest(http.MethodGet, "/msg/"+id+"/meta", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var meta store.Meta
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &meta))
	assert.Equal(t, id, meta.ID)
	assert.Equal(t, "scuba@example.org", meta.Sender)

	rec = doRequest(s, httptest.NewRequest(http.MethodGet, "/msg/"+id+"/body", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "<html><body>hi</body></html>", rec.Body.String())

	rec = doRequest(s, httptest.NewRequest(http.MethodGet, "/msg/"+id+"/headers", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Subject: test\r\n", rec.Body.String())
}

func TestMessageEndpointRejectsMalformedID(t *testing.T) {
	s, _, _ := makeServer(t)
	for _, path := range []string{
		"/msg/not-an-uuid/meta",
		"/msg/not-an-uuid/body",
		"/msg/not-an-uuid/headers",
	} {
		rec := doRequest(s, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code, path)
	}
}

func TestMessageEndpointUnknownID(t *testing.T) {
	s, _, _ := makeServer(t)
	rec := doRequest(s, httptest.NewRequest(http.MethodGet, "/msg/"+msgid.New()+"/meta", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func seedEvents(t *testing.T, st *store.Store, id string, n int, base time.Time) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := st.RecordOpen(id, store.OpenEvent{
			At:        base.Add(time.Duration(i) * time.Minute),
			Addr:      "192.0.2.1",
			UserAgent: "test",
		})
		require.NoError(t, err)
	}
}

func TestReportsPagination(t *testing.T) {
	s, st, _ := makeServer(t)
	id := createMessage(t, st)
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	seedEvents(t, st, id, 7, base)

	rec := doRequest(s, httptest.NewRequest(http.MethodGet, "/reports?page_size=3", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var page reportPage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.Equal(t, 7, page.Total)
	assert.Equal(t, 3, page.TotalPages)
	assert.Equal(t, 1, page.Page)
	require.Len(t, page.Events, 3)
	// newest first
	assert.True(t, page.Events[0].At.After(page.Events[1].At))

	// page beyond the last one is clamped to the last
	rec = doRequest(s, httptest.NewRequest(http.MethodGet, "/reports?page_size=3&page=99", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.Equal(t, 3, page.Page)
	assert.Len(t, page.Events, 1)
}

func TestReportsWindow(t *testing.T) {
	s, st, _ := makeServer(t)
	id := createMessage(t, st)
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	seedEvents(t, st, id, 5, base)

	// inclusive on both ends
	u := fmt.Sprintf("/reports?start=%s&end=%s",
		base.Add(time.Minute).Format(time.RFC3339),
		base.Add(3*time.Minute).Format(time.RFC3339))
	rec := doRequest(s, httptest.NewRequest(http.MethodGet, u, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var page reportPage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.Equal(t, 3, page.Total)

	// unix seconds work too
	u = fmt.Sprintf("/reports?start=%d", base.Add(4*time.Minute).Unix())
	rec = doRequest(s, httptest.NewRequest(http.MethodGet, u, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.Equal(t, 1, page.Total)
}

func TestReportsRejectsBadParameters(t *testing.T) {
	s, _, _ := makeServer(t)
	rec := doRequest(s, httptest.NewRequest(http.MethodGet, "/reports?start=yesterday", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = doRequest(s, httptest.NewRequest(http.MethodGet, "/reports?id=not-an-uuid", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReportsEmpty(t *testing.T) {
	s, _, _ := makeServer(t)
	rec := doRequest(s, httptest.NewRequest(http.MethodGet, "/reports", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"events":[]`)
}

func TestReportsHTMLFormat(t *testing.T) {
	s, st, _ := makeServer(t)
	id := createMessage(t, st)
	seedEvents(t, st, id, 2, time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC))
	rec := doRequest(s, httptest.NewRequest(http.MethodGet, "/reports?format=html", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "<table")
	assert.Contains(t, rec.Body.String(), id)
}

func TestStats(t *testing.T) {
	s, st, c := makeServer(t)
	id := createMessage(t, st)
	require.NoError(t, c.Incr(context.Background(), id))
	rec := doRequest(s, httptest.NewRequest(http.MethodGet, "/pixel?id="+id, nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(s, httptest.NewRequest(http.MethodGet, "/stats", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var out struct {
		store.Stats
		CachedOpens *int64 `json:"cached_opens"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, 1, out.Messages)
	assert.Equal(t, 1, out.Opened)
	require.NotNil(t, out.CachedOpens)
	assert.Equal(t, int64(2), *out.CachedOpens)
}

func TestHealth(t *testing.T) {
	s, _, _ := makeServer(t)
	rec := doRequest(s, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ok")
}

func TestMetricsEndpoint(t *testing.T) {
	s, _, _ := makeServer(t)
	rec := doRequest(s, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
