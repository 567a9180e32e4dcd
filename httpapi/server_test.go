package httpapi

import (
	"bytes"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/prepress/preflight/rules"
	"github.com/prepress/preflight/store"
)

func newTestServer(t *testing.T, mutate func(*Config)) *Server {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "reports.db"))
	require.NoError(t, err)

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	cfg := Config{
		Store:    st,
		Logger:   logger,
		Registry: prometheus.NewRegistry(),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	return NewServer(cfg)
}

func samplePDF() []byte {
	content := "q 0 0 0 1 k 0 0 612 792 re f Q"
	var buf bytes.Buffer
	buf.WriteString("%PDF-1.7\n")
	offsets := make([]int, 4)
	obj := func(num int, body string) {
		offsets[num-1] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", num, body)
	}
	obj(1, "<< /Type /Catalog /Pages 2 0 R >>")
	obj(2, "<< /Type /Pages /Kids [3 0 R] /Count 1 /MediaBox [0 0 612 792] >>")
	obj(3, "<< /Type /Page /Parent 2 0 R /Contents 4 0 R >>")
	obj(4, fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(content), content))
	xref := buf.Len()
	buf.WriteString("xref\n0 5\n0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size 5 /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", xref)
	return buf.Bytes()
}

func uploadBody(t *testing.T, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	fw, err := w.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write(content)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func postAnalyze(s *Server, body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/analyze", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func TestAnalyzeSuccess(t *testing.T) {
	s := newTestServer(t, nil)
	body, ct := uploadBody(t, "job.pdf", samplePDF())
	rec := postAnalyze(s, body, ct)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := rec.Body.String()
	assert.Equal(t, int64(1), gjson.Get(res, "pages").Int())
	assert.True(t, gjson.Get(res, "fonts_enclosed").Bool())
	assert.Equal(t, "Unknown", gjson.Get(res, "document_color_mode").String())
	assert.True(t, gjson.Get(res, "warnings").IsArray())
	assert.True(t, gjson.Get(res, "content_color_modes").IsArray())
	assert.NotEmpty(t, rec.Header().Get("X-Report-Id"))
}

func TestAnalyzeCacheHit(t *testing.T) {
	s := newTestServer(t, nil)
	pdf := samplePDF()

	body, ct := uploadBody(t, "first.pdf", pdf)
	first := postAnalyze(s, body, ct)
	require.Equal(t, http.StatusOK, first.Code)
	id := first.Header().Get("X-Report-Id")
	require.NotEmpty(t, id)

	body, ct = uploadBody(t, "second.pdf", pdf)
	second := postAnalyze(s, body, ct)
	require.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, id, second.Header().Get("X-Report-Id"))
	assert.Equal(t, first.Body.String(), second.Body.String())
}

func TestAnalyzeMissingFilePart(t *testing.T) {
	s := newTestServer(t, nil)
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	require.NoError(t, w.WriteField("note", "no file here"))
	require.NoError(t, w.Close())

	rec := postAnalyze(s, &buf, w.FormDataContentType())
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "No file part", gjson.Get(rec.Body.String(), "error").String())
}

func TestAnalyzeEmptyFilename(t *testing.T) {
	s := newTestServer(t, nil)
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename=""`)
	h.Set("Content-Type", "application/octet-stream")
	part, err := w.CreatePart(h)
	require.NoError(t, err)
	_, err = part.Write([]byte("content without a name"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	rec := postAnalyze(s, &buf, w.FormDataContentType())
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "No selected file", gjson.Get(rec.Body.String(), "error").String())
}

func TestAnalyzeGarbageStillReports(t *testing.T) {
	s := newTestServer(t, nil)
	body, ct := uploadBody(t, "broken.pdf", []byte("not a pdf at all"))
	rec := postAnalyze(s, body, ct)

	require.Equal(t, http.StatusOK, rec.Code)
	res := rec.Body.String()
	assert.Equal(t, int64(0), gjson.Get(res, "pages").Int())
	assert.Greater(t, len(gjson.Get(res, "warnings").Array()), 0)
}

func TestAnalyzeUploadTooLarge(t *testing.T) {
	s := newTestServer(t, func(cfg *Config) { cfg.MaxUploadBytes = 16 })
	body, ct := uploadBody(t, "big.pdf", samplePDF())
	rec := postAnalyze(s, body, ct)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestAnalyzeAppliesRules(t *testing.T) {
	s := newTestServer(t, func(cfg *Config) {
		cfg.Rules = rules.NewEngine(rules.Rule{
			Name:   "single-page-only",
			Source: `if (report.pages === 1) warn("single page uploads need manual review");`,
		})
	})
	body, ct := uploadBody(t, "job.pdf", samplePDF())
	rec := postAnalyze(s, body, ct)

	require.Equal(t, http.StatusOK, rec.Code)
	warnings := gjson.Get(rec.Body.String(), "warnings").Array()
	found := false
	for _, w := range warnings {
		if w.String() == "single page uploads need manual review" {
			found = true
		}
	}
	assert.True(t, found, "rule warning missing: %v", warnings)
}

func TestGetReport(t *testing.T) {
	s := newTestServer(t, nil)
	body, ct := uploadBody(t, "job.pdf", samplePDF())
	first := postAnalyze(s, body, ct)
	require.Equal(t, http.StatusOK, first.Code)
	id := first.Header().Get("X-Report-Id")
	require.NotEmpty(t, id)

	req := httptest.NewRequest(http.MethodGet, "/reports/"+id, nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(1), gjson.Get(rec.Body.String(), "pages").Int())
}

func TestGetReportMissing(t *testing.T) {
	s := newTestServer(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/reports/does-not-exist", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "report not found", gjson.Get(rec.Body.String(), "error").String())
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", gjson.Get(rec.Body.String(), "status").String())
}
