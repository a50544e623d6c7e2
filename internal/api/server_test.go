package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ilkoid/poncho-writer/internal/writer"
)

type fakeWriter struct {
	writeResp writer.WriteResponse
	err       error
	panicMsg  string

	gotReq     writer.WriteRequest
	gotTraceID string
	gotID      string
	gotTrans   writer.TranslateRequest
	gotImages  writer.ImageGenerationRequest
}

func (f *fakeWriter) Write(ctx context.Context, req writer.WriteRequest, traceID string) (writer.WriteResponse, error) {
	if f.panicMsg != "" {
		panic(f.panicMsg)
	}
	f.gotReq, f.gotTraceID = req, traceID
	resp := f.writeResp
	if resp.TraceID == nil {
		id := traceID
		if id == "" {
			id = writer.DefaultTraceID(resp.ArticleID)
		}
		resp.TraceID = &id
	}
	return resp, f.err
}

func (f *fakeWriter) Get(ctx context.Context, articleID string) (writer.WriteResponse, error) {
	f.gotID = articleID
	return f.writeResp, f.err
}

func (f *fakeWriter) Translate(ctx context.Context, req writer.TranslateRequest) (writer.WriteResponse, error) {
	f.gotTrans = req
	return f.writeResp, f.err
}

func (f *fakeWriter) GenerateImages(ctx context.Context, req writer.ImageGenerationRequest) (writer.WriteResponse, error) {
	f.gotImages = req
	return f.writeResp, f.err
}

func do(t *testing.T, h http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m))
	return m
}

func TestRootAndHealth(t *testing.T) {
	h := NewServer(&fakeWriter{}, nil)

	rec := do(t, h, http.MethodGet, "/", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Welcome to the Context Article Writing API", decodeBody(t, rec)["message"])

	rec = do(t, h, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decodeBody(t, rec)["status"])

	rec = do(t, h, http.MethodGet, "/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWrite_DefaultTraceID(t *testing.T) {
	content := "summary"
	fw := &fakeWriter{writeResp: writer.WriteResponse{
		ArticleID: "abcdef1234567890",
		Status:    writer.StatusCompleted,
		Content:   &content,
		FilePaths: map[string]string{"a.md": "output/md/a.md"},
	}}
	h := NewServer(fw, nil)

	rec := do(t, h, http.MethodPost, "/api/v1/write", `{"topic":"sleep","keywords":["a","b"]}`, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "article-abcdef12", rec.Header().Get(TraceHeader))
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))
	body := decodeBody(t, rec)
	assert.Equal(t, "completed", body["status"])
	assert.Equal(t, "summary", body["content"])
	assert.Equal(t, map[string]any{"a.md": "output/md/a.md"}, body["file_paths"])
	assert.Equal(t, "sleep", fw.gotReq.Topic)
	assert.Equal(t, []string{"a", "b"}, fw.gotReq.Keywords)
}

func TestWrite_TraceHeaderHonoured(t *testing.T) {
	fw := &fakeWriter{writeResp: writer.WriteResponse{ArticleID: "x", Status: writer.StatusCompleted}}
	h := NewServer(fw, nil)

	rec := do(t, h, http.MethodPost, "/api/v1/write", `{"topic":"sleep"}`, map[string]string{TraceHeader: "trace-1"})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "trace-1", fw.gotTraceID)
	assert.Equal(t, "trace-1", rec.Header().Get(TraceHeader))
}

func TestWrite_FailedRunIs200(t *testing.T) {
	msg := "step limit exceeded"
	fw := &fakeWriter{writeResp: writer.WriteResponse{ArticleID: "x", Status: writer.StatusFailed, Error: &msg}}
	h := NewServer(fw, nil)

	rec := do(t, h, http.MethodPost, "/api/v1/write", `{"topic":"sleep"}`, nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "failed", body["status"])
	assert.Equal(t, msg, body["error"])
}

func TestWrite_BadRequests(t *testing.T) {
	t.Run("malformed json", func(t *testing.T) {
		h := NewServer(&fakeWriter{}, nil)
		rec := do(t, h, http.MethodPost, "/api/v1/write", `{"topic":`, nil)
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		assert.Contains(t, decodeBody(t, rec)["detail"], "invalid request body")
	})

	t.Run("empty body", func(t *testing.T) {
		h := NewServer(&fakeWriter{}, nil)
		rec := do(t, h, http.MethodPost, "/api/v1/write", ``, nil)
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	})

	t.Run("validation error", func(t *testing.T) {
		fw := &fakeWriter{err: &writer.RequestError{Kind: writer.KindInvalid, Field: "style", Message: "unsupported style 'x'"}}
		h := NewServer(fw, nil)
		rec := do(t, h, http.MethodPost, "/api/v1/write", `{"topic":"t","style":"x"}`, nil)
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		assert.Equal(t, "style: unsupported style 'x'", decodeBody(t, rec)["detail"])
	})
}

func TestGet(t *testing.T) {
	fw := &fakeWriter{writeResp: writer.WriteResponse{ArticleID: "abc", Status: writer.StatusCompleted}}
	h := NewServer(fw, nil)

	rec := do(t, h, http.MethodGet, "/api/v1/write/abc", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "abc", fw.gotID)

	fw.err = &writer.RequestError{Kind: writer.KindNotFound, Message: "article zzz not found"}
	rec = do(t, h, http.MethodGet, "/api/v1/write/zzz", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "article zzz not found", decodeBody(t, rec)["detail"])
}

func TestTranslate(t *testing.T) {
	fw := &fakeWriter{writeResp: writer.WriteResponse{ArticleID: "abc", Status: writer.StatusCompleted}}
	h := NewServer(fw, nil)

	rec := do(t, h, http.MethodPost, "/api/v1/write/translate", `{"article_id":"abc","target_languages":["fr","ja"]}`, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"fr", "ja"}, fw.gotTrans.TargetLanguages)

	fw.err = &writer.RequestError{Kind: writer.KindNotFound, Message: "Source file not found: output/md/abc_main.md"}
	rec = do(t, h, http.MethodPost, "/api/v1/write/translate", `{"article_id":"abc","target_languages":["fr"]}`, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	fw.err = errors.New("tool translate_text is not available")
	rec = do(t, h, http.MethodPost, "/api/v1/write/translate", `{"article_id":"abc","target_languages":["fr"]}`, nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Translation error: tool translate_text is not available", decodeBody(t, rec)["detail"])
}

func TestGenerateImages(t *testing.T) {
	fw := &fakeWriter{writeResp: writer.WriteResponse{ArticleID: "abc", Status: writer.StatusCompleted, GeneratedImages: []string{"output/img/a.png"}}}
	h := NewServer(fw, nil)

	rec := do(t, h, http.MethodPost, "/api/v1/write/generate-images", `{"article_id":"abc","number_of_images":2}`, nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, fw.gotImages.NumberOfImages)
	assert.Equal(t, 2, *fw.gotImages.NumberOfImages)
	assert.Equal(t, []any{"output/img/a.png"}, decodeBody(t, rec)["generated_images"])
}

func TestRecovery(t *testing.T) {
	h := NewServer(&fakeWriter{panicMsg: "boom"}, nil)

	rec := do(t, h, http.MethodPost, "/api/v1/write", `{"topic":"t"}`, nil)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Internal Server Error", decodeBody(t, rec)["detail"])
}

func TestCORS(t *testing.T) {
	h := NewServer(&fakeWriter{}, []string{"https://app.example"})

	rec := do(t, h, http.MethodOptions, "/api/v1/write", "", map[string]string{
		"Origin":                        "https://app.example",
		"Access-Control-Request-Method": "POST",
	})
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://app.example", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = do(t, h, http.MethodGet, "/healthz", "", map[string]string{"Origin": "https://evil.example"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))

	wildcard := NewServer(&fakeWriter{}, []string{"*"})
	rec = do(t, wildcard, http.MethodGet, "/healthz", "", map[string]string{"Origin": "https://any.example"})
	assert.Equal(t, "https://any.example", rec.Header().Get("Access-Control-Allow-Origin"))
}
