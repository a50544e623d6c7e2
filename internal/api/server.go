// Package api публикует writer.Service по HTTP.
//
// Маршруты:
//
//	GET  /                                -> приветствие
//	GET  /healthz                         -> {"status":"ok"}
//	POST /api/v1/write                    -> прогон агента, WriteResponse
//	GET  /api/v1/write/{article_id}       -> сохранённый итог прогона
//	POST /api/v1/write/translate          -> перевод написанной статьи
//	POST /api/v1/write/generate-images    -> иллюстрации к написанной статье
//
// Сбой прогона агента отвечает 200 со status "failed". 4xx возвращаются
// только для нарушений контракта запроса (*writer.RequestError).
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/ilkoid/poncho-writer/internal/writer"
	"github.com/ilkoid/poncho-writer/pkg/utils"
)

// TraceHeader — заголовок с trace id прогона.
const TraceHeader = "X-Trace-ID"

// maxBodyBytes ограничивает размер JSON тела запроса.
const maxBodyBytes = 1 << 20

// Writer — сценарии, которые обслуживает API (реализован writer.Service).
type Writer interface {
	Write(ctx context.Context, req writer.WriteRequest, traceID string) (writer.WriteResponse, error)
	Get(ctx context.Context, articleID string) (writer.WriteResponse, error)
	Translate(ctx context.Context, req writer.TranslateRequest) (writer.WriteResponse, error)
	GenerateImages(ctx context.Context, req writer.ImageGenerationRequest) (writer.WriteResponse, error)
}

var _ Writer = (*writer.Service)(nil)

// Server связывает маршруты с Writer.
type Server struct {
	writer Writer
}

// NewServer возвращает http.Handler со всеми маршрутами и middleware.
//
// Порядок middleware снаружи внутрь: CORS → request tracking → recovery → mux.
func NewServer(w Writer, corsOrigins []string) http.Handler {
	s := &Server{writer: w}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("POST /api/v1/write", s.handleWrite)
	mux.HandleFunc("GET /api/v1/write/{article_id}", s.handleGet)
	mux.HandleFunc("POST /api/v1/write/translate", s.handleTranslate)
	mux.HandleFunc("POST /api/v1/write/generate-images", s.handleGenerateImages)

	return withCORS(corsOrigins, withRequestTracking(withRecovery(mux)))
}

type errorResponse struct {
	Detail string `json:"detail"`
}

func encode(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		utils.Error("Failed to encode response", "error", err)
	}
}

func encodeError(w http.ResponseWriter, status int, detail string) {
	encode(w, status, errorResponse{Detail: detail})
}

// decode читает JSON тело. Ошибка формата отвечает 422, как ошибка валидации.
func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			encodeError(w, http.StatusUnprocessableEntity, "request body is required")
			return false
		}
		encodeError(w, http.StatusUnprocessableEntity, fmt.Sprintf("invalid request body: %v", err))
		return false
	}
	return true
}

// writeServiceError отображает ошибку сервиса на HTTP статус.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error, prefix string) {
	var reqErr *writer.RequestError
	if errors.As(err, &reqErr) {
		status := http.StatusUnprocessableEntity
		if reqErr.Kind == writer.KindNotFound {
			status = http.StatusNotFound
		}
		encodeError(w, status, reqErr.Error())
		return
	}

	utils.Error("Request failed", "path", r.URL.Path, "error", err)
	encodeError(w, http.StatusInternalServerError, prefix+err.Error())
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	encode(w, http.StatusOK, map[string]string{"message": "Welcome to the Context Article Writing API"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	encode(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleWrite(w http.ResponseWriter, r *http.Request) {
	var req writer.WriteRequest
	if !decode(w, r, &req) {
		return
	}

	resp, err := s.writer.Write(r.Context(), req, r.Header.Get(TraceHeader))
	if err != nil {
		writeServiceError(w, r, err, "")
		return
	}
	if resp.TraceID != nil {
		w.Header().Set(TraceHeader, *resp.TraceID)
	}
	encode(w, http.StatusOK, resp)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	resp, err := s.writer.Get(r.Context(), r.PathValue("article_id"))
	if err != nil {
		writeServiceError(w, r, err, "")
		return
	}
	encode(w, http.StatusOK, resp)
}

func (s *Server) handleTranslate(w http.ResponseWriter, r *http.Request) {
	var req writer.TranslateRequest
	if !decode(w, r, &req) {
		return
	}

	resp, err := s.writer.Translate(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err, "Translation error: ")
		return
	}
	encode(w, http.StatusOK, resp)
}

func (s *Server) handleGenerateImages(w http.ResponseWriter, r *http.Request) {
	var req writer.ImageGenerationRequest
	if !decode(w, r, &req) {
		return
	}

	resp, err := s.writer.GenerateImages(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err, "Image generation error: ")
		return
	}
	encode(w, http.StatusOK, resp)
}
