// Package server exposes the inference service over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"mime"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"bfv-inference/envelope"
	"bfv-inference/he"
	"bfv-inference/service"
)

// DefaultMaxBodySize bounds request envelopes.
const DefaultMaxBodySize = 64 * 1024 * 1024

// PayloadField is the multipart field carrying the envelope.
const PayloadField = "payload"

// multipartOverhead is the room left for boundaries, part headers and small
// form fields on top of the envelope limit.
const multipartOverhead = 64 * 1024

// Handler routes HTTP requests to a service.Service.
type Handler struct {
	svc         *service.Service
	maxBodySize int64
	router      *mux.Router
	handler     http.Handler
}

// NewHandler builds the router. maxBodySize <= 0 selects
// DefaultMaxBodySize.
func NewHandler(svc *service.Service, maxBodySize int64) *Handler {
	if maxBodySize <= 0 {
		maxBodySize = DefaultMaxBodySize
	}
	h := &Handler{svc: svc, maxBodySize: maxBodySize, router: mux.NewRouter()}

	h.router.HandleFunc("/health", healthHandler).Methods("GET")
	h.router.HandleFunc("/api/params", h.paramsHandler).Methods("GET")
	h.router.HandleFunc("/api/models", h.modelsHandler).Methods("GET")
	h.router.HandleFunc("/api/models/{name}", h.modelHandler).Methods("GET")
	h.router.HandleFunc("/api/models/{name}/inference", h.inferenceHandler).Methods("POST", "OPTIONS")
	h.handler = enableCORS(h.router)

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.handler.ServeHTTP(w, r)
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
	})
}

func (h *Handler) paramsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.svc.Params())
}

func (h *Handler) modelsHandler(w http.ResponseWriter, r *http.Request) {
	infos, err := h.svc.Models(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, infos)
}

func (h *Handler) modelHandler(w http.ResponseWriter, r *http.Request) {
	info, err := h.svc.Model(r.Context(), mux.Vars(r)["name"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, info)
}

func (h *Handler) inferenceHandler(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	body, err := h.readEnvelope(w, r)
	if err != nil {
		log.Printf("❌ %s: failed to read request: %v", name, err)
		writeError(w, err)
		return
	}
	log.Printf("Received inference request for %s (%d bytes)", name, len(body))

	out, err := h.svc.Infer(r.Context(), name, body)
	if err != nil {
		log.Printf("❌ %s: inference failed: %v", name, err)
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", fmt.Sprint(len(out)))
	if _, err := w.Write(out); err != nil {
		log.Printf("❌ %s: failed to write response: %v", name, err)
	}
}

// readEnvelope accepts the envelope either as the raw body or as the
// PayloadField part of a multipart form.
func (h *Handler) readEnvelope(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		return envelope.ReadBody(r.Body, h.maxBodySize)
	}

	// Parts before the payload are skipped unread, so the whole form is
	// bounded here.
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize+multipartOverhead)
	mr, err := r.MultipartReader()
	if err != nil {
		return nil, &requestError{fmt.Errorf("invalid multipart body: %w", err)}
	}
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return nil, &requestError{fmt.Errorf("multipart body has no %q field", PayloadField)}
		}
		if err != nil {
			return nil, &requestError{fmt.Errorf("invalid multipart body: %w", err)}
		}
		if part.FormName() == PayloadField {
			defer part.Close()
			return envelope.ReadBody(part, h.maxBodySize)
		}
		part.Close()
	}
}

// requestError marks malformed requests that are not stream corruption.
type requestError struct{ err error }

func (e *requestError) Error() string { return e.err.Error() }
func (e *requestError) Unwrap() error { return e.err }

// StatusCode maps pipeline errors to HTTP status codes.
func StatusCode(err error) int {
	var (
		reqErr *requestError
		maxErr *http.MaxBytesError
	)
	switch {
	case errors.Is(err, envelope.ErrTooLarge), errors.As(err, &maxErr):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, he.ErrModelNotFound):
		return http.StatusNotFound
	case errors.Is(err, he.ErrFeatureCountMismatch):
		return http.StatusUnprocessableEntity
	case errors.Is(err, he.ErrInvalidModelName),
		errors.Is(err, he.ErrCorruptStream),
		errors.Is(err, he.ErrIncompatibleParameters),
		errors.As(err, &reqErr):
		return http.StatusBadRequest
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, err error) {
	http.Error(w, err.Error(), StatusCode(err))
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("❌ failed to encode response: %v", err)
	}
}
