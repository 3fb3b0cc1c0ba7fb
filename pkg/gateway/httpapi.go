package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/fata/pkg/runtime"
)

// ChatRequest is the body of POST /chat.
type ChatRequest struct {
	ThreadID string `json:"thread_id"`
	Message  string `json:"message"`
}

// ChatResponse is the body returned by POST /chat.
type ChatResponse struct {
	Response string `json:"response"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// APIHandler exposes the conversation boundary over HTTP. This is glue
// around Service, not part of the orchestration core.
type APIHandler struct {
	service *Service
}

func NewAPIHandler(service *Service) *APIHandler {
	return &APIHandler{service: service}
}

// Register installs the API routes on the given mux.
func (h *APIHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /threads", h.CreateThreadHandler)
	mux.HandleFunc("GET /threads/{id}", h.GetThreadHandler)
	mux.HandleFunc("POST /chat", h.ChatHandler)
	mux.HandleFunc("GET /processes", h.ProcessesHandler)
}

func (h *APIHandler) CreateThreadHandler(w http.ResponseWriter, r *http.Request) {
	thread, err := h.service.CreateThread(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, thread)
}

func (h *APIHandler) GetThreadHandler(w http.ResponseWriter, r *http.Request) {
	thread, err := h.service.GetThread(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, thread)
}

func (h *APIHandler) ChatHandler(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	if req.ThreadID == "" || req.Message == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "thread_id and message are required"})
		return
	}

	response, err := h.service.Chat(r.Context(), req.ThreadID, req.Message)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ChatResponse{Response: response})
}

func (h *APIHandler) ProcessesHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.service.ListProcesses())
}

func writeError(w http.ResponseWriter, err error) {
	if errors.Is(err, runtime.ErrThreadNotFound) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "thread not found"})
		return
	}
	log.Error().Err(err).Msg("request failed")
	writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}
