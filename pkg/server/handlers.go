package server

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"

	"github.com/perbu/regrag/pkg/answer"
)

const (
	maxBodyBytes = 1 << 20
	apology      = "I apologize, but I encountered an error processing your question. Please try again."
)

type Handlers struct {
	answerer Answerer
}

func NewHandlers(a Answerer) *Handlers {
	return &Handlers{answerer: a}
}

type askRequest struct {
	Question string `json:"question"`
}

type askResponse struct {
	Answer  string   `json:"answer"`
	Sources []string `json:"sources"`
	Error   *string  `json:"error"` // null on success
}

func (h *Handlers) HandleAsk(w http.ResponseWriter, r *http.Request) {
	id := RequestID(r.Context())

	var req askRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, askResponse{Sources: []string{}, Error: errorText("invalid request body: " + err.Error())})
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		writeJSON(w, http.StatusBadRequest, askResponse{Sources: []string{}, Error: errorText(answer.ErrEmptyQuestion.Error())})
		return
	}

	resp, err := h.answerer.Answer(r.Context(), req.Question)
	sources := resp.Sources
	if sources == nil {
		sources = []string{}
	}
	if err != nil {
		status := http.StatusBadGateway
		switch answer.KindOf(err) {
		case answer.KindInput:
			status = http.StatusBadRequest
		case answer.KindUnavailable:
			status = http.StatusServiceUnavailable
		}
		log.Printf("[%s] ask failed: %v", id, err)
		writeJSON(w, status, askResponse{Answer: apology, Sources: sources, Error: errorText(err.Error())})
		return
	}

	log.Printf("[%s] answered with %d sources", id, len(sources))
	writeJSON(w, http.StatusOK, askResponse{Answer: resp.Answer, Sources: sources})
}

func errorText(s string) *string { return &s }

func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (h *Handlers) HandleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Welcome to the Ontario Fishing Regulations QA API",
		"ask":     "POST /ask",
		"health":  "/health",
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Error encoding response: %v", err)
	}
}
