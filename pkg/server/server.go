package server

import (
	"context"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/perbu/regrag/pkg/answer"
)

// Answerer is the question-answering service behind /ask.
type Answerer interface {
	Answer(ctx context.Context, question string) (answer.Response, error)
}

// Options configures the HTTP server.
type Options struct {
	Addr           string
	AllowedOrigins []string // "*" allows any origin
}

// New returns an http.Server exposing /ask, /health and /.
func New(a Answerer, opts Options) *http.Server {
	handlers := NewHandlers(a)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /ask", handlers.HandleAsk)
	mux.HandleFunc("GET /health", handlers.HandleHealth)
	mux.HandleFunc("GET /{$}", handlers.HandleRoot)

	return &http.Server{
		Addr:              opts.Addr,
		Handler:           withRequestID(withCORS(mux, opts.AllowedOrigins)),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

type ctxKey struct{}

// RequestID returns the id assigned to the request carried by ctx.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		start := time.Now()
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, id)))
		log.Printf("[%s] %s %s (%s)", id, r.Method, r.URL.Path, time.Since(start).Round(time.Millisecond))
	})
}

func withCORS(next http.Handler, origins []string) http.Handler {
	allowAny := false
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		if o == "*" {
			allowAny = true
		}
		allowed[o] = true
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && (allowAny || allowed[origin]) {
			if allowAny {
				w.Header().Set("Access-Control-Allow-Origin", "*")
			} else {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Add("Vary", "Origin")
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", allowHeaders(r))
		}
		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func allowHeaders(r *http.Request) string {
	if h := r.Header.Get("Access-Control-Request-Headers"); h != "" {
		return h
	}
	return strings.Join([]string{"Content-Type", "X-Request-ID"}, ", ")
}
