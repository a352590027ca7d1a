package api

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/minicd/minicd/logger"
)

// router returns a chi router with the postreceive route and middlewares
// mounted. Unknown paths fall through to chi's 404.
func (s *Server) router() chi.Router {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer,
		loggerMiddleware(s.logger),
	)
	r.Post("/api/postreceive", s.postReceive)
	return r
}

// loggerMiddleware logs every request with its status and duration.
func loggerMiddleware(l logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			l.WithFields(
				logger.IntField("status", ww.Status()),
				logger.DurationField("Δ", time.Since(t)),
			).Debug("%s %s", r.Method, r.URL.Path)
		})
	}
}

// postReceive handles the report a repository hook sends after a push.
// The body is whitespace-separated tokens: remote, commit and ref name,
// with anything after the third token ignored.
func (s *Server) postReceive(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, fmt.Sprintf("reading request body: %v", err), http.StatusInternalServerError)
		return
	}
	if !utf8.Valid(body) {
		http.Error(w, "request body is not valid utf-8", http.StatusBadRequest)
		return
	}

	args := strings.Fields(string(body))
	if len(args) < 3 {
		http.Error(w, "missing body args: "+missingParam(len(args)), http.StatusBadRequest)
		return
	}

	if err := s.pipeline.Run(r.Context(), args[0], args[1], args[2]); err != nil {
		s.logger.Error("Pipeline failed: %v", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}

func missingParam(n int) string {
	switch n {
	case 0:
		return "remote parameter"
	case 1:
		return "commit parameter"
	default:
		return "reference name parameter"
	}
}
