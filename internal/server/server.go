// Package server exposes the catalog, the grader and tutor sessions as a JSON
// HTTP API.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"reflect"
	"strings"

	"pybuddy/internal/api"
	"pybuddy/internal/catalog"
	"pybuddy/internal/config"
	"pybuddy/internal/grader"
	"pybuddy/internal/llm"
	"pybuddy/internal/middleware"
	"pybuddy/internal/tutor"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
)

const maxBodyBytes = 1 << 20

type Server struct {
	catalog   *catalog.Catalog
	grader    *grader.Grader
	tutor     *tutor.Service
	limiter   *middleware.IPRateLimiter
	validator *validator.Validate
}

func New(cfg config.Config, cat *catalog.Catalog, g *grader.Grader, t *tutor.Service) *Server {
	return &Server{
		catalog:   cat,
		grader:    g,
		tutor:     t,
		limiter:   middleware.NewIPRateLimiter(rate.Every(cfg.RateLimit.Every), cfg.RateLimit.Burst),
		validator: newValidator(),
	}
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Limiter is the per-client limiter guarding the grading and chat endpoints.
func (s *Server) Limiter() *middleware.IPRateLimiter { return s.limiter }

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(middleware.Logger(slog.Default()))
	r.Use(chimw.Recoverer)
	r.Use(middleware.Metrics)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"https://*", "http://*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Route("/challenges", func(r chi.Router) {
			r.Get("/", s.handleListChallenges)
			r.Get("/{challengeID}", s.handleGetChallenge)
			r.With(s.limiter.Middleware).Post("/{challengeID}/grade", s.handleGrade)
		})

		r.Get("/characters", s.handleListCharacters)

		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", s.handleCreateSession)
			r.Route("/{sessionID}", func(r chi.Router) {
				r.Get("/", s.handleGetSession)
				r.Delete("/", s.handleDeleteSession)
				r.Put("/character", s.handleSelectCharacter)
				r.Put("/page", s.handleSetPage)
				r.With(s.limiter.Middleware).Post("/messages", s.handleSendMessage)
			})
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("Failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, api.ErrorResponse{Error: message})
}

// parseJSON decodes a size-limited body into v and validates it. An empty
// body is accepted and leaves v at its zero value before validation.
func (s *Server) parseJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return fmt.Errorf("request body exceeds %d bytes", tooLarge.Limit)
		}
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return validationError(s.validator.Struct(v))
}

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fe.Field()+" is required")
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s must be one of [%s]", fe.Field(), fe.Param()))
		case "max":
			msgs = append(msgs, fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed %s validation", fe.Field(), fe.Tag()))
		}
	}
	return errors.New(strings.Join(msgs, "; "))
}

// writeDomainError maps package sentinels to HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	var perr *tutor.ProviderError
	switch {
	case errors.As(err, &perr):
		writeError(w, http.StatusBadGateway, perr.Error())
	case errors.Is(err, catalog.ErrNotFound), errors.Is(err, tutor.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, tutor.ErrEmptyMessage),
		errors.Is(err, tutor.ErrInvalidPage),
		errors.Is(err, llm.ErrMissingAPIKey),
		errors.Is(err, llm.ErrMissingModel),
		errors.Is(err, llm.ErrUnknownProvider):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		slog.Error("Request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
