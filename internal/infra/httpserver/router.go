package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	appjobs "finanalyzer/internal/application/jobs"
	"finanalyzer/internal/domain/jobs"
	"finanalyzer/internal/middleware"
)

// Options carries the cross-cutting pieces the router mounts around the
// handlers.
type Options struct {
	Checkers map[string]middleware.HealthChecker
	Flags    map[string]bool
	Info     map[string]string
	APIKeys  map[string]string
	// Rate limit per client IP; zero values disable limiting.
	RateCapacity int
	RateRefill   int
}

type Router struct {
	intake *appjobs.Intake
	log    *slog.Logger
}

func NewRouter(intake *appjobs.Intake, log *slog.Logger, opts Options) http.Handler {
	r := &Router{intake: intake, log: log}
	mux := chi.NewRouter()

	mux.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))
	mux.Use(middleware.Logging(log))
	mux.Use(middleware.MetricsMiddleware)
	if opts.RateCapacity > 0 && opts.RateRefill > 0 {
		mux.Use(middleware.RateLimitMiddleware(opts.RateCapacity, opts.RateRefill))
	}
	mux.Use(middleware.APIKeyAuth(opts.APIKeys))

	mux.Get("/health", middleware.HealthHandler(opts.Checkers, opts.Flags, opts.Info))
	mux.Get("/ready", middleware.ReadinessHandler)
	mux.Get("/live", middleware.LivenessHandler)
	mux.Get("/metrics", middleware.MetricsHandler)

	mux.Post("/analyze", r.wrap(r.handleAnalyze))
	mux.Get("/result/{job_id}", r.wrap(r.handleResult))
	mux.Get("/jobs", r.wrap(r.handleJobs))

	return mux
}

type handlerFunc func(http.ResponseWriter, *http.Request) error

// badRequest marks caller errors so wrap maps them to 400.
type badRequest struct{ msg string }

func (e badRequest) Error() string { return e.msg }

func (r *Router) wrap(h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if err := h(w, req); err != nil {
			if errors.Is(err, jobs.ErrJobNotFound) {
				writeJSONError(w, http.StatusNotFound, "job not found")
				return
			}
			var br badRequest
			if errors.As(err, &br) {
				writeJSONError(w, http.StatusBadRequest, br.msg)
				return
			}
			r.log.Error("request failed",
				slog.String("path", req.URL.Path),
				slog.String("error", err.Error()))
			writeJSONError(w, http.StatusInternalServerError, err.Error())
		}
	}
}

func writeJSONError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"detail": msg})
}

func writeJSON(w http.ResponseWriter, code int, v any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	return json.NewEncoder(w).Encode(v)
}

// POST /analyze
// Multipart fields: file (required PDF), query, email, name (all optional).
// Returns {job_id, status:"pending"} without waiting for the analysis.
func (r *Router) handleAnalyze(w http.ResponseWriter, req *http.Request) error {
	if err := req.ParseMultipartForm(middleware.MaxUploadBytes); err != nil {
		return badRequest{msg: fmt.Sprintf("invalid multipart form: %v", err)}
	}
	file, header, err := req.FormFile("file")
	if err != nil {
		return badRequest{msg: "file field is required"}
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, middleware.MaxUploadBytes+1))
	if err != nil {
		return fmt.Errorf("read upload: %w", err)
	}
	if err := middleware.ValidateUpload(header.Filename, data); err != nil {
		return badRequest{msg: err.Error()}
	}

	query, err := middleware.ValidateQuery(req.FormValue("query"))
	if err != nil {
		return badRequest{msg: err.Error()}
	}
	email := middleware.SanitizeString(req.FormValue("email"))
	if err := middleware.ValidateEmail(email); err != nil {
		return badRequest{msg: err.Error()}
	}
	var name *string
	if n := middleware.SanitizeString(req.FormValue("name")); n != "" {
		name = &n
	}

	jobID, err := r.intake.Submit(req.Context(), appjobs.Submission{
		Filename: header.Filename,
		Data:     data,
		Query:    query,
		Email:    email,
		Name:     name,
	})
	if err != nil {
		return err
	}
	middleware.IncrementJobsSubmitted()

	return writeJSON(w, http.StatusOK, map[string]string{
		"job_id": jobID,
		"status": string(jobs.StatusPending),
	})
}

// GET /result/{job_id}
// 404 for unknown ids. Pending/error jobs return {job_id, status, error};
// done jobs add the full structured result.
func (r *Router) handleResult(w http.ResponseWriter, req *http.Request) error {
	jobID := chi.URLParam(req, "job_id")
	view, err := r.intake.Result(req.Context(), jobID)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, view)
}

// GET /jobs?limit=20
func (r *Router) handleJobs(w http.ResponseWriter, req *http.Request) error {
	limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))
	limit = middleware.ValidateLimit(limit)

	list, err := r.intake.ListJobs(req.Context(), limit)
	if err != nil {
		return err
	}
	if list == nil {
		list = []*jobs.Job{}
	}
	return writeJSON(w, http.StatusOK, map[string]any{"jobs": list})
}
