package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/powerpulse/powerpulse/internal/config"
	"github.com/powerpulse/powerpulse/internal/domain"
	"github.com/powerpulse/powerpulse/internal/service/progress"
	"github.com/powerpulse/powerpulse/internal/usecase"
)

// Server aggregates handlers dependencies.
type Server struct {
	Cfg        config.Config
	Uploads    *usecase.UploadService
	Reports    usecase.ReportService
	Metrics    usecase.MetricsService
	Progress   *progress.Tracker
	DBCheck    func(ctx context.Context) error
	RedisCheck func(ctx context.Context) error
}

// NewServer constructs an HTTP server with all handlers and checks wired.
// RedisCheck may be nil when Redis is not configured.
func NewServer(cfg config.Config, uploads *usecase.UploadService, reports usecase.ReportService, metrics usecase.MetricsService, tracker *progress.Tracker, dbCheck, redisCheck func(context.Context) error) *Server {
	return &Server{Cfg: cfg, Uploads: uploads, Reports: reports, Metrics: metrics, Progress: tracker, DBCheck: dbCheck, RedisCheck: redisCheck}
}

var (
	vldOnce sync.Once
	vld     *validator.Validate
)

func getValidator() *validator.Validate {
	vldOnce.Do(func() { vld = validator.New() })
	return vld
}

type uploadRequest struct {
	FileName string `validate:"required,max=255"`
	FileSize int64  `validate:"required,gt=0"`
}

// allowedTranscriptMIME accepts JSON content plus any text/* detection, since
// transcripts larger than the sniffer's read window degrade to plain text.
func allowedTranscriptMIME(m string) bool {
	m = strings.ToLower(m)
	if strings.HasPrefix(m, "text/") {
		return true
	}
	return m == "application/json" || strings.HasPrefix(m, "application/json;")
}

// UploadJSONHandler accepts a transcript file and starts the background
// pipeline. Only size and shape problems fail synchronously; everything after
// the 202 is observable through the progress endpoints.
func (s *Server) UploadJSONHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// Accept negotiation: only JSON responses supported
		if a := r.Header.Get("Accept"); a != "" && a != "*/*" && !strings.Contains(a, "application/json") {
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			w.WriteHeader(http.StatusNotAcceptable)
			_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"code": "INVALID_ARGUMENT", "message": "not acceptable", "details": map[string]any{"accept": a}}})
			return
		}
		if !strings.Contains(r.Header.Get("Content-Type"), "multipart/form-data") {
			writeError(w, r, fmt.Errorf("%w: content-type must be multipart/form-data", domain.ErrInvalidArgument), nil)
			return
		}
		// Cap the whole multipart body; the exact payload limit is enforced
		// again on the file part once read.
		maxBytes := s.Cfg.MaxFileSize
		r.Body = http.MaxBytesReader(w, r.Body, maxBytes+1<<20)
		if err := r.ParseMultipartForm(maxBytes + 1<<20); err != nil {
			if strings.Contains(strings.ToLower(err.Error()), "too large") {
				writeError(w, r, fmt.Errorf("%w: multipart body exceeds %d bytes", domain.ErrTooLarge, maxBytes), map[string]any{"max_bytes": maxBytes})
				return
			}
			writeError(w, r, fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err), nil)
			return
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			writeError(w, r, fmt.Errorf("%w: file field required", domain.ErrInvalidArgument), map[string]string{"field": "file"})
			return
		}
		defer func() { _ = file.Close() }()
		payload, err := io.ReadAll(file)
		if err != nil {
			writeError(w, r, fmt.Errorf("%w: file read: %v", domain.ErrInvalidArgument, err), nil)
			return
		}

		req := uploadRequest{FileName: header.Filename, FileSize: int64(len(payload))}
		if err := getValidator().Struct(req); err != nil {
			verrs := map[string]string{}
			if ve, ok := err.(validator.ValidationErrors); ok {
				for _, fe := range ve {
					verrs[strings.ToLower(fe.Field())] = fe.Tag()
				}
			}
			writeError(w, r, fmt.Errorf("%w: validation failed", domain.ErrInvalidArgument), verrs)
			return
		}

		// Content sniffing; PDFs, archives and the like are rejected before parsing.
		mime := mimetype.Detect(payload)
		if !allowedTranscriptMIME(mime.String()) {
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			w.WriteHeader(http.StatusUnsupportedMediaType)
			_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"code": "INVALID_ARGUMENT", "message": "unsupported media type for transcript", "details": map[string]any{"mime": mime.String(), "filename": header.Filename}}})
			return
		}

		force, _ := strconv.ParseBool(r.FormValue("force_reprocess"))
		uploadID, err := s.Uploads.Accept(r.Context(), payload, force)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{
			"upload_id":               uploadID,
			"success":                 true,
			"message":                 "Upload accepted; analysis is running in the background",
			"conversations_processed": 0,
			"messages_processed":      0,
			"status_url":              "/api/progress/" + uploadID,
		})
	}
}

const lastErrorsShown = 5

type progressStatistics struct {
	domain.UploadStatistics
	ErrorsCount int `json:"errors_count"`
}

type progressSnapshot struct {
	UploadID               string               `json:"upload_id"`
	Status                 string               `json:"status"`
	ProgressPercentage     float64              `json:"progress_percentage"`
	CurrentStage           string               `json:"current_stage"`
	Details                string               `json:"details"`
	TotalConversations     int                  `json:"total_conversations"`
	ProcessedConversations int                  `json:"processed_conversations"`
	TotalJobs              int                  `json:"total_jobs"`
	CompletedJobs          int                  `json:"completed_jobs"`
	FailedJobs             int                  `json:"failed_jobs"`
	StartTime              time.Time            `json:"start_time"`
	LastUpdate             time.Time            `json:"last_update"`
	EndTime                *time.Time           `json:"end_time,omitempty"`
	DurationSeconds        float64              `json:"duration_seconds"`
	Statistics             progressStatistics   `json:"statistics"`
	Errors                 []domain.UploadError `json:"errors"`
}

func snapshotFrom(p domain.UploadProgress) progressSnapshot {
	errs := p.Errors
	if len(errs) > lastErrorsShown {
		errs = errs[len(errs)-lastErrorsShown:]
	}
	return progressSnapshot{
		UploadID:               p.UploadID,
		Status:                 string(p.Status),
		ProgressPercentage:     math.Round(p.Percentage()*10) / 10,
		CurrentStage:           string(p.Stage),
		Details:                p.Details,
		TotalConversations:     p.TotalConversations,
		ProcessedConversations: p.ProcessedConversations,
		TotalJobs:              p.TotalJobs,
		CompletedJobs:          p.CompletedJobs,
		FailedJobs:             p.FailedJobs,
		StartTime:              p.StartTime,
		LastUpdate:             p.LastUpdate,
		EndTime:                p.EndTime,
		DurationSeconds:        p.Duration().Seconds(),
		Statistics:             progressStatistics{UploadStatistics: p.Statistics, ErrorsCount: len(p.Errors)},
		Errors:                 errs,
	}
}

// ProgressHandler returns the live snapshot for one upload, carrying at most
// the last five recorded errors.
func (s *Server) ProgressHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uploadID := chi.URLParam(r, "uploadID")
		if v := ValidateUploadID(uploadID); !v.Valid {
			writeError(w, r, fmt.Errorf("%w: invalid upload id", domain.ErrInvalidArgument), v.Errors)
			return
		}
		p, ok := s.Progress.Get(uploadID)
		if !ok {
			writeError(w, r, fmt.Errorf("%w: upload %s", domain.ErrNotFound, uploadID), nil)
			return
		}
		writeJSON(w, http.StatusOK, snapshotFrom(p))
	}
}

// ProgressListHandler returns a summary of every upload that has not reached
// a terminal status, keyed by upload id.
func (s *Server) ProgressListHandler() http.HandlerFunc {
	type activeUpload struct {
		Status                 string    `json:"status"`
		ProgressPercentage     float64   `json:"progress_percentage"`
		CurrentStage           string    `json:"current_stage"`
		ProcessedConversations int       `json:"processed_conversations"`
		TotalConversations     int       `json:"total_conversations"`
		StartTime              time.Time `json:"start_time"`
		DurationSeconds        float64   `json:"duration_seconds"`
	}
	return func(w http.ResponseWriter, _ *http.Request) {
		active := map[string]activeUpload{}
		for _, p := range s.Progress.All() {
			if p.Status.Terminal() {
				continue
			}
			active[p.UploadID] = activeUpload{
				Status:                 string(p.Status),
				ProgressPercentage:     math.Round(p.Percentage()*10) / 10,
				CurrentStage:           string(p.Stage),
				ProcessedConversations: p.ProcessedConversations,
				TotalConversations:     p.TotalConversations,
				StartTime:              p.StartTime,
				DurationSeconds:        p.Duration().Seconds(),
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{"active_uploads": active, "total_active": len(active)})
	}
}

// CancelUploadHandler aborts a running upload. Cancellation is asynchronous:
// the pipeline observes the cancelled context and records the terminal status,
// so the handler answers 202 rather than 200.
func (s *Server) CancelUploadHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uploadID := chi.URLParam(r, "uploadID")
		if v := ValidateUploadID(uploadID); !v.Valid {
			writeError(w, r, fmt.Errorf("%w: invalid upload id", domain.ErrInvalidArgument), v.Errors)
			return
		}
		p, ok := s.Progress.Get(uploadID)
		if !ok {
			writeError(w, r, fmt.Errorf("%w: upload %s", domain.ErrNotFound, uploadID), nil)
			return
		}
		if p.Status.Terminal() {
			writeError(w, r, fmt.Errorf("%w: upload %s already finished", domain.ErrConflict, uploadID), map[string]string{"status": string(p.Status)})
			return
		}
		if !s.Uploads.Cancel(uploadID) {
			// Tracked but not yet registered for cancellation (the pipeline
			// goroutine has not started) or finishing this instant.
			writeError(w, r, fmt.Errorf("%w: upload %s is not cancellable right now", domain.ErrConflict, uploadID), nil)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{"upload_id": uploadID, "message": "cancellation requested"})
	}
}

// ReadyzHandler returns a readiness handler that probes the database, the
// optional Redis and the AI provider configuration.
func (s *Server) ReadyzHandler() http.HandlerFunc {
	type check struct {
		Name    string `json:"name"`
		OK      bool   `json:"ok"`
		Details string `json:"details,omitempty"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		checks := make([]check, 0, 3)
		// DB
		if s.DBCheck != nil {
			if err := s.DBCheck(ctx); err != nil {
				checks = append(checks, check{Name: "db", OK: false, Details: err.Error()})
			} else {
				checks = append(checks, check{Name: "db", OK: true})
			}
		}
		// Redis (optional)
		if s.RedisCheck != nil {
			if err := s.RedisCheck(ctx); err != nil {
				checks = append(checks, check{Name: "redis", OK: false, Details: err.Error()})
			} else {
				checks = append(checks, check{Name: "redis", OK: true})
			}
		}
		// AI provider
		if err := s.providerConfigured(); err != nil {
			checks = append(checks, check{Name: "ai_provider", OK: false, Details: err.Error()})
		} else {
			checks = append(checks, check{Name: "ai_provider", OK: true})
		}
		ok := true
		for _, c := range checks {
			if !c.OK {
				ok = false
				break
			}
		}
		st := http.StatusOK
		if !ok {
			st = http.StatusServiceUnavailable
		}
		writeJSON(w, st, map[string]any{"checks": checks})
	}
}

func (s *Server) providerConfigured() error {
	switch s.Cfg.AIService {
	case "stub":
		return nil
	case "gemini":
		if s.Cfg.GeminiAPIKey == "" {
			return fmt.Errorf("GEMINI_API_KEY is empty")
		}
		return nil
	case "openai":
		if s.Cfg.OpenAIAPIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is empty")
		}
		return nil
	default:
		return fmt.Errorf("unknown AI service %q", s.Cfg.AIService)
	}
}
