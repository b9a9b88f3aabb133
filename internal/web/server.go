package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"

	"github.com/lvcoi/clipfetch/internal/downloader"
)

const maxRequestBodyBytes = 1 << 20 // 1 MiB

const robotsTxt = "User-agent: *\nAllow: /\nDisallow: /serve/\nDisallow: /api/\n"

// Service is the orchestrator surface the HTTP layer drives.
type Service interface {
	ExtractMetadata(ctx context.Context, url string) (downloader.VideoRecord, error)
	RequestDownload(ctx context.Context, req downloader.DownloadRequest) (downloader.Artifact, error)
	OpenArtifact(name string) (*downloader.ServedArtifact, error)
}

// Options configures a Server. Service is required.
type Options struct {
	Service Service
	// Events, when set, is mounted at /ws.
	Events http.Handler
	// Pending reports scheduled deletions for /api/status.
	Pending func() int
	Logger  *slog.Logger
}

// Server exposes the orchestrator over HTTP.
type Server struct {
	svc       Service
	events    http.Handler
	pending   func() int
	logger    *slog.Logger
	validate  *validator.Validate
	startedAt time.Time
}

// urlRequest is the body of /api/process and /api/bot-download.
type urlRequest struct {
	URL string `json:"url" validate:"required,tiktokurl"`
}

type processResponse struct {
	URL string `json:"url"`
	downloader.VideoRecord
}

type botDownloadResponse struct {
	VideoURL  string `json:"video_url"`
	AudioURL  string `json:"audio_url"`
	Title     string `json:"title"`
	Author    string `json:"author"`
	Thumbnail string `json:"thumbnail"`
	Duration  int    `json:"duration"`
	Success   bool   `json:"success"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func NewServer(opts Options) (*Server, error) {
	if opts.Service == nil {
		return nil, errors.New("web: service is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	validate := validator.New()
	if err := validate.RegisterValidation("tiktokurl", func(fl validator.FieldLevel) bool {
		return downloader.IsValidURL(fl.Field().String())
	}); err != nil {
		return nil, fmt.Errorf("registering url validator: %w", err)
	}
	return &Server{
		svc:       opts.Service,
		events:    opts.Events,
		pending:   opts.Pending,
		logger:    logger.With("component", "web"),
		validate:  validate,
		startedAt: time.Now(),
	}, nil
}

// Handler returns the routed handler with security headers and request
// logging applied.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/process", s.handleProcess).Methods(http.MethodPost)
	api.HandleFunc("/download/{format}", s.handleDownload).Methods(http.MethodGet)
	api.HandleFunc("/bot-download", s.handleBotDownload).Methods(http.MethodPost)
	api.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)

	// Unprefixed aliases kept for older clients.
	r.HandleFunc("/process", s.handleProcess).Methods(http.MethodPost)
	r.HandleFunc("/download/{format}", s.handleDownload).Methods(http.MethodGet)
	r.HandleFunc("/bot-download", s.handleBotDownload).Methods(http.MethodPost)

	r.HandleFunc("/serve/{filename}", s.handleServe).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/robots.txt", handleRobots).Methods(http.MethodGet)
	if s.events != nil {
		r.Handle("/ws", s.events)
	}

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSONError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	return withSecurityHeaders(s.withRequestLog(r))
}

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      10 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()
	s.logger.Info("listening", "addr", addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	req, reqErr := s.decodeURLRequest(w, r)
	if reqErr != nil {
		writeJSONError(w, reqErr.status, reqErr.message)
		return
	}
	record, err := s.svc.ExtractMetadata(r.Context(), req.URL)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, processResponse{URL: req.URL, VideoRecord: record})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	url := strings.TrimSpace(r.URL.Query().Get("url"))
	if !downloader.IsValidURL(url) {
		writeJSONError(w, http.StatusBadRequest, "Invalid URL")
		return
	}
	format, err := downloader.ParseFormat(mux.Vars(r)["format"])
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "Invalid format")
		return
	}

	artifact, err := s.svc.RequestDownload(r.Context(), downloader.DownloadRequest{URL: url, Format: format})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	served, err := s.svc.OpenArtifact(artifact.Name)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	defer served.Close()

	h := w.Header()
	h.Set("Content-Type", served.ContentType)
	h.Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", served.DownloadName))
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Expose-Headers", "Content-Disposition")
	http.ServeContent(w, r, served.DownloadName, served.ModTime, served)
}

func (s *Server) handleBotDownload(w http.ResponseWriter, r *http.Request) {
	req, reqErr := s.decodeURLRequest(w, r)
	if reqErr != nil {
		writeJSONError(w, reqErr.status, reqErr.message)
		return
	}
	ctx := r.Context()
	record, err := s.svc.ExtractMetadata(ctx, req.URL)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	video, err := s.svc.RequestDownload(ctx, downloader.DownloadRequest{URL: req.URL, Format: downloader.FormatVideo, Record: &record})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	audio, err := s.svc.RequestDownload(ctx, downloader.DownloadRequest{URL: req.URL, Format: downloader.FormatAudio, Record: &record})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	base := baseURL(r)
	writeJSON(w, http.StatusOK, botDownloadResponse{
		VideoURL:  base + "/serve/" + video.Name,
		AudioURL:  base + "/serve/" + audio.Name,
		Title:     record.Title,
		Author:    record.Uploader,
		Thumbnail: record.Thumbnail,
		Duration:  record.Duration,
		Success:   true,
	})
}

func (s *Server) handleServe(w http.ResponseWriter, r *http.Request) {
	served, err := s.svc.OpenArtifact(mux.Vars(r)["filename"])
	if err != nil {
		if downloader.CategoryOf(err) == downloader.CategoryNotFound {
			http.Error(w, "File not found", http.StatusNotFound)
			return
		}
		s.writeServiceError(w, r, err)
		return
	}
	defer served.Close()

	h := w.Header()
	h.Set("Content-Type", "application/octet-stream")
	h.Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": served.DownloadName}))
	http.ServeContent(w, r, served.DownloadName, served.ModTime, served)
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	pending := 0
	if s.pending != nil {
		pending = s.pending()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":            "ok",
		"uptime":            time.Since(s.startedAt).Truncate(time.Second).String(),
		"pending_deletions": pending,
	})
}

func handleRobots(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, robotsTxt)
}

// writeServiceError logs the full error and sends only the generic message.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := downloader.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "path", r.URL.Path, "category", downloader.CategoryOf(err), "error", err)
	} else {
		s.logger.Info("request rejected", "path", r.URL.Path, "category", downloader.CategoryOf(err), "error", err)
	}
	writeJSONError(w, status, downloader.UserMessage(err))
}

type requestError struct {
	status  int
	message string
}

func (e *requestError) Error() string { return e.message }

// decodeURLRequest accepts a JSON body or the form field
// "tiktok_url", then validates the URL.
func (s *Server) decodeURLRequest(w http.ResponseWriter, r *http.Request) (urlRequest, *requestError) {
	var req urlRequest
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "application/json":
		if err := decodeJSONBody(w, r, &req); err != nil {
			return req, err
		}
	case "application/x-www-form-urlencoded", "multipart/form-data":
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
		req.URL = r.FormValue("tiktok_url")
		if req.URL == "" {
			req.URL = r.FormValue("url")
		}
	default:
		return req, &requestError{http.StatusUnsupportedMediaType, "content type must be application/json"}
	}
	req.URL = strings.TrimSpace(req.URL)

	if err := s.validate.Struct(req); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 && fieldErrs[0].Tag() == "required" {
			return req, &requestError{http.StatusBadRequest, "URL is required"}
		}
		return req, &requestError{http.StatusBadRequest, "Please enter a valid TikTok URL"}
	}
	return req, nil
}

func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any) *requestError {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			return &requestError{http.StatusRequestEntityTooLarge, "request body too large"}
		}
		return &requestError{http.StatusBadRequest, "invalid JSON payload"}
	}
	if err := dec.Decode(new(struct{})); err != io.EOF {
		return &requestError{http.StatusBadRequest, "invalid JSON payload"}
	}
	return nil
}

func baseURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto == "http" || proto == "https" {
		scheme = proto
	}
	return scheme + "://" + r.Host
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(payload)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

func withSecurityHeaders(next http.Handler) http.Handler {
	const cspValue = "default-src 'self'; base-uri 'self'; frame-ancestors 'none'; object-src 'none'; img-src 'self' data: https:; media-src 'self' blob:; connect-src 'self'"

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "no-referrer")
		w.Header().Set("Content-Security-Policy", cspValue)
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController and the websocket upgrader reach the
// underlying writer.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func (s *Server) withRequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ws" {
			next.ServeHTTP(w, r)
			return
		}
		started := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"elapsed", time.Since(started),
		)
	})
}
