// Package server exposes the pipeline over HTTP.
package server

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"bladetrail/logger"
	"bladetrail/pipeline"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/tidwall/sjson"
	"golang.org/x/sync/semaphore"
)

// UploadField is the multipart field carrying the video.
const UploadField = "file"

var errNoUpload = errors.New("server: no video uploaded")

// Runner processes an uploaded video into a result file.
type Runner interface {
	Run(ctx context.Context, input string, tracks io.Writer) (*pipeline.Result, error)
}

// Options configure the server.
type Options struct {
	MaxUploadMB   int
	MaxConcurrent int
	TempDir       string
}

// Server serves the upload API backed by one Runner.
type Server struct {
	runner    Runner
	sem       *semaphore.Weighted
	maxUpload int64
	tempDir   string
}

// NewServer returns a Server; zero options take the config defaults.
func NewServer(runner Runner, opts Options) *Server {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 1
	}
	if opts.MaxUploadMB <= 0 {
		opts.MaxUploadMB = 512
	}
	return &Server{
		runner:    runner,
		sem:       semaphore.NewWeighted(int64(opts.MaxConcurrent)),
		maxUpload: int64(opts.MaxUploadMB) << 20,
		tempDir:   opts.TempDir,
	}
}

// ServeMux registers the API routes.
func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/beyblade-detection", s.detectHandler)
	mux.HandleFunc("/", s.homeHandler)
	return mux
}

// Handler returns the mux wrapped with request IDs.
func (s *Server) Handler() http.Handler {
	return withRequestID(s.ServeMux())
}

// ListenAndServe serves until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	log := logger.For("SERVER")
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infow("listening", logger.FieldAddress, addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return errors.Wrapf(err, "listen on %s", addr)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	log.Infow("shutting down", logger.FieldAddress, addr)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "shutdown")
	}
	return nil
}

type requestIDKey struct{}

func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewString()
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func (s *Server) homeHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	body, _ := sjson.Set(`{}`, "Hello", "World")
	w.Header().Set("Content-Type", "application/json")
	io.WriteString(w, body)
}

func (s *Server) detectHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	log := logger.For("SERVER").With(logger.FieldRequestID, requestID(r.Context()))
	start := time.Now()

	upload, err := s.saveUpload(w, r)
	if err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			http.Error(w, "Upload too large", http.StatusRequestEntityTooLarge)
		case errors.Is(err, errNoUpload):
			http.Error(w, "Missing video upload in field \"file\"", http.StatusBadRequest)
		default:
			log.Errorw("failed to store upload", logger.FieldError, err.Error())
			http.Error(w, "Failed to store upload", http.StatusInternalServerError)
		}
		return
	}
	defer os.Remove(upload)

	if err := s.sem.Acquire(r.Context(), 1); err != nil {
		// client went away while queued
		return
	}
	result, err := s.runner.Run(r.Context(), upload, nil)
	s.sem.Release(1)
	if err != nil {
		log.Errorw("pipeline failed", logger.FieldError, err.Error())
		http.Error(w, "Failed to process video", http.StatusInternalServerError)
		return
	}
	defer result.Cleanup()

	f, err := os.Open(result.Path)
	if err != nil {
		log.Errorw("failed to open result", logger.FieldError, err.Error(), logger.FieldPath, result.Path)
		http.Error(w, "Failed to read processed video", http.StatusInternalServerError)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "video/mp4")
	w.Header().Set("Content-Disposition", `inline; filename="output.mp4"`)
	http.ServeContent(w, r, "output.mp4", time.Time{}, f)

	log.Infow("request served",
		logger.FieldFrames, result.Stats.Frames,
		logger.FieldTracks, result.Stats.Tracks,
		"reencoded", result.Reencoded,
		logger.FieldDurationMS, logger.Since(start))
}

// saveUpload copies the multipart file into a temp file and returns its
// path.
func (s *Server) saveUpload(w http.ResponseWriter, r *http.Request) (string, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)

	file, header, err := r.FormFile(UploadField)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return "", err
		}
		return "", errors.Mark(errors.Wrap(err, "read upload"), errNoUpload)
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if ext == "" {
		ext = ".mp4"
	}
	dst, err := os.CreateTemp(s.tempDir, "bladetrail-upload-*"+ext)
	if err != nil {
		return "", errors.Wrap(err, "create upload file")
	}
	if _, err := io.Copy(dst, file); err != nil {
		dst.Close()
		os.Remove(dst.Name())
		return "", errors.Wrap(err, "store upload")
	}
	if err := dst.Close(); err != nil {
		os.Remove(dst.Name())
		return "", errors.Wrap(err, "close upload file")
	}
	return dst.Name(), nil
}
