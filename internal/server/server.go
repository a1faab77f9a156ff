// Package server exposes prediction and Grad-CAM explanation over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"math"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nutriscan/nutriscan/internal/fault"
	"github.com/nutriscan/nutriscan/internal/predict"
	"github.com/nutriscan/nutriscan/internal/saliency"
)

// Upload form field holding the image.
const formField = "file"

// Defaults.
const (
	DefaultUploadDir     = "temp"
	DefaultMaxUploadSize = 10 << 20
)

// multipartSlack is the room left for multipart headers on top of the file
// size limit when capping the request body.
const multipartSlack = 64 << 10

// Server serves one loaded model. The model is read-only, so requests run
// concurrently.
type Server struct {
	predictor *predict.Predictor
	explainer *saliency.Explainer
	logger    *zap.Logger

	uploadDir string
	maxUpload int64
	version   string
	started   time.Time

	// save writes an upload to dst. Replaced in tests.
	save func(c *gin.Context, file *multipart.FileHeader, dst string) error

	engine *gin.Engine
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the request and error logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithUploadDir sets where uploads are staged while they are processed.
func WithUploadDir(dir string) Option {
	return func(s *Server) { s.uploadDir = dir }
}

// WithMaxUploadSize caps the accepted upload size in bytes.
func WithMaxUploadSize(n int64) Option {
	return func(s *Server) { s.maxUpload = n }
}

// WithVersion sets the version reported by /health.
func WithVersion(v string) Option {
	return func(s *Server) { s.version = v }
}

// New creates a Server and its routes.
func New(p *predict.Predictor, e *saliency.Explainer, opts ...Option) *Server {
	s := &Server{
		predictor: p,
		explainer: e,
		logger:    zap.NewNop(),
		uploadDir: DefaultUploadDir,
		maxUpload: DefaultMaxUploadSize,
		version:   "dev",
		started:   time.Now(),
		save:      saveUpload,
	}
	for _, opt := range opts {
		opt(s)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(s.logger))
	r.Use(cors())

	r.GET("/health", s.health)
	r.GET("/model", s.modelInfo)
	r.POST("/predict/", s.predict)
	r.POST("/explain/", s.explain)

	s.engine = r
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.engine }

// Run serves on addr until ctx is canceled, then shuts down gracefully
// within shutdownTimeout.
func (s *Server) Run(ctx context.Context, addr string, readTimeout, writeTimeout, shutdownTimeout time.Duration) error {
	if err := os.MkdirAll(s.uploadDir, 0o755); err != nil {
		return fault.Resource("server.Run", s.uploadDir, err)
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadTimeout:       readTimeout,
		ReadHeaderTimeout: readTimeout,
		WriteTimeout:      writeTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info("server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"version": s.version,
		"uptime":  time.Since(s.started).Round(time.Second).String(),
	})
}

func (s *Server) modelInfo(c *gin.Context) {
	info := s.predictor.Model().Describe()
	c.JSON(http.StatusOK, gin.H{
		"resolution":     info.Resolution,
		"labels":         info.Labels,
		"params":         info.Params,
		"layers":         info.Layers,
		"saliency_layer": s.explainer.Layer().Name,
	})
}

func (s *Server) predict(c *gin.Context) {
	path, ok := s.stageUpload(c)
	if !ok {
		return
	}
	defer s.removeUpload(path)

	res, err := s.predictor.PredictFile(path)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"prediction": res.Label.String(),
		"confidence": round4(res.Confidence),
	})
}

func (s *Server) explain(c *gin.Context) {
	path, ok := s.stageUpload(c)
	if !ok {
		return
	}
	defer s.removeUpload(path)

	res, err := s.explainer.ExplainFile(path)
	if err != nil {
		s.fail(c, err)
		return
	}

	c.Header("X-Prediction", res.Label.String())
	c.Header("X-Confidence", strconv.FormatFloat(round4(res.Confidence), 'f', -1, 64))
	c.Header("X-Saliency-Layer", res.Layer)
	c.Status(http.StatusOK)
	c.Header("Content-Type", "image/png")
	if err := saliency.WritePNG(c.Writer, res.Overlay); err != nil {
		_ = c.Error(err)
		s.logger.Error("failed to write overlay", zap.Error(err))
	}
}

// stageUpload saves the uploaded file under a random name and returns its
// path. On failure it has already written the error response.
func (s *Server) stageUpload(c *gin.Context) (string, bool) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.maxUpload+multipartSlack)
	file, err := c.FormFile(formField)
	if isBodyTooLarge(err) {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": fmt.Sprintf("file exceeds %d bytes", s.maxUpload)})
		return "", false
	}
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("missing upload field %q: %v", formField, err)})
		return "", false
	}
	if file.Size > s.maxUpload {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": fmt.Sprintf("file exceeds %d bytes", s.maxUpload)})
		return "", false
	}

	ext := strings.ToLower(filepath.Ext(file.Filename))
	path := filepath.Join(s.uploadDir, uuid.NewString()+ext)
	if err := os.MkdirAll(s.uploadDir, 0o755); err != nil {
		s.fail(c, fault.Resource("server.stageUpload", s.uploadDir, err))
		return "", false
	}
	if err := s.save(c, file, path); err != nil {
		s.removeUpload(path)
		s.fail(c, fault.Resource("server.stageUpload", path, err))
		return "", false
	}

	s.logger.Debug("file uploaded",
		zap.String("filename", file.Filename),
		zap.String("staged", path),
		zap.Int64("size", file.Size),
	)
	return path, true
}

func saveUpload(c *gin.Context, file *multipart.FileHeader, dst string) error {
	return c.SaveUploadedFile(file, dst)
}

func (s *Server) removeUpload(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.logger.Warn("failed to delete temp file", zap.String("file", path), zap.Error(err))
	}
}

// isBodyTooLarge reports whether err came from the MaxBytesReader cap.
// mime/multipart does not always wrap read errors, so the message is
// checked as well.
func isBodyTooLarge(err error) bool {
	if err == nil {
		return false
	}
	var tooLarge *http.MaxBytesError
	return errors.As(err, &tooLarge) || strings.Contains(err.Error(), "request body too large")
}

// fail writes an error response. Undecodable or wrongly shaped images are
// the client's fault; everything else is a server error.
func (s *Server) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	if fault.Is(err, fault.KindShape) {
		status = http.StatusBadRequest
	}
	_ = c.Error(err)
	s.logger.Error("request failed",
		zap.String("path", c.Request.URL.Path),
		zap.String("kind", fault.KindOf(err).String()),
		zap.Error(err),
	)
	c.JSON(status, gin.H{"error": err.Error()})
}

func round4(v float32) float64 {
	return math.Round(float64(v)*1e4) / 1e4
}
