package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/franckalain/nutriratio/internal/database"
	"github.com/franckalain/nutriratio/internal/logger"
	"github.com/franckalain/nutriratio/internal/models"
	"github.com/franckalain/nutriratio/internal/ratio"
	"github.com/franckalain/nutriratio/internal/scan"
)

// Scanner is the scan workflow the transport exposes
type Scanner interface {
	Process(ctx context.Context, image []byte) (*scan.Result, error)
	Get(ctx context.Context, id string) (*models.ScanRecord, error)
	Edit(ctx context.Context, id string, edit scan.Edit) (*models.ScanRecord, error)
	Delete(ctx context.Context, id string) error
	Cleanup(ctx context.Context, before time.Time) (int64, error)
	Daily(ctx context.Context, day time.Time) (*models.DailyIntake, error)
	History(ctx context.Context, limit int) ([]*models.ScanRecord, error)
	Report(ctx context.Context, scanID string) (*models.ValidationReport, error)
	Target(ctx context.Context) (ratio.Triple, error)
	SetTarget(ctx context.Context, t ratio.Triple) error
	SetFeature(ctx context.Context, name string, on bool) error
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Server serves the websocket protocol and the REST API
type Server struct {
	scanner   Scanner
	log       logrus.FieldLogger
	engine    *gin.Engine
	staticDir string
	now       func() time.Time
}

// New builds the router. staticDir may be empty to serve no files.
func New(scanner Scanner, log logrus.FieldLogger, staticDir string, debug bool) *Server {
	if debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		scanner:   scanner,
		log:       log,
		engine:    gin.New(),
		staticDir: staticDir,
		now:       time.Now,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.engine
	r.Use(gin.Recovery(), requestLogger(s.log))

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	corsConfig.AddAllowMethods(http.MethodPatch)
	corsConfig.AddExposeHeaders("Content-Length")
	r.Use(cors.New(corsConfig))

	r.GET("/health", s.handleHealth)
	r.GET("/ws", s.handleWebSocket)

	api := r.Group("/api")
	api.POST("/scans", s.createScan)
	api.GET("/scans", s.listScans)
	api.GET("/scans/:id", s.getScan)
	api.PATCH("/scans/:id", s.updateScan)
	api.DELETE("/scans/:id", s.deleteScan)
	api.GET("/scans/:id/report", s.getReport)
	api.GET("/daily/:date", s.getDaily)
	api.GET("/settings/target", s.getTarget)
	api.PUT("/settings/target", s.putTarget)
	api.PUT("/settings/features/:name", s.putFeature)
	api.POST("/cleanup", s.cleanup)

	if s.staticDir != "" {
		r.NoRoute(gin.WrapH(http.FileServer(http.Dir(s.staticDir))))
	}
}

// Handler exposes the router
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start serves on port until ctx is cancelled, then drains in-flight
// requests for at most shutdownTimeout
func (s *Server) Start(ctx context.Context, port string, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.WithField("port", port).Info("starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.WithError(err).Warn("websocket upgrade failed")
		return
	}
	defer conn.Close()

	log := s.log.WithField("client", uuid.New().String())
	log.Debug("websocket client connected")

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.WithError(err).Warn("error reading message")
			}
			return
		}

		var msg wsMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			s.sendError(conn, "Invalid message format")
			continue
		}
		s.handleWebSocketMessage(c.Request.Context(), conn, msg)
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.String(http.StatusOK, "OK")
}

// statusFor maps workflow errors onto HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, database.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, scan.ErrEmptyImage),
		errors.Is(err, scan.ErrInvalidEdit),
		errors.Is(err, ratio.ErrInvalidRatio):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// publicMessage hides internal failures from clients
func publicMessage(err error, status int) string {
	if status == http.StatusInternalServerError {
		return "internal error"
	}
	return err.Error()
}

func (s *Server) fail(c *gin.Context, funcName string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logger.LogError(s.log, "server", funcName, c.Request.Method+" "+c.FullPath(), c.Param("id"), err)
	}
	c.JSON(status, gin.H{"error": publicMessage(err, status)})
}

func requestLogger(log logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.WithFields(logrus.Fields{
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"status":  c.Writer.Status(),
			"latency": time.Since(start).String(),
		}).Debug("request")
	}
}
