package admin

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Server is the operator HTTP surface.
type Server struct {
	engine *gin.Engine
	http   *http.Server
	logger *slog.Logger
}

// NewServer builds the router. Without a token service the protected
// routes refuse every request.
func NewServer(addr string, h *Handler, tokens *TokenService, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(requestLogger(logger))

	public := engine.Group("/")
	protected := engine.Group("/")
	if tokens != nil {
		protected.Use(AuthMiddleware(tokens), RequireRole(RoleAdmin))
	} else {
		protected.Use(func(c *gin.Context) {
			c.JSON(http.StatusForbidden, gin.H{"error": "admin token secret is not configured"})
			c.Abort()
		})
	}
	h.RegisterRoutes(public, protected)

	return &Server{
		engine: engine,
		http: &http.Server{
			Addr:              addr,
			Handler:           engine,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger,
	}
}

// EnableLogin exposes POST /login. Call before serving.
func (s *Server) EnableLogin(l *Login) {
	s.engine.POST("/login", l.Handle)
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

// Serve accepts on l until Shutdown; a clean shutdown returns nil.
func (s *Server) Serve(l net.Listener) error {
	s.logger.Info("admin_api_started", "addr", l.Addr().String())
	if err := s.http.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ListenAndServe binds the configured address and serves.
func (s *Server) ListenAndServe() error {
	l, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return err
	}
	return s.Serve(l)
}

func (s *Server) Shutdown(ctx context.Context) error {
	err := s.http.Shutdown(ctx)
	s.logger.Info("admin_api_stopped")
	return err
}

// requestLogger logs one line per request and hands the logger to handlers.
func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Set("logger", logger)
		c.Next()

		logger.Info("http_request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"client_ip", c.ClientIP(),
		)
	}
}

func loggerFrom(c *gin.Context) *slog.Logger {
	if v, ok := c.Get("logger"); ok {
		if l, ok := v.(*slog.Logger); ok {
			return l
		}
	}
	return slog.Default()
}
