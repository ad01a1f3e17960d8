package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"prayer-bot/internal/scheduler"
)

// UpdateHandler processes Telegram updates delivered to the webhook.
type UpdateHandler interface {
	HandleUpdate(ctx context.Context, update tgbotapi.Update)
}

// Reminders exposes the orchestrator to the admin API.
type Reminders interface {
	Timers() []scheduler.TimerInfo
	NextRefresh() time.Time
	TriggerCancelAll() int
	RegenerateAll(ctx context.Context) (scheduler.CycleReport, error)
}

type Config struct {
	Addr string
	// WebhookSecret is the last path segment of the webhook URL. The webhook
	// route is disabled when empty.
	WebhookSecret string
	// AdminToken guards /api. The admin API is disabled when empty.
	AdminToken string
}

type Server struct {
	cfg       Config
	engine    *gin.Engine
	updates   UpdateHandler
	reminders Reminders
	logger    zerolog.Logger
}

func New(cfg Config, updates UpdateHandler, reminders Reminders, logger zerolog.Logger) *Server {
	s := &Server{
		cfg:       cfg,
		engine:    gin.New(),
		updates:   updates,
		reminders: reminders,
		logger:    logger.With().Str("component", "http").Logger(),
	}
	s.engine.Use(gin.Recovery(), s.requestLogger())
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) routes() {
	s.engine.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "success", "message": "Connected successfully!"})
	})
	s.engine.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})

	if s.cfg.WebhookSecret != "" && s.updates != nil {
		s.engine.POST("/webhook/:secret", s.handleWebhook)
	}

	if s.cfg.AdminToken != "" {
		api := s.engine.Group("/api", s.requireAdmin())
		api.GET("/timers", s.listTimers)
		api.POST("/timers/regenerate", s.regenerate)
		api.DELETE("/timers", s.cancelAll)
	}
}

func (s *Server) handleWebhook(c *gin.Context) {
	if !equal(c.Param("secret"), s.cfg.WebhookSecret) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	var update tgbotapi.Update
	if err := c.ShouldBindJSON(&update); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid update"})
		return
	}
	s.updates.HandleUpdate(c.Request.Context(), update)
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

func (s *Server) listTimers(c *gin.Context) {
	timers := s.reminders.Timers()
	c.JSON(http.StatusOK, gin.H{
		"count":        len(timers),
		"timers":       timers,
		"next_refresh": s.reminders.NextRefresh(),
	})
}

func (s *Server) regenerate(c *gin.Context) {
	report, err := s.reminders.RegenerateAll(c.Request.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("manual regeneration failed")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, report)
}

func (s *Server) cancelAll(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"cancelled": s.reminders.TriggerCancelAll()})
}

func (s *Server) requireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !equal(c.GetHeader("X-Admin-Token"), s.cfg.AdminToken) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug().
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("took", time.Since(start)).
			Msg("request")
	}
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.cfg.Addr).Msg("listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
