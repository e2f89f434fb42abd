// Package api exposes the loop over HTTP for a browser front end.
package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tatianab/ai-game-assistant/internal/backend"
	"github.com/tatianab/ai-game-assistant/internal/loop"
	"github.com/tatianab/ai-game-assistant/internal/models"
)

type Handler struct {
	loop   *loop.Loop
	logger *slog.Logger
}

func NewHandler(l *loop.Loop) *Handler {
	return &Handler{loop: l, logger: slog.Default().With("component", "api")}
}

// NewRouter builds the gin engine serving the control API and the snapshot
// stream.
func NewRouter(l *loop.Loop) *gin.Engine {
	h := NewHandler(l)

	r := gin.New()
	r.Use(gin.Recovery(), h.requestLogger(), corsMiddleware())

	r.GET("/ws", h.Stream)

	api := r.Group("/api")
	{
		api.GET("/status", h.Status)
		api.GET("/screen", h.Screen)

		ai := api.Group("/ai")
		{
			ai.POST("/start", h.Start)
			ai.POST("/stop", h.Stop)
		}

		api.PUT("/goal", h.SetGoal)

		objectives := api.Group("/objectives")
		{
			objectives.POST("", h.AddObjective)
			objectives.PUT("/order", h.ReorderObjectives)
			objectives.POST("/:id/toggle", h.ToggleObjective)
			objectives.POST("/:id/move", h.MoveObjective)
			objectives.DELETE("/:id", h.DeleteObjective)
		}

		api.POST("/chat", h.Chat)

		api.GET("/settings", h.GetSettings)
		api.PUT("/settings", h.SaveSettings)
		api.GET("/models", h.ListModels)
		api.GET("/sessions", h.Sessions)

		api.POST("/rom", h.LoadROM)
		api.POST("/save_state", h.SaveState)
		api.POST("/load_state", h.LoadState)
	}
	return r
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept, Origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func (h *Handler) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		// The stream and the screen are polled constantly.
		if c.FullPath() == "/api/screen" || c.FullPath() == "/ws" {
			return
		}
		h.logger.Debug("request", "method", c.Request.Method, "path", c.Request.URL.Path, "status", c.Writer.Status())
	}
}

// statusFor maps loop, model and backend errors to HTTP statuses.
func statusFor(err error) int {
	var apiErr *backend.APIError
	switch {
	case errors.Is(err, loop.ErrNoROM),
		errors.Is(err, loop.ErrNoGoal),
		errors.Is(err, loop.ErrAlreadyRunning):
		return http.StatusConflict
	case errors.Is(err, loop.ErrEmptyObjective),
		errors.Is(err, models.ErrInvalidOrder):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrObjectiveNotFound):
		return http.StatusNotFound
	case errors.Is(err, backend.ErrUnreachable):
		return http.StatusBadGateway
	case errors.As(err, &apiErr):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func (h *Handler) fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", "path", c.Request.URL.Path, "error", err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}
