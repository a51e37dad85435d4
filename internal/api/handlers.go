package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ingestion-agent/internal/manager"
	"github.com/ingestion-agent/internal/models"
	"github.com/ingestion-agent/internal/provider"
	"github.com/ingestion-agent/internal/store"
	"github.com/ingestion-agent/pkg/logger"
)

// API exposes the lifecycle manager over HTTP: task CRUD, manual triggers,
// the cron tick entry point and the webhook ingress surface.
type API struct {
	manager *manager.Manager
	log     *logger.Logger
}

// New creates the API layer
func New(mgr *manager.Manager, log *logger.Logger) *API {
	return &API{manager: mgr, log: log.WithComponent("api")}
}

// RegisterRoutes registers API routes on the provided gin engine
func (a *API) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api/v1")
	{
		api.POST("/tasks", a.ScheduleTask)
		api.GET("/tasks", a.ListTasks)
		api.GET("/tasks/:id", a.GetTask)
		api.PATCH("/tasks/:id", a.UpdateTask)
		api.DELETE("/tasks/:id", a.DeleteTask)
		api.POST("/tasks/:id/enable", a.EnableTask)
		api.POST("/tasks/:id/disable", a.DisableTask)
		api.POST("/tasks/:id/trigger", a.TriggerTask)
		api.POST("/cron/tick", a.CronTick)
	}
	router.POST("/webhooks/*endpoint", a.Webhook)
	router.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})
}

type updateTaskRequest struct {
	Name        *string            `json:"name"`
	Enabled     *bool              `json:"enabled"`
	Source      *models.PluginSpec `json:"source"`
	Destination *models.PluginSpec `json:"destination"`
	Trigger     *models.Trigger    `json:"trigger"`
}

// ScheduleTask creates a new task
func (a *API) ScheduleTask(c *gin.Context) {
	var task models.Task
	if err := c.ShouldBindJSON(&task); err != nil {
		a.log.Warn().Err(err).Msg("Invalid task definition")
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid task definition"})
		return
	}

	created, err := a.manager.ScheduleTask(c.Request.Context(), &task)
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

// ListTasks returns all tasks
func (a *API) ListTasks(c *gin.Context) {
	tasks, err := a.manager.ListTasks(c.Request.Context())
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, tasks)
}

// GetTask returns one task
func (a *API) GetTask(c *gin.Context) {
	task, err := a.manager.GetTask(c.Request.Context(), c.Param("id"))
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

// UpdateTask applies a partial update
func (a *API) UpdateTask(c *gin.Context) {
	var req updateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid update request"})
		return
	}

	patch := store.TaskPatch{
		Name:        req.Name,
		Enabled:     req.Enabled,
		Source:      req.Source,
		Destination: req.Destination,
		Trigger:     req.Trigger,
	}
	task, err := a.manager.UpdateTask(c.Request.Context(), c.Param("id"), patch)
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

// DeleteTask removes a task
func (a *API) DeleteTask(c *gin.Context) {
	if err := a.manager.DeleteTask(c.Request.Context(), c.Param("id")); err != nil {
		a.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// EnableTask enables a task
func (a *API) EnableTask(c *gin.Context) {
	task, err := a.manager.EnableTask(c.Request.Context(), c.Param("id"))
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

// DisableTask disables a task
func (a *API) DisableTask(c *gin.Context) {
	task, err := a.manager.DisableTask(c.Request.Context(), c.Param("id"))
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

// TriggerTask fires a manual run
func (a *API) TriggerTask(c *gin.Context) {
	var payload models.JSON
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&payload); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
			return
		}
	}

	status, err := a.manager.TriggerManual(c.Request.Context(), c.Param("id"), payload)
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

// CronTick is the external scheduler's entry point
func (a *API) CronTick(c *gin.Context) {
	result, err := a.manager.TriggerAllEnabledCronTasks(c.Request.Context())
	if err != nil {
		a.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// Webhook receives provider callbacks and forwards them to dispatch
func (a *API) Webhook(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}

	result, err := a.manager.TriggerWebhook(c.Request.Context(), c.Param("endpoint"), body, c.Request.Header)
	if err != nil {
		a.log.Error().Err(err).Msg("Webhook dispatch failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "dispatch failed"})
		return
	}

	resp := gin.H{"message": result.Message}
	if result.RunStatus != nil {
		resp["run_status"] = result.RunStatus
	}
	c.JSON(result.HTTPStatus, resp)
}

// fail maps domain errors onto HTTP status codes
func (a *API) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, store.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, manager.ErrTaskDisabled):
		status = http.StatusForbidden
	case errors.Is(err, manager.ErrTaskRunning):
		status = http.StatusConflict
	case errors.Is(err, manager.ErrUnknownPlugin), errors.Is(err, manager.ErrUnsupportedSource):
		status = http.StatusBadRequest
	case errors.Is(err, provider.ErrUnauthorized):
		status = http.StatusUnauthorized
	case errors.Is(err, provider.ErrUnsupportedSource):
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		a.log.Error().Err(err).Msg("Request failed")
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
