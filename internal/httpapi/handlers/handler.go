package handlers

import (
	"context"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/halcyonwood/inkwell/internal/backend"
	"github.com/halcyonwood/inkwell/internal/config"
	"github.com/halcyonwood/inkwell/internal/events"
	"github.com/halcyonwood/inkwell/internal/generate"
	"github.com/halcyonwood/inkwell/internal/httpapi/middleware"
	"github.com/halcyonwood/inkwell/internal/logger"
	"github.com/halcyonwood/inkwell/internal/roleplay"
)

// JobPublisher enqueues a draft job for the worker. Satisfied by the
// rabbitmq publisher in production and by fakes in tests.
type JobPublisher interface {
	PublishJob(ctx context.Context, jobID string) error
}

type Handler struct {
	DB       *gorm.DB
	Repo     *roleplay.Repo
	Cfg      config.Config
	Hub      *events.Hub
	Registry *backend.Registry
	Gen      *generate.Orchestrator
	Rabbit   JobPublisher
	Log      *logger.Logger
}

type Deps struct {
	DB       *gorm.DB
	Cfg      config.Config
	Hub      *events.Hub
	Sink     events.Sink
	Registry *backend.Registry
	Rabbit   JobPublisher
	Log      *logger.Logger
}

func NewHandler(d Deps) *Handler {
	if d.Log == nil {
		d.Log = logger.Nop()
	}
	repo := roleplay.NewRepo(d.DB)
	sink := d.Sink
	if sink == nil {
		sink = d.Hub
	}
	return &Handler{
		DB:       d.DB,
		Repo:     repo,
		Cfg:      d.Cfg,
		Hub:      d.Hub,
		Registry: d.Registry,
		Gen:      generate.NewOrchestrator(repo, d.Registry, sink, d.Log, d.Cfg.MaxAutoTurnFactor),
		Rabbit:   d.Rabbit,
		Log:      d.Log.With("component", "httpapi"),
	}
}

func (h *Handler) Ping(c *gin.Context) {
	c.JSON(200, gin.H{"code": 0, "message": "pong"})
}

func userIDFromContext(c *gin.Context) (uint64, bool) {
	v, ok := c.Get(middleware.UserIDKey)
	if !ok {
		return 0, false
	}
	id, ok := v.(uint64)
	return id, ok
}
