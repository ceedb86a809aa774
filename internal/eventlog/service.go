package eventlog

import (
	"github.com/gin-gonic/gin"
	"github.com/sentra-lab/project-sentra/internal/core/storage"
	"github.com/sentra-lab/project-sentra/internal/facts"
	"github.com/sentra-lab/project-sentra/internal/rules"
)

type Service struct {
	log              *Log
	entities         storage.EntityStore
	builder          *facts.Builder
	evaluator        *rules.Evaluator
	rulesRepo        rules.Repository
	maxBodySizeBytes int
}

func NewService(log *Log, entities storage.EntityStore, builder *facts.Builder, evaluator *rules.Evaluator, repo rules.Repository, maxBodySizeMB int) *Service {
	if log == nil {
		panic("eventlog: log must not be nil")
	}
	if entities == nil {
		panic("eventlog: entity store must not be nil")
	}
	if builder == nil {
		panic("eventlog: fact builder must not be nil")
	}
	if evaluator == nil {
		panic("eventlog: evaluator must not be nil")
	}
	if repo == nil {
		panic("eventlog: rules repository must not be nil")
	}
	if maxBodySizeMB <= 0 {
		maxBodySizeMB = 1 // default to 1MB
	}
	return &Service{
		log:              log,
		entities:         entities,
		builder:          builder,
		evaluator:        evaluator,
		rulesRepo:        repo,
		maxBodySizeBytes: maxBodySizeMB * 1024 * 1024,
	}
}

// RegisterRoutes registers the event intake and query routes.
func (s *Service) RegisterRoutes(r gin.IRouter) {
	r.POST("/v1/events", s.IngestHandler)
	r.GET("/v1/entities/:kind/:id/audit", s.AuditHandler)
	r.POST("/v1/rules/evaluate", s.DryRunHandler)
}
