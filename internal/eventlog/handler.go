package eventlog

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	v1 "github.com/sentra-lab/project-sentra/internal/api/v1"
	httperr "github.com/sentra-lab/project-sentra/internal/core/errors"
	"github.com/sentra-lab/project-sentra/internal/core/storage"
	"github.com/sentra-lab/project-sentra/internal/rules"
)

const (
	msgInvalidJSON    = "Invalid JSON body"
	msgPersistFailed  = "Failed to persist event"
	msgDuplicateEvent = "Event already exists"
)

// intakeError carries the structured HTTP error shape from a helper back to the orchestrator.
// Helpers return this instead of writing to gin.Context directly, keeping them decoupled from HTTP.
type intakeError struct {
	statusCode int
	errorType  string
	message    string
	details    interface{}
}

func (e *intakeError) Error() string {
	return e.message
}

// IngestHandler handles HTTP POST requests for event intake.
func (s *Service) IngestHandler(c *gin.Context) {
	evt, err := s.parseEvent(c)
	if err != nil {
		writeError(c, err)
		return
	}

	slog.Info("Received Event",
		"event_id", evt.ID,
		"event_type", evt.Type,
		"subject_kind", evt.Subject.Kind,
		"subject_id", evt.Subject.ID,
		"payload_size", c.Request.ContentLength)

	if err := s.recordEvent(c, evt); err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

// parseEvent binds and validates the event envelope. The body is capped while
// binding reads it, so an oversized request fails without buffering it whole.
func (s *Service) parseEvent(c *gin.Context) (*v1.Event, *intakeError) {
	maxBytes := int64(s.maxBodySizeBytes)
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)

	var evt v1.Event
	if err := c.ShouldBindJSON(&evt); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			slog.Warn("Request body exceeds maximum size",
				"content_length", c.Request.ContentLength, "max", maxBytes)
			return nil, &intakeError{
				statusCode: http.StatusRequestEntityTooLarge,
				errorType:  httperr.HttpInvalidJsonError,
				message:    "Request body exceeds maximum allowed size",
				details: map[string]interface{}{
					"max_size_mb": maxBytes / (1024 * 1024),
				},
			}
		}
		slog.Warn("Invalid JSON body received", "error", err)
		return nil, &intakeError{
			statusCode: http.StatusBadRequest,
			errorType:  httperr.HttpInvalidJsonError,
			message:    msgInvalidJSON,
		}
	}

	if err := evt.Validate(); err != nil {
		slog.Warn("Envelope validation failed", "error", err, "event_id", evt.ID)
		return nil, &intakeError{
			statusCode: http.StatusBadRequest,
			errorType:  httperr.HttpInvalidJsonError,
			message:    err.Error(),
		}
	}

	// intake time, not producer time
	evt.CreatedAt = time.Now().UTC()
	return &evt, nil
}

// recordEvent appends the event to the log, which fans it out to subscribers.
func (s *Service) recordEvent(c *gin.Context, evt *v1.Event) *intakeError {
	if err := s.log.Record(c.Request.Context(), evt); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			slog.Info("Duplicate event rejected", "event_id", evt.ID, "event_type", evt.Type)
			return &intakeError{
				statusCode: http.StatusConflict,
				errorType:  httperr.HttpDuplicateEventError,
				message:    msgDuplicateEvent,
			}
		}

		slog.Error("Failed to persist event", "error", err, "event_id", evt.ID)
		return &intakeError{
			statusCode: http.StatusInternalServerError,
			errorType:  httperr.HttpInternalError,
			message:    msgPersistFailed,
		}
	}

	return nil
}

// AuditHandler handles GET /v1/entities/:kind/:id/audit
// Query parameters: limit
func (s *Service) AuditHandler(c *gin.Context) {
	var uri struct {
		Kind string `uri:"kind" binding:"required"`
		ID   string `uri:"id" binding:"required"`
	}
	var query struct {
		Limit int `form:"limit"`
	}

	if err := c.ShouldBindUri(&uri); err != nil {
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpInvalidJsonError,
			Message:   "Invalid path parameters",
			Details:   err.Error(),
		})
		return
	}

	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpInvalidJsonError,
			Message:   "Invalid query parameters",
			Details:   err.Error(),
		})
		return
	}

	kind := v1.RefKind(uri.Kind)
	if !kind.Valid() || kind == v1.KindSystem {
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpInvalidJsonError,
			Message:   "Unknown entity kind",
			Details:   uri.Kind,
		})
		return
	}

	limit := query.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}

	entries, err := s.entities.ListAudit(c.Request.Context(), kind, uri.ID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, httperr.ErrorResponse{
			ErrorType: httperr.HttpInternalError,
			Message:   "Failed to query audit trail",
			Details:   err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"kind":    kind,
		"id":      uri.ID,
		"entries": entries,
	})
}

// dryRunRequest is the POST /v1/rules/evaluate body. Category is optional;
// empty means "all loaded categories".
type dryRunRequest struct {
	Event    v1.Event `json:"event"`
	Category string   `json:"category"`
}

// DryRunHandler evaluates an event against the loaded rules without executing
// any of the resulting actions.
func (s *Service) DryRunHandler(c *gin.Context) {
	var req dryRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpInvalidJsonError,
			Message:   msgInvalidJSON,
			Details:   err.Error(),
		})
		return
	}

	if err := req.Event.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, httperr.ErrorResponse{
			ErrorType: httperr.HttpInvalidJsonError,
			Message:   err.Error(),
		})
		return
	}

	bag := s.builder.Build(&req.Event)
	if bag == nil {
		c.JSON(http.StatusOK, gin.H{
			"relevant": false,
			"outcomes": []rules.Outcome{},
		})
		return
	}

	categories := s.rulesRepo.Categories()
	if req.Category != "" {
		categories = []string{req.Category}
	}

	outcomes := make([]rules.Outcome, 0, len(categories))
	for _, category := range categories {
		outcome, err := s.evaluator.Evaluate(c.Request.Context(), bag, rules.Options{
			Category: category,
			DryRun:   true,
		})
		if err != nil {
			c.JSON(http.StatusInternalServerError, httperr.ErrorResponse{
				ErrorType: httperr.HttpInternalError,
				Message:   "Rule evaluation failed",
				Details:   err.Error(),
			})
			return
		}
		outcomes = append(outcomes, *outcome)
	}

	c.JSON(http.StatusOK, gin.H{
		"relevant": true,
		"outcomes": outcomes,
	})
}

// writeError serializes an intakeError as the JSON HTTP response.
func writeError(c *gin.Context, err *intakeError) {
	c.JSON(err.statusCode, httperr.ErrorResponse{
		ErrorType: err.errorType,
		Message:   err.message,
		Details:   err.details,
	})
}
