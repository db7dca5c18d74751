package sections

import (
	"errors"
	"log/slog"
	"net/http"

	"architect-studio/common"
	"architect-studio/workflow"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// RespondError maps a domain error onto its HTTP status. Anything unknown is
// logged and reported as a 500 with fallback as the message.
func RespondError(c *gin.Context, logger *slog.Logger, err error, fallback string) {
	switch {
	case errors.Is(err, common.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, common.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
	case errors.Is(err, common.ErrQuotaExceeded):
		c.JSON(http.StatusForbidden, gin.H{
			"error":    err.Error(),
			"redirect": common.PRICING_REDIRECT,
		})
	case errors.Is(err, common.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, common.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, workflow.ErrPreconditionFailed), errors.Is(err, workflow.ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{"error": "resource is not in the expected state"})
	default:
		logger.Error(fallback, "error", err, "path", c.Request.URL.Path)
		c.JSON(http.StatusInternalServerError, gin.H{"error": fallback})
	}
}

// ParseID reads a uuid path parameter, replying 400 when it is malformed
func ParseID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return uuid.Nil, false
	}
	return id, true
}
