package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/imrishuroy/go-clothing-orderflow/internal/inventory"
	"github.com/imrishuroy/go-clothing-orderflow/internal/orders"
	"github.com/imrishuroy/go-clothing-orderflow/internal/validation"
)

// writeError maps domain errors to status codes.
func writeError(c *gin.Context, logger *zap.Logger, err error) {
	switch {
	case validation.IsInvalidInput(err):
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_failed", "msg": err.Error()})
	case orders.IsInvalidOperation(err):
		c.JSON(http.StatusConflict, gin.H{"error": "invalid_operation", "msg": err.Error()})
	case errors.Is(err, orders.ErrStatusMismatch):
		c.JSON(http.StatusConflict, gin.H{"error": "status_conflict", "msg": err.Error()})
	case errors.Is(err, orders.ErrOrderNotFound),
		errors.Is(err, orders.ErrItemNotFound),
		errors.Is(err, orders.ErrCustomerNotFound),
		errors.Is(err, inventory.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "msg": err.Error()})
	default:
		logger.Error("request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
	}
}

// pathID parses the :id parameter. It writes a 400 and returns false when
// the value is not a positive integer.
func pathID(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_id", "msg": "id must be a positive integer"})
		return 0, false
	}
	return id, true
}
