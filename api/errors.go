package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/orders-platform/order-processing/apperr"
)

// statusForError maps an apperr.Kind to the HTTP status the command
// adapter returns (400 validation/domain, 404 unknown aggregate, 409
// conflict, 5xx storage/publish); the query adapter reuses it as-is.
func statusForError(err error) int {
	switch apperr.KindOf(err) {
	case apperr.KindValidation, apperr.KindDomain, apperr.KindSerialization:
		return http.StatusBadRequest
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindTimeout:
		return http.StatusGatewayTimeout
	case apperr.KindStorage, apperr.KindBus, apperr.KindExternal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes err as a JSON error body with the status
// statusForError maps its kind to, the way handlers write
// gin.H{"error": ...} bodies.
func respondError(c *gin.Context, err error) {
	c.JSON(statusForError(err), gin.H{"error": err.Error()})
}
