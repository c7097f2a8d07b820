package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// healthz reports liveness plus DB reachability, in the gin.H{...} body
// idiom the rest of this package's handlers use for error responses.
func (s *Server) healthz(c *gin.Context) {
	status := http.StatusOK
	body := gin.H{"status": "ok"}

	sqlDB, err := s.db.DB()
	if err != nil || sqlDB.Ping() != nil {
		status = http.StatusServiceUnavailable
		body["status"] = "degraded"
		body["database"] = "unreachable"
	} else {
		body["database"] = "ok"
	}

	c.JSON(status, body)
}
