package util

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// HealthCheckHandler returns a trivial liveness handler.
func HealthCheckHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "alive"})
	}
}
