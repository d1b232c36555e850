package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// GET /health/pipeline
func PipelineHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true, "status": "ready", "service": "kg-sidecar"})
}
