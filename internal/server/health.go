package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) Health(c *gin.Context) {
	if s.db != nil {
		sqlDB, err := s.db.DB()
		if err == nil {
			err = sqlDB.PingContext(c.Request.Context())
		}
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
