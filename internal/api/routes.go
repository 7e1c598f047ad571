package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/chatrelay-project/chatrelay/internal/util"
)

// handlePing answers a liveness probe.
func (s *Server) handlePing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handleStatus reports uptime, host load, and registry counts.
func (s *Server) handleStatus(c *gin.Context) {
	rooms, participants := s.registry.Counts()

	status := gin.H{
		"uptime_sec":   int(time.Since(s.startedAt).Seconds()),
		"rooms":        rooms,
		"participants": participants,
		"system":       util.GetSystemInfo(),
	}
	if cpu, err := util.GetCPUUsage(); err == nil {
		status["cpu_percent"] = cpu
	}
	if mem, err := util.GetMemoryUsage(); err == nil {
		status["memory"] = mem
	}

	c.JSON(http.StatusOK, status)
}

// handleGetRooms returns a snapshot of all active rooms.
func (s *Server) handleGetRooms(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"rooms": s.registry.Snapshot()})
}

// handleGetRoom returns a snapshot of one room.
func (s *Server) handleGetRoom(c *gin.Context) {
	name := c.Param("name")
	for _, room := range s.registry.Snapshot() {
		if room.Name == name {
			c.JSON(http.StatusOK, room)
			return
		}
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
}

// handleRecentEvents returns the newest lifecycle journal entries.
func (s *Server) handleRecentEvents(c *gin.Context) {
	if s.journal == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "lifecycle journal is disabled"})
		return
	}

	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 && parsed <= 1000 {
			limit = parsed
		}
	}

	entries, err := s.journal.Recent(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": entries})
}
