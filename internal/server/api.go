package server

import (
	"encoding/base64"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/franckalain/nutriratio/internal/models"
	"github.com/franckalain/nutriratio/internal/ratio"
	"github.com/franckalain/nutriratio/internal/scan"
)

type createScanRequest struct {
	Image string `json:"image" binding:"required,base64"`
}

type featureRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

type cleanupRequest struct {
	Before string `json:"before" binding:"required,datetime=2006-01-02"`
}

func (s *Server) createScan(c *gin.Context) {
	var req createScanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "image must be base64 encoded"})
		return
	}
	image, err := base64.StdEncoding.DecodeString(req.Image)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "image must be base64 encoded"})
		return
	}

	result, err := s.scanner.Process(c.Request.Context(), image)
	if err != nil {
		s.fail(c, "createScan", err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

func (s *Server) listScans(c *gin.Context) {
	limit := 0
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}
	items, err := s.scanner.History(c.Request.Context(), limit)
	if err != nil {
		s.fail(c, "listScans", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func (s *Server) getScan(c *gin.Context) {
	record, err := s.scanner.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, "getScan", err)
		return
	}
	c.JSON(http.StatusOK, record)
}

func (s *Server) updateScan(c *gin.Context) {
	var edit scan.Edit
	if err := c.ShouldBindJSON(&edit); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	record, err := s.scanner.Edit(c.Request.Context(), c.Param("id"), edit)
	if err != nil {
		s.fail(c, "updateScan", err)
		return
	}
	c.JSON(http.StatusOK, record)
}

func (s *Server) deleteScan(c *gin.Context) {
	if err := s.scanner.Delete(c.Request.Context(), c.Param("id")); err != nil {
		s.fail(c, "deleteScan", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) getReport(c *gin.Context) {
	report, err := s.scanner.Report(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, "getReport", err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (s *Server) getDaily(c *gin.Context) {
	day, err := s.parseDay(c.Param("date"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "date must be YYYY-MM-DD or today"})
		return
	}
	daily, err := s.scanner.Daily(c.Request.Context(), day)
	if err != nil {
		s.fail(c, "getDaily", err)
		return
	}
	c.JSON(http.StatusOK, daily)
}

func (s *Server) getTarget(c *gin.Context) {
	target, err := s.scanner.Target(c.Request.Context())
	if err != nil {
		s.fail(c, "getTarget", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"target": target})
}

func (s *Server) putTarget(c *gin.Context) {
	var target ratio.Triple
	if err := c.ShouldBindJSON(&target); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.scanner.SetTarget(c.Request.Context(), target); err != nil {
		s.fail(c, "putTarget", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"target": target})
}

func (s *Server) putFeature(c *gin.Context) {
	var req featureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "enabled must be true or false"})
		return
	}
	name := c.Param("name")
	if err := s.scanner.SetFeature(c.Request.Context(), name, *req.Enabled); err != nil {
		s.fail(c, "putFeature", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"name": name, "enabled": *req.Enabled})
}

func (s *Server) cleanup(c *gin.Context) {
	var req cleanupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "before must be YYYY-MM-DD"})
		return
	}
	before, err := s.parseDay(req.Before)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "before must be YYYY-MM-DD"})
		return
	}
	n, err := s.scanner.Cleanup(c.Request.Context(), before)
	if err != nil {
		s.fail(c, "cleanup", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": n})
}

// parseDay reads YYYY-MM-DD in local time. Empty and "today" mean now.
func (s *Server) parseDay(v string) (time.Time, error) {
	if v == "" || v == "today" {
		return s.now(), nil
	}
	return time.ParseInLocation(models.DateLayout, v, time.Local)
}
