// Copyright 2026 The ASDGPT Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package api

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/IAMCANADIAN-cyber/ASDGPT-sub000/internal/scheduler"
	"github.com/IAMCANADIAN-cyber/ASDGPT-sub000/internal/sensors"
)

// maxMetricsBody bounds metric payload reads.
const maxMetricsBody = 1 << 20

func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.engine.Status())
}

type setModeRequest struct {
	Mode string `json:"mode" binding:"required"`
}

func (s *Server) handleSetMode(c *gin.Context) {
	var req setModeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "mode is required"})
		return
	}
	if err := s.engine.SetMode(req.Mode); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"mode": s.engine.Mode()})
}

func (s *Server) handleCycleMode(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"mode": s.engine.CycleMode()})
}

func (s *Server) handlePauseToggle(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"mode": s.engine.TogglePauseResume()})
}

func (s *Server) handleInput(c *gin.Context) {
	s.engine.RegisterUserInput()
	c.JSON(http.StatusOK, gin.H{"mode": s.engine.Mode()})
}

type feedbackRequest struct {
	Value int `json:"value"`
}

func (s *Server) handleFeedback(c *gin.Context) {
	var req feedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid feedback body"})
		return
	}
	if req.Value == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "value must be non-zero"})
		return
	}
	s.engine.RegisterFeedback(req.Value)
	c.JSON(http.StatusOK, gin.H{"status": "recorded"})
}

func (s *Server) handleAudioMetrics(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxMetricsBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}
	s.engine.IngestAudio(sensors.ParseAudio(body, time.Now()))
	c.Status(http.StatusAccepted)
}

func (s *Server) handleVideoMetrics(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxMetricsBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}
	s.engine.IngestVideo(sensors.ParseVideo(body, time.Now()))
	c.Status(http.StatusAccepted)
}

func (s *Server) handleRecentInterventions(c *gin.Context) {
	records := s.sched.Recent(20)
	if records == nil {
		records = []scheduler.Record{}
	}
	c.JSON(http.StatusOK, gin.H{"interventions": records})
}
