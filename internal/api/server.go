// Copyright 2026 The ASDGPT Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package api exposes the local management surface: mode control, manual
// input and feedback registration, metric ingestion and status reporting.
// It binds to loopback by default and is the only remote surface the
// daemon offers.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"github.com/IAMCANADIAN-cyber/ASDGPT-sub000/internal/config"
	"github.com/IAMCANADIAN-cyber/ASDGPT-sub000/internal/engine"
	"github.com/IAMCANADIAN-cyber/ASDGPT-sub000/internal/scheduler"
)

// Server is the management HTTP server.
type Server struct {
	cfg    config.APIConfig
	engine *engine.Engine
	sched  *scheduler.Scheduler
	srv    *http.Server
}

// NewServer builds the server and its route table. debug switches gin out
// of release mode.
func NewServer(cfg config.APIConfig, eng *engine.Engine, sched *scheduler.Scheduler, debug bool) *Server {
	if !debug {
		gin.SetMode(gin.ReleaseMode)
	}
	s := &Server{
		cfg:    cfg,
		engine: eng,
		sched:  sched,
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(s.requestLogger())

	v1 := router.Group("/v1")
	if cfg.ManagementKeyHash != "" {
		v1.Use(s.requireManagementKey())
	}
	v1.GET("/status", s.handleStatus)
	v1.POST("/mode", s.handleSetMode)
	v1.POST("/mode/cycle", s.handleCycleMode)
	v1.POST("/pause-toggle", s.handlePauseToggle)
	v1.POST("/input", s.handleInput)
	v1.POST("/feedback", s.handleFeedback)
	v1.POST("/metrics/audio", s.handleAudioMetrics)
	v1.POST("/metrics/video", s.handleVideoMetrics)
	v1.GET("/interventions/recent", s.handleRecentInterventions)

	s.srv = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Start begins serving in a background goroutine.
func (s *Server) Start() {
	go func() {
		log.Infof("Management API listening on %s", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("Management API server stopped: %v", err)
		}
	}()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debugf("%s %s -> %d (%s)", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
	}
}

// requireManagementKey checks the X-Management-Key header against the
// configured bcrypt hash.
func (s *Server) requireManagementKey() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader("X-Management-Key")
		if key == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing management key"})
			return
		}
		if err := bcrypt.CompareHashAndPassword([]byte(s.cfg.ManagementKeyHash), []byte(key)); err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid management key"})
			return
		}
		c.Next()
	}
}
