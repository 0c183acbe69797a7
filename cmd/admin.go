package cmd

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/luma/lrcp/internal/meta"
	"github.com/luma/lrcp/session"
	"github.com/luma/lrcp/storage"
	"github.com/luma/lrcp/transport"
)

func setupRouter(debugHTTP bool, log *zap.Logger) *gin.Engine {
	gin.DisableConsoleColor()
	if !debugHTTP {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	// Add a ginzap middleware, which:
	//   - Logs all requests, like a combined access and error log.
	//   - Logs to stdout.
	//   - RFC3339 with UTC time format.
	r.Use(ginzap.GinzapWithConfig(log, &ginzap.Config{
		TimeFormat: time.RFC3339,
		UTC:        true,
		SkipPaths:  []string{"/ping"},
	}))

	// Logs all panic to error log
	//   - stack means whether output the stack info.
	r.Use(ginzap.RecoveryWithZap(log, true))

	return r
}

// registerAdminRoutes exposes the statistics in store over HTTP.
func registerAdminRoutes(router *gin.Engine, store storage.Store) {
	// Ping test
	router.GET("/ping", func(c *gin.Context) {
		c.String(http.StatusOK, "pong")
	})

	router.GET("/version", func(c *gin.Context) {
		c.JSON(http.StatusOK, meta.GetInfo())
	})

	router.GET("/server", func(c *gin.Context) {
		respondWithKey(c, store, transport.ServerStatsKey)
	})

	// Everything, server and sessions, as one document
	router.GET("/sessions", func(c *gin.Context) {
		doc, err := store.Backup()
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		c.Data(http.StatusOK, "application/json", doc)
	})

	router.GET("/sessions/:id", func(c *gin.Context) {
		id, err := strconv.ParseUint(c.Param("id"), 10, 32)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "session id must be an unsigned 32bit integer"})
			return
		}

		respondWithKey(c, store, session.StatsKey(uint32(id)))
	})
}

func respondWithKey(c *gin.Context, store storage.Store, key string) {
	value, err := store.Get(c.Request.Context(), []byte(key))
	if err != nil {
		if errors.Is(err, storage.ErrKeyNotFound) {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}

		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.Data(http.StatusOK, "application/json", value)
}
