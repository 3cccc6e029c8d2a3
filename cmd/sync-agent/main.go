package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/kasirhub/pos_backend/config"
	"github.com/kasirhub/pos_backend/offlinequeue"
)

const defaultPort = "8090"

// The sync agent runs on the POS terminal next to the till UI. It owns the
// durable queue database and drains it toward the back office whenever the
// link is up. The till UI talks to it over localhost.
func main() {
	port := os.Getenv("SYNC_AGENT_PORT")
	if port == "" {
		port = defaultPort
	}

	logger := config.GetLogger()

	queuePath := os.Getenv("QUEUE_DB_PATH")
	if queuePath == "" {
		queuePath = filepath.Join(".", "offline-queue.db")
	}

	store, err := offlinequeue.Open(queuePath)
	if err != nil {
		logger.WithFields(logrus.Fields{"field": "queue", "path": queuePath}).Fatal(err)
	}
	defer store.Close()

	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	// Entries stuck in syncing are leftovers from a crash mid-pass. Their
	// idempotency keys are unchanged, so resubmitting is safe.
	if n, err := store.RequeueStuckSyncing(sigCtx); err != nil {
		config.LogError(logger, "SyncAgent", "main", "requeueStuckSyncing", nil, err)
	} else if n > 0 {
		logger.WithFields(logrus.Fields{"field": "queue", "requeued": n}).Warn("requeued entries stuck in syncing")
	}

	cfg := offlinequeue.ConfigFromEnv()
	submitter := offlinequeue.NewHTTPSubmitter("", cfg.RequestTimeout)
	scheduler := offlinequeue.NewScheduler(store, submitter, cfg, logger)

	go scheduler.Run(sigCtx)

	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	r.GET("/queue/status", func(c *gin.Context) {
		report, err := scheduler.Status(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, report)
	})

	r.GET("/queue/entries", func(c *gin.Context) {
		entries, err := store.List(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"entries": entries})
	})

	r.POST("/queue/orders", func(c *gin.Context) {
		var payload json.RawMessage
		if err := c.ShouldBindJSON(&payload); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		businessId := c.GetHeader("X-Business-Id")
		if businessId == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "X-Business-Id header is required"})
			return
		}
		shiftId := 0
		if v := c.Query("shift_id"); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				shiftId = n
			}
		}

		entry, err := store.Enqueue(c.Request.Context(), businessId, shiftId, payload)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		scheduler.Kick()
		c.JSON(http.StatusAccepted, entry)
	})

	r.DELETE("/queue/entries/:id", func(c *gin.Context) {
		id, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid entry id"})
			return
		}
		if err := store.Remove(c.Request.Context(), id); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.Status(http.StatusNoContent)
	})

	r.POST("/queue/sync", func(c *gin.Context) {
		scheduler.Kick()
		c.Status(http.StatusAccepted)
	})

	r.POST("/queue/online", func(c *gin.Context) {
		var body struct {
			Online bool `json:"online"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		scheduler.SetOnline(body.Online)
		c.Status(http.StatusAccepted)
	})

	srv := &http.Server{
		Addr:    "127.0.0.1:" + port,
		Handler: r,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- srv.ListenAndServe()
	}()

	logger.WithFields(logrus.Fields{"field": "agent", "port": port, "queue": queuePath}).Info("sync agent listening")

	select {
	case <-sigCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	case err := <-serverErrCh:
		if err != nil && err != http.ErrServerClosed {
			config.LogError(logger, "SyncAgent", "main", "listenAndServe", nil, err)
		}
	}
}
