// Package httpd implements the read-only status HTTP server: health,
// manifest counts, queue snapshot, and prometheus metrics. It never mutates
// pipeline state.
package httpd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	cmdcommon "github.com/vietspeech/kidcrawl/cmd/common"
	"github.com/vietspeech/kidcrawl/internal/manifest"
	"github.com/vietspeech/kidcrawl/internal/queue"
)

const shutdownTimeout = 10 * time.Second

// Command returns the httpd command for use in the root command.
func Command() *cobra.Command {
	return &cobra.Command{
		Use:   "httpd",
		Short: "Start the status HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return Start(cmd.Context())
		},
	}
}

// Start runs the status server until interrupted.
func Start(ctx context.Context) error {
	deps, err := cmdcommon.NewCommandDeps()
	if err != nil {
		return fmt.Errorf("failed to initialize dependencies: %w", err)
	}

	store := cmdcommon.NewManifestStore(deps)
	coordinator, err := cmdcommon.NewQueueCoordinator(deps, store)
	if err != nil {
		return fmt.Errorf("failed to create queue coordinator: %w", err)
	}

	if !deps.Config.App.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", handleHealth)
	router.GET("/api/v1/status", handleStatus(store))
	router.GET("/api/v1/queue", handleQueue(coordinator))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	server := &http.Server{
		Addr:         deps.Config.Server.Address,
		Handler:      router,
		ReadTimeout:  deps.Config.Server.ReadTimeout,
		WriteTimeout: deps.Config.Server.WriteTimeout,
		IdleTimeout:  deps.Config.Server.IdleTimeout,
	}

	errChan := make(chan error, 1)
	go func() {
		deps.Logger.Info("status server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case <-sigCtx.Done():
		deps.Logger.Info("shutting down status server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown failed: %w", err)
		}
		return nil
	}
}

func handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handleStatus reports manifest counts by status, classification and upload
// progress, and total collected duration.
func handleStatus(store *manifest.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		m, err := store.Load()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		byStatus := map[string]int{}
		var classified, qualified, uploaded int
		for i := range m.Records {
			r := &m.Records[i]
			byStatus[r.Status]++
			if r.ClassificationComplete() {
				classified++
			}
			if r.Qualified() {
				qualified++
			}
			if r.Uploaded {
				uploaded++
			}
		}

		c.JSON(http.StatusOK, gin.H{
			"records":                len(m.Records),
			"by_status":              byStatus,
			"classified":             classified,
			"qualified":              qualified,
			"uploaded":               uploaded,
			"total_duration_seconds": m.TotalDurationSeconds,
		})
	}
}

// handleQueue reports the queue partition and instance heartbeats.
func handleQueue(coordinator *queue.Coordinator) gin.HandlerFunc {
	return func(c *gin.Context) {
		qf, err := coordinator.Snapshot(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		processing := map[string]int{}
		for id, ids := range qf.Queue.Processing {
			processing[id] = len(ids)
		}
		instances := map[string]any{}
		for id, info := range qf.Instances {
			instances[id] = gin.H{
				"last_heartbeat": info.LastHeartbeat,
				"claimed":        len(info.ClaimedRecords),
			}
		}

		c.JSON(http.StatusOK, gin.H{
			"pending":    len(qf.Queue.Pending),
			"processing": processing,
			"completed":  len(qf.Queue.Completed),
			"failed":     len(qf.Queue.Failed),
			"instances":  instances,
		})
	}
}
