package monitor

import (
	"bufio"
	"context"
	"net/http"
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"nextcompete-api/config"
	"nextcompete-api/models"
)

var startedAt = time.Now()

// Status is the operational snapshot served to administrators.
type Status struct {
	Uptime          string `json:"uptime"`
	Goroutines      int    `json:"goroutines"`
	HeapAllocMB     uint64 `json:"heapAllocMB"`
	Database        string `json:"database"`
	PendingCleanups int64  `json:"pendingCleanups"`
	FailedCleanups  int64  `json:"failedCleanups"`
}

// Collect gathers runtime and database health, including the storage cleanup backlog.
func Collect(ctx context.Context, db *gorm.DB) Status {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	st := Status{
		Uptime:      time.Since(startedAt).Round(time.Second).String(),
		Goroutines:  runtime.NumGoroutine(),
		HeapAllocMB: mem.HeapAlloc / (1024 * 1024),
		Database:    "ok",
	}

	sqlDB, err := db.DB()
	if err == nil {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err = sqlDB.PingContext(pingCtx)
		cancel()
	}
	if err != nil {
		st.Database = "unreachable"
		return st
	}

	db.WithContext(ctx).Model(&models.StorageCleanupJob{}).
		Where("status = ?", models.CleanupPending).Count(&st.PendingCleanups)
	db.WithContext(ctx).Model(&models.StorageCleanupJob{}).
		Where("status = ?", models.CleanupFailed).Count(&st.FailedCleanups)
	return st
}

// RegisterRoutes mounts the status and log endpoints on an admin-only group.
func RegisterRoutes(group *gin.RouterGroup, db *gorm.DB) {
	group.GET("/monitor", func(c *gin.Context) {
		c.JSON(http.StatusOK, Collect(c.Request.Context(), db))
	})

	// GET /logs?lines=200 returns the tail of the log file
	group.GET("/logs", func(c *gin.Context) {
		lines := 200
		if v, err := strconv.Atoi(c.Query("lines")); err == nil && v > 0 && v <= 5000 {
			lines = v
		}
		tail, err := tailFile(config.LogFilePath(), lines)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Unable to read log"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"lines": tail})
	})
}

func tailFile(path string, n int) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	ring := make([]string, 0, n)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		if len(ring) == n {
			ring = ring[1:]
		}
		ring = append(ring, scanner.Text())
	}
	return ring, scanner.Err()
}
