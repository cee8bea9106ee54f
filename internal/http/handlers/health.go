package handlers

import (
	"net/http"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cardpipe/cardpipe/internal/jobs/registry"
	"github.com/cardpipe/cardpipe/internal/platform/drain"
)

// HealthHandler reports the scheduler's load and the result volume's free
// space, per spec.md §6.1 and SPEC_FULL.md §4 item 1 (a low-disk warning is
// cheaper than discovering it mid-render).
type HealthHandler struct {
	reg              *registry.Registry
	resultDir        string
	minFreeDiskBytes int64
	startedAt        time.Time
	drainFlag        *drain.Flag
}

func NewHealthHandler(reg *registry.Registry, resultDir string, minFreeDiskBytes int64, startedAt time.Time, drainFlag *drain.Flag) *HealthHandler {
	return &HealthHandler{reg: reg, resultDir: resultDir, minFreeDiskBytes: minFreeDiskBytes, startedAt: startedAt, drainFlag: drainFlag}
}

func (h *HealthHandler) HealthCheck(c *gin.Context) {
	if h.drainFlag.Active() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "down"})
		return
	}

	lowDisk := false
	if free, err := freeDiskBytes(h.resultDir); err == nil && free < h.minFreeDiskBytes {
		lowDisk = true
	}

	scheme := "http"
	if c.Request.TLS != nil {
		scheme = "https"
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"url":    scheme + "://" + c.Request.Host,
		"workers": h.reg.Workers(),
		"queue":  h.reg.QueueDepth(),

		"queueCap":      h.reg.QueueCapacity(),
		"runningCount":  h.reg.RunningCount(),
		"uptimeSeconds": int(time.Since(h.startedAt).Seconds()),
		"lowDiskSpace":  lowDisk,
	})
}

func freeDiskBytes(path string) (int64, error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return 0, err
	}
	return int64(stat.Bavail) * int64(stat.Bsize), nil
}
