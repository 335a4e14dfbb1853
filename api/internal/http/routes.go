// internal/http/routes.go
package httpx

import (
	"net/http"
	"path"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/rvnztolentino/road-defect-indexing-maps/api/config"
	"github.com/rvnztolentino/road-defect-indexing-maps/api/internal"
)

// Deps is everything the route handlers need. Store may be nil when no
// backend is configured; handlers degrade to empty results.
type Deps struct {
	Cfg     *config.Config
	Store   internal.ObjectStore
	Fetcher *internal.Fetcher
	Engine  *internal.Engine
	Filter  *internal.FilterState
}

func Routes(r *gin.Engine, d Deps) {
	// Defect list. A bare request is answered from the engine's merged
	// snapshot once it has completed a cycle; limit/since requests go
	// through the fetch service (limit clamped there, since is
	// strictly-greater filtering on ProcessingTimestamp).
	r.GET("/api/defects", func(c *gin.Context) {
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))

		var since time.Time
		if s := c.Query("since"); s != "" {
			t, err := time.Parse(time.RFC3339, s)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid since", "message": "since must be RFC 3339"})
				return
			}
			since = t
		}

		if limit <= 0 && since.IsZero() && !d.Engine.LastUpdated().IsZero() {
			snap := d.Engine.Snapshot()
			c.JSON(http.StatusOK, internal.DetectionsResp{Detections: snap.Detections})
			return
		}

		res, err := d.Fetcher.FetchDetections(c.Request.Context(), limit, since)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "fetch failed", "message": err.Error()})
			return
		}

		dets := res.Detections
		if dets == nil {
			dets = []internal.Detection{}
		}
		c.JSON(http.StatusOK, internal.DetectionsResp{Detections: dets, Skipped: res.Skipped})
	})

	// GeoJSON for the map layer, from the engine's current snapshot.
	// ?type= overrides the stored filter selection for this request only.
	// Registered before /api/defects/:id so "geojson" is not read as an id.
	r.GET("/api/defects/geojson", func(c *gin.Context) {
		defectType := c.Query("type")
		if defectType == "" {
			defectType = d.Filter.Get()
		}
		snap := d.Engine.Snapshot()
		c.JSON(http.StatusOK, internal.ToFeatureCollection(snap.Detections, defectType))
	})

	r.GET("/api/defects/recent", func(c *gin.Context) {
		limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
		if err != nil || limit <= 0 {
			limit = 50
		}
		if limit > 200 {
			limit = 200
		}
		c.JSON(http.StatusOK, gin.H{"detections": d.Engine.Recent(limit)})
	})

	r.GET("/api/defects/:id", func(c *gin.Context) {
		id := c.Param("id")
		if det, ok := d.Engine.Get(id); ok {
			c.JSON(http.StatusOK, det)
			return
		}

		// Engine may be cold right after startup; fall back to one
		// bounded read before declaring the id unknown.
		res, err := d.Fetcher.FetchDetections(c.Request.Context(), 0, time.Time{})
		if err == nil {
			for _, det := range res.Detections {
				if det.ID == id {
					c.JSON(http.StatusOK, det)
					return
				}
			}
		}
		c.JSON(http.StatusNotFound, gin.H{"error": "Defect not found"})
	})

	// Selected defect type, process-wide.
	r.GET("/api/filter", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"type": d.Filter.Get()})
	})

	r.PUT("/api/filter", func(c *gin.Context) {
		var body struct {
			Type string `json:"type"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		d.Filter.Set(body.Type)
		c.JSON(http.StatusOK, gin.H{"type": d.Filter.Get()})
	})

	// Manual refresh, sharing the timer's single-flight guard.
	r.POST("/api/refresh", func(c *gin.Context) {
		ran, err := d.Engine.Refresh(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "refresh failed", "message": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"ran":         ran,
			"held":        d.Engine.Count(),
			"lastUpdated": formatTime(d.Engine.LastUpdated()),
		})
	})

	// Readiness probe: which configuration values are present. Flags
	// only, never values.
	r.GET("/api/config", func(c *gin.Context) {
		ready := false
		if d.Store != nil {
			ready = d.Store.Ready(c.Request.Context()) == nil
		}
		c.JSON(http.StatusOK, internal.ConfigStatus{
			MapboxToken:      d.Cfg.MapboxAccessToken != "",
			ProjectID:        d.Cfg.GCPProjectID != "",
			BucketName:       d.Cfg.GCSBucketName != "",
			Region:           d.Cfg.GCSRegion != "",
			FolderPath:       d.Cfg.GCSFolderPath != "",
			Credentials:      d.Cfg.CredentialsFile != "" || (d.Cfg.ClientEmail != "" && d.Cfg.PrivateKey != ""),
			LocalStoreMode:   d.Cfg.LocalStoreDir != "",
			StoreReady:       ready,
			AlertsConfigured: d.Cfg.AlertWebhookURL != "",
		})
	})

	// Connectivity probe: counts by extension plus one sample parsed
	// record, so a misconfigured bucket is diagnosable without logs.
	r.GET("/api/test-gcs", func(c *gin.Context) {
		if d.Store == nil {
			c.JSON(http.StatusOK, gin.H{"ready": false, "message": "no object store configured"})
			return
		}
		if err := d.Store.Ready(c.Request.Context()); err != nil {
			c.JSON(http.StatusOK, gin.H{"ready": false, "message": err.Error()})
			return
		}

		keys, err := d.Store.List(c.Request.Context(), d.Cfg.GCSFolderPath, 100)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		counts := map[string]int{}
		var sampleKey string
		for _, k := range keys {
			ext := strings.ToLower(path.Ext(k))
			counts[ext]++
			if sampleKey == "" && ext == config.MetadataExt {
				sampleKey = k
			}
		}

		resp := gin.H{"ready": true, "fileCounts": counts, "listed": len(keys)}
		if sampleKey != "" {
			if data, err := d.Store.Read(c.Request.Context(), sampleKey); err == nil {
				if det, err := internal.ParseDetection(d.Cfg.GCSFolderPath, sampleKey, data); err == nil {
					resp["sample"] = det
				} else {
					resp["sampleError"] = err.Error()
				}
			}
		}
		c.JSON(http.StatusOK, resp)
	})

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.GET("/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"detections":  d.Engine.Count(),
			"lastUpdated": formatTime(d.Engine.LastUpdated()),
		})
	})

	// System metrics for the ops dashboard.
	r.GET("/api/system-metrics", func(c *gin.Context) {
		var m runtime.MemStats
		runtime.ReadMemStats(&m)

		metrics := gin.H{
			"program_memory_alloc_mb": float64(m.Alloc) / 1024 / 1024,
			"program_memory_sys_mb":   float64(m.Sys) / 1024 / 1024,
			"program_gc_cycles":       m.NumGC,
			"program_goroutines":      runtime.NumGoroutine(),
			"program_num_cpus":        runtime.NumCPU(),
			"held_detections":         d.Engine.Count(),
		}

		if memInfo, err := mem.VirtualMemory(); err == nil {
			metrics["system_memory_total_mb"] = float64(memInfo.Total) / (1024 * 1024)
			metrics["system_memory_used_mb"] = float64(memInfo.Used) / (1024 * 1024)
			metrics["system_memory_percent"] = memInfo.UsedPercent
		} else {
			metrics["system_memory_error"] = err.Error()
		}

		if diskInfo, err := disk.Usage("/"); err == nil {
			metrics["system_disk_total_mb"] = float64(diskInfo.Total) / (1024 * 1024)
			metrics["system_disk_used_mb"] = float64(diskInfo.Used) / (1024 * 1024)
			metrics["system_disk_percent"] = diskInfo.UsedPercent
		} else {
			metrics["system_disk_error"] = err.Error()
		}

		if cpuInfo, err := cpu.Percent(time.Second, false); err == nil && len(cpuInfo) > 0 {
			metrics["system_cpu_percent"] = cpuInfo[0]
		} else if err != nil {
			metrics["system_cpu_error"] = err.Error()
		}

		c.JSON(http.StatusOK, metrics)
	})
}

func formatTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t.Format(time.RFC3339)
}
