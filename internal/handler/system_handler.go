package handler

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"os"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/sertika/cbt-backend/internal/config"
	"github.com/sertika/cbt-backend/internal/middleware"
	"github.com/sertika/cbt-backend/internal/response"
)

const metricsInterval = 7 * time.Second

// SystemHandler streams host and process health to the assessor dashboard.
// Host numbers come straight from /proc, so they are Linux-only.
type SystemHandler struct {
	rdb     *redis.Client
	log     zerolog.Logger
	started time.Time
	cpu     cpuTracker
	model   string
}

func NewSystemHandler(rdb *redis.Client, log zerolog.Logger) *SystemHandler {
	h := &SystemHandler{
		rdb:     rdb,
		log:     log.With().Str("component", "system_handler").Logger(),
		started: time.Now(),
		model:   cpuModelName(),
	}
	h.cpu.sample()
	return h
}

type hostMetrics struct {
	CPUPercent  float64 `json:"cpu_percent"`
	CPUModel    string  `json:"cpu_model"`
	NumCPU      int     `json:"num_cpu"`
	MemUsed     uint64  `json:"mem_used_bytes"`
	MemTotal    uint64  `json:"mem_total_bytes"`
	MemPercent  float64 `json:"mem_percent"`
	DiskUsed    uint64  `json:"disk_used_bytes"`
	DiskTotal   uint64  `json:"disk_total_bytes"`
	DiskPercent float64 `json:"disk_percent"`
	Load1       float64 `json:"load_avg_1"`
	Load5       float64 `json:"load_avg_5"`
	Load15      float64 `json:"load_avg_15"`
}

type processMetrics struct {
	Goroutines int    `json:"goroutines"`
	HeapAlloc  uint64 `json:"heap_alloc"`
	HeapSys    uint64 `json:"heap_sys"`
	StackInuse uint64 `json:"stack_inuse"`
	NumGC      uint32 `json:"num_gc"`
	RSS        uint64 `json:"rss_bytes"`
	GoVersion  string `json:"go_version"`
}

type queueMetrics struct {
	Answers int64 `json:"answers"`
	Scores  int64 `json:"scores"`
	Events  int64 `json:"events"`
}

type systemMetrics struct {
	Timestamp int64          `json:"timestamp"`
	Uptime    string         `json:"uptime"`
	Host      hostMetrics    `json:"host"`
	Process   processMetrics `json:"process"`
	Queues    queueMetrics   `json:"queues"`
}

// SystemMetricsSSE godoc
// GET /api/v1/assessor/system/metrics
func (h *SystemHandler) SystemMetricsSSE(c *gin.Context) {
	if middleware.GetClaims(c) == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("Access-Control-Allow-Origin", "*")

	h.log.Info().Msg("Assessor attached to system metrics stream")
	defer h.log.Info().Msg("Assessor detached from system metrics stream")

	ticker := time.NewTicker(metricsInterval)
	defer ticker.Stop()

	for {
		c.SSEvent("metrics", h.collect(c.Request.Context()))
		c.Writer.Flush()

		select {
		case <-c.Request.Context().Done():
			return
		case <-ticker.C:
		}
	}
}

func (h *SystemHandler) collect(ctx context.Context) systemMetrics {
	m := systemMetrics{
		Timestamp: time.Now().Unix(),
		Uptime:    uptimeString(time.Since(h.started)),
		Host: hostMetrics{
			CPUPercent: h.cpu.usage(),
			CPUModel:   h.model,
			NumCPU:     runtime.NumCPU(),
		},
		Process: processMetrics{
			Goroutines: runtime.NumGoroutine(),
			GoVersion:  runtime.Version(),
		},
	}

	if total, avail, err := readMemInfo(); err == nil && total > 0 {
		m.Host.MemTotal = total
		m.Host.MemUsed = total - avail
		m.Host.MemPercent = float64(m.Host.MemUsed) / float64(total) * 100
	}
	if total, free, err := readDisk("/"); err == nil && total > 0 {
		m.Host.DiskTotal = total
		m.Host.DiskUsed = total - free
		m.Host.DiskPercent = float64(m.Host.DiskUsed) / float64(total) * 100
	}
	m.Host.Load1, m.Host.Load5, m.Host.Load15, _ = readLoadAvg()

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	m.Process.HeapAlloc = ms.HeapAlloc
	m.Process.HeapSys = ms.Sys
	m.Process.StackInuse = ms.StackInuse
	m.Process.NumGC = ms.NumGC
	m.Process.RSS, _ = readProcessRSS()

	pipe := h.rdb.Pipeline()
	answers := pipe.LLen(ctx, config.WorkerKey.PersistAnswersQueue)
	scores := pipe.LLen(ctx, config.WorkerKey.PersistScoresQueue)
	events := pipe.LLen(ctx, config.WorkerKey.PersistEventsQueue)
	if _, err := pipe.Exec(ctx); err == nil {
		m.Queues.Answers = answers.Val()
		m.Queues.Scores = scores.Val()
		m.Queues.Events = events.Val()
	}

	return m
}

// cpuTracker keeps the previous /proc/stat reading so usage can be computed
// as a delta between samples.
type cpuTracker struct {
	idle  uint64
	total uint64
}

func (t *cpuTracker) sample() (idle, total uint64) {
	data, err := os.ReadFile("/proc/stat")
	if err != nil {
		return t.idle, t.total
	}
	line, _, _ := strings.Cut(string(data), "\n")
	fields := strings.Fields(line)
	if len(fields) < 5 || fields[0] != "cpu" {
		return t.idle, t.total
	}
	for i, f := range fields[1:] {
		v, _ := strconv.ParseUint(f, 10, 64)
		total += v
		// cpu user nice system idle ...
		if i == 3 {
			idle = v
		}
	}
	t.idle, t.total = idle, total
	return idle, total
}

// usage returns the busy percentage since the previous sample.
func (t *cpuTracker) usage() float64 {
	prevIdle, prevTotal := t.idle, t.total
	idle, total := t.sample()
	if total <= prevTotal {
		return 0
	}
	busy := 1 - float64(idle-prevIdle)/float64(total-prevTotal)
	return busy * 100
}

func cpuModelName() string {
	f, err := os.Open("/proc/cpuinfo")
	if err != nil {
		return "unknown"
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if name, ok := strings.CutPrefix(sc.Text(), "model name"); ok {
			_, val, _ := strings.Cut(name, ":")
			return strings.TrimSpace(val)
		}
	}
	return "unknown"
}

func readMemInfo() (total, available uint64, err error) {
	f, err := os.Open("/proc/meminfo")
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() && (total == 0 || available == 0) {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "MemTotal:"):
			total = kilobytesField(line)
		case strings.HasPrefix(line, "MemAvailable:"):
			available = kilobytesField(line)
		}
	}
	return total, available, nil
}

// kilobytesField parses lines like "MemTotal: 16384000 kB" into bytes.
func kilobytesField(line string) uint64 {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return 0
	}
	v, _ := strconv.ParseUint(fields[1], 10, 64)
	return v * 1024
}

func readDisk(path string) (total, free uint64, err error) {
	var st syscall.Statfs_t
	if err := syscall.Statfs(path, &st); err != nil {
		return 0, 0, err
	}
	return st.Blocks * uint64(st.Bsize), st.Bavail * uint64(st.Bsize), nil
}

func readLoadAvg() (load1, load5, load15 float64, err error) {
	data, err := os.ReadFile("/proc/loadavg")
	if err != nil {
		return 0, 0, 0, err
	}
	fields := strings.Fields(string(data))
	if len(fields) < 3 {
		return 0, 0, 0, fmt.Errorf("unexpected /proc/loadavg format")
	}
	load1, _ = strconv.ParseFloat(fields[0], 64)
	load5, _ = strconv.ParseFloat(fields[1], 64)
	load15, _ = strconv.ParseFloat(fields[2], 64)
	return load1, load5, load15, nil
}

func readProcessRSS() (uint64, error) {
	f, err := os.Open("/proc/self/status")
	if err != nil {
		return 0, err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if strings.HasPrefix(sc.Text(), "VmRSS:") {
			return kilobytesField(sc.Text()), nil
		}
	}
	return 0, fmt.Errorf("VmRSS not found")
}

func uptimeString(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	mins := int(d.Minutes()) % 60
	secs := int(d.Seconds()) % 60

	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh %dm %ds", days, hours, mins, secs)
	case hours > 0:
		return fmt.Sprintf("%dh %dm %ds", hours, mins, secs)
	default:
		return fmt.Sprintf("%dm %ds", mins, secs)
	}
}
