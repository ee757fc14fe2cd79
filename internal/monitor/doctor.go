// Package monitor collects a health report for the registry: row counts,
// on-disk file sizes, and host resource usage.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/process"
)

const reportCacheTTL = 2 * time.Second

// ThreadCounter reports registry row counts.
type ThreadCounter interface {
	CountThreads(ctx context.Context, userID string) (total int64, archived int64, err error)
}

// Report is the doctor output. Zero-valued sections mean the probe failed;
// failures are logged, not fatal.
type Report struct {
	CollectedAtMs int64  `json:"collected_at_ms"`
	Platform      string `json:"platform"`
	GoVersion     string `json:"go_version"`

	Registry RegistryReport `json:"registry"`
	Host     HostReport     `json:"host"`
}

type RegistryReport struct {
	DBPath          string `json:"db_path"`
	DBSizeBytes     int64  `json:"db_size_bytes"`
	WALSizeBytes    int64  `json:"wal_size_bytes"`
	ThreadsTotal    int64  `json:"threads_total"`
	ThreadsArchived int64  `json:"threads_archived"`

	CheckpointDBPath    string `json:"checkpoint_db_path,omitempty"`
	CheckpointSizeBytes int64  `json:"checkpoint_size_bytes,omitempty"`
	CheckpointPresent   bool   `json:"checkpoint_present"`
}

type HostReport struct {
	CPUUsage    float64   `json:"cpu_usage"`
	CPUCores    int       `json:"cpu_cores"`
	LoadAverage []float64 `json:"load_average,omitempty"`

	DiskTotalBytes  uint64  `json:"disk_total_bytes"`
	DiskFreeBytes   uint64  `json:"disk_free_bytes"`
	DiskUsedPercent float64 `json:"disk_used_percent"`

	ProcessRSSBytes uint64 `json:"process_rss_bytes"`
	ProcessPID      int32  `json:"process_pid"`
}

type Options struct {
	Log              *slog.Logger
	Store            ThreadCounter
	DBPath           string
	CheckpointDBPath string
	// UserID scopes the thread counts; empty means all users.
	UserID string
}

type Service struct {
	log   *slog.Logger
	store ThreadCounter

	dbPath           string
	checkpointDBPath string
	userID           string

	mu        sync.Mutex
	hasReport bool
	report    Report
}

func NewService(opts Options) (*Service, error) {
	if opts.Store == nil {
		return nil, errors.New("monitor: store is required")
	}
	dbPath := strings.TrimSpace(opts.DBPath)
	if dbPath == "" {
		return nil, errors.New("monitor: db path is required")
	}
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		log:              log,
		store:            opts.Store,
		dbPath:           dbPath,
		checkpointDBPath: strings.TrimSpace(opts.CheckpointDBPath),
		userID:           strings.TrimSpace(opts.UserID),
	}, nil
}

// Report returns the latest health report, re-collecting at most every
// reportCacheTTL.
func (s *Service) Report(ctx context.Context) (Report, error) {
	if s == nil {
		return Report{}, errors.New("monitor: nil service")
	}
	now := time.Now()

	s.mu.Lock()
	if s.hasReport && now.Sub(time.UnixMilli(s.report.CollectedAtMs)) < reportCacheTTL {
		out := s.report
		s.mu.Unlock()
		return out, nil
	}
	s.mu.Unlock()

	report, err := s.collect(ctx)
	if err != nil {
		return Report{}, err
	}

	s.mu.Lock()
	s.report = report
	s.hasReport = true
	s.mu.Unlock()

	return report, nil
}

func (s *Service) collect(ctx context.Context) (Report, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	collectedAt := time.Now()

	report := Report{
		CollectedAtMs: collectedAt.UnixMilli(),
		Platform:      runtime.GOOS,
		GoVersion:     runtime.Version(),
	}

	total, archived, err := s.store.CountThreads(ctx, s.userID)
	if err != nil {
		return Report{}, fmt.Errorf("count threads: %w", err)
	}
	report.Registry = RegistryReport{
		DBPath:          s.dbPath,
		DBSizeBytes:     fileSize(s.dbPath),
		WALSizeBytes:    fileSize(s.dbPath + "-wal"),
		ThreadsTotal:    total,
		ThreadsArchived: archived,
	}
	if s.checkpointDBPath != "" {
		report.Registry.CheckpointDBPath = s.checkpointDBPath
		report.Registry.CheckpointSizeBytes = fileSize(s.checkpointDBPath)
		report.Registry.CheckpointPresent = report.Registry.CheckpointSizeBytes > 0
	}

	report.Host = s.collectHost(ctx)
	return report, nil
}

func (s *Service) collectHost(ctx context.Context) HostReport {
	var host HostReport

	if usage, err := readCPUUsage(ctx); err == nil {
		host.CPUUsage = usage
	} else {
		s.log.Warn("doctor: get cpu percent failed", "error", err)
	}

	if cores, err := cpu.CountsWithContext(ctx, true); err == nil {
		host.CPUCores = cores
	} else {
		s.log.Warn("doctor: get cpu cores failed", "error", err)
	}

	if avg, err := load.AvgWithContext(ctx); err == nil && avg != nil {
		host.LoadAverage = []float64{avg.Load1, avg.Load5, avg.Load15}
	} else if err != nil {
		s.log.Warn("doctor: get load average failed", "error", err)
	}

	if usage, err := disk.UsageWithContext(ctx, filepath.Dir(s.dbPath)); err == nil && usage != nil {
		host.DiskTotalBytes = usage.Total
		host.DiskFreeBytes = usage.Free
		host.DiskUsedPercent = usage.UsedPercent
	} else if err != nil {
		s.log.Warn("doctor: get disk usage failed", "error", err)
	}

	pid := int32(os.Getpid())
	host.ProcessPID = pid
	if proc, err := process.NewProcessWithContext(ctx, pid); err == nil {
		if memInfo, err := proc.MemoryInfoWithContext(ctx); err == nil && memInfo != nil {
			host.ProcessRSSBytes = memInfo.RSS
		}
	} else {
		s.log.Warn("doctor: get process info failed", "error", err)
	}

	return host
}

func readCPUUsage(ctx context.Context) (float64, error) {
	var errs []error

	// Non-blocking: compare against the last call. Short-interval sampling can
	// return 0 on macOS due to coarse aggregated tick updates.
	if p, err := cpu.PercentWithContext(ctx, 0, true); err == nil && len(p) > 0 {
		return average(p), nil
	} else if err != nil {
		errs = append(errs, err)
	}
	if p, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(p) > 0 {
		return p[0], nil
	} else if err != nil {
		errs = append(errs, err)
	}

	// Fallback: a short blocking interval to bootstrap lastTimes.
	if p, err := cpu.PercentWithContext(ctx, 250*time.Millisecond, false); err == nil && len(p) > 0 {
		return p[0], nil
	} else if err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return 0, errors.Join(errs...)
	}
	return 0, fmt.Errorf("cpu percent unavailable")
}

func average(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func fileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}
